package mcp

import (
	"fmt"
	"strings"
)

// ValidationReason classifies why a tool call was rejected before execution.
type ValidationReason string

const (
	ReasonMissingField         ValidationReason = "missing-field"
	ReasonWrongType            ValidationReason = "wrong-type"
	ReasonNotInEnum            ValidationReason = "not-in-enum"
	ReasonConfirmationRequired ValidationReason = "confirmation-required"
)

// ValidationError rejects a tool call before anything touches the browser
// session. A rejected call never becomes a queued operation.
type ValidationError struct {
	Tool   string
	Field  string
	Reason ValidationReason
	Detail string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("tool %s: field %q: %s", e.Tool, e.Field, e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// validateArgs checks call arguments against the tool's declared input
// schema. It covers the subset of JSON Schema the definitions here use:
// required fields, primitive types, and enum membership. Arguments the
// schema does not declare pass through untouched, since MCP clients like to
// send extras.
func validateArgs(tool string, schema, args map[string]interface{}) error {
	for _, name := range requiredFields(schema) {
		if _, present := args[name]; !present {
			return &ValidationError{Tool: tool, Field: name, Reason: ReasonMissingField}
		}
	}

	properties, _ := schema["properties"].(map[string]interface{})
	for name, value := range args {
		prop, ok := properties[name].(map[string]interface{})
		if !ok {
			continue
		}
		if err := checkType(tool, name, prop, value); err != nil {
			return err
		}
		if err := checkEnum(tool, name, prop, value); err != nil {
			return err
		}
	}
	return nil
}

// requireConfirm guards destructive tools. The call is rejected unless the
// arguments carry confirm=true.
func requireConfirm(tool string, args map[string]interface{}) error {
	if confirmed, _ := getBoolArg(args, "confirm"); confirmed {
		return nil
	}
	return &ValidationError{
		Tool:   tool,
		Field:  "confirm",
		Reason: ReasonConfirmationRequired,
		Detail: "set confirm=true to run this destructive call",
	}
}

func requiredFields(schema map[string]interface{}) []string {
	// Schemas built in Go carry []string; schemas decoded from JSON carry
	// []interface{}. Accept both.
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func checkType(tool, field string, prop map[string]interface{}, value interface{}) error {
	declared, _ := prop["type"].(string)
	if declared == "" || typeMatches(declared, value) {
		return nil
	}
	return &ValidationError{
		Tool:   tool,
		Field:  field,
		Reason: ReasonWrongType,
		Detail: fmt.Sprintf("expected %s, got %T", declared, value),
	}
}

func typeMatches(declared string, value interface{}) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "integer", "number":
		// JSON decoding always yields float64; direct callers pass ints.
		switch value.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	}
	return true
}

func checkEnum(tool, field string, prop map[string]interface{}, value interface{}) error {
	allowed := enumValues(prop)
	if len(allowed) == 0 {
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return nil
	}
	for _, candidate := range allowed {
		if candidate == s {
			return nil
		}
	}
	return &ValidationError{
		Tool:   tool,
		Field:  field,
		Reason: ReasonNotInEnum,
		Detail: fmt.Sprintf("%q is not one of: %s", s, strings.Join(allowed, ", ")),
	}
}

func enumValues(prop map[string]interface{}) []string {
	switch vals := prop["enum"].(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, v := range vals {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
