package mcp

import "time"

// Argument extraction helpers. MCP arguments arrive as decoded JSON, so
// numbers are float64; the getters also take native Go values so tests can
// call Execute directly.

func getStringArg(args map[string]interface{}, key string) (string, bool) {
	value, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

func getIntArg(args map[string]interface{}, key string) (int, bool) {
	value, ok := args[key]
	if !ok {
		return 0, false
	}
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func getBoolArg(args map[string]interface{}, key string) (bool, bool) {
	value, ok := args[key]
	if !ok {
		return false, false
	}
	b, ok := value.(bool)
	return b, ok
}

// getIntSliceArg reads an array argument of indices. Elements that are not
// numbers are skipped rather than failing the whole call.
func getIntSliceArg(args map[string]interface{}, key string) ([]int, bool) {
	value, ok := args[key]
	if !ok {
		return nil, false
	}
	raw, ok := value.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case int:
			out = append(out, v)
		case int64:
			out = append(out, int(v))
		case float64:
			out = append(out, int(v))
		}
	}
	return out, true
}

// getDurationArg reads a seconds-valued argument as a duration.
func getDurationArg(args map[string]interface{}, key string) (time.Duration, bool) {
	seconds, ok := getIntArg(args, key)
	if !ok || seconds <= 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}
