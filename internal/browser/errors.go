package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SessionReason classifies why the authenticated session cannot serve work.
type SessionReason string

const (
	// SessionNotAuthenticated: no usable artifact exists. Remediation is the auth CLI.
	SessionNotAuthenticated SessionReason = "not-authenticated"
	// SessionExpired: the product redirected us to the sign-in flow mid-session.
	SessionExpired SessionReason = "expired"
	// SessionUnavailable: the browser context cannot be started or reached.
	SessionUnavailable SessionReason = "unavailable"
)

// SessionError is surfaced to callers with a remediation hint.
type SessionError struct {
	Reason SessionReason
	Hint   string
	Err    error
}

func (e *SessionError) Error() string {
	msg := fmt.Sprintf("session %s", e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *SessionError) Unwrap() error { return e.Err }

// NewSessionError builds a SessionError with the standard remediation hint for
// its reason.
func NewSessionError(reason SessionReason, err error) *SessionError {
	hint := ""
	switch reason {
	case SessionNotAuthenticated, SessionExpired:
		hint = "run `nlmauth login` to refresh credentials"
	case SessionUnavailable:
		hint = "check that Chrome can start and retry"
	}
	return &SessionError{Reason: reason, Hint: hint, Err: err}
}

// AutomationReason classifies low-level browser automation failures.
type AutomationReason string

const (
	AutomationTimeout  AutomationReason = "timeout"
	AutomationNotFound AutomationReason = "not-found"
	AutomationDetached AutomationReason = "detached"
)

// AutomationError wraps a failed adapter primitive with enough context to
// debug selector drift.
type AutomationError struct {
	Reason   AutomationReason
	Action   string
	Selector string
	Err      error
}

func (e *AutomationError) Error() string {
	msg := fmt.Sprintf("automation %s during %s", e.Reason, e.Action)
	if e.Selector != "" {
		msg += fmt.Sprintf(" (selector %q)", e.Selector)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AutomationError) Unwrap() error { return e.Err }

// classifyAutomationError maps raw Rod/CDP failures onto the adapter's error
// contract. Rod does not expose typed errors for most of these, so this works
// the same way JS error classification does: by message.
func classifyAutomationError(action, selector string, err error) *AutomationError {
	if err == nil {
		return nil
	}

	reason := AutomationNotFound
	errStr := err.Error()

	switch {
	case errors.Is(err, context.DeadlineExceeded),
		strings.Contains(errStr, "context deadline exceeded"),
		strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "Timeout"):
		reason = AutomationTimeout
	case strings.Contains(errStr, "Cannot find context with specified id"),
		strings.Contains(errStr, "Session closed"),
		strings.Contains(errStr, "target closed"),
		strings.Contains(errStr, "websocket"),
		strings.Contains(errStr, "connection"),
		errors.Is(err, context.Canceled):
		reason = AutomationDetached
	case strings.Contains(errStr, "cannot find element"),
		strings.Contains(errStr, "element not found"),
		strings.Contains(errStr, "not found"):
		reason = AutomationNotFound
	}

	return &AutomationError{Reason: reason, Action: action, Selector: selector, Err: err}
}

// IsAutomationTimeout reports whether err is an adapter timeout.
func IsAutomationTimeout(err error) bool {
	var ae *AutomationError
	return errors.As(err, &ae) && ae.Reason == AutomationTimeout
}

// IsDetached reports whether err means the page or browser went away.
func IsDetached(err error) bool {
	var ae *AutomationError
	return errors.As(err, &ae) && ae.Reason == AutomationDetached
}
