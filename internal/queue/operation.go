// Package queue serializes automation work against the single browser
// context. Writes run strictly one at a time in submission order; read-only
// work runs on a small concurrent side lane so status polls are not starved
// by long mutations.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind routes an operation to the write lane or the read lane.
type Kind string

const (
	// KindWrite mutates remote state. Writes are strictly serialized: an
	// earlier write's effects complete before a later write begins.
	KindWrite Kind = "write"
	// KindRead observes remote state without changing it. Reads may run
	// concurrently with each other up to the configured lane size.
	KindRead Kind = "read"
)

// Func is the work an operation performs against the live session. The
// context carries the operation deadline; implementations must respect it.
type Func func(ctx context.Context) (interface{}, error)

// Operation is one unit of queued automation work.
type Operation struct {
	ID       string
	Kind     Kind
	Name     string
	Deadline time.Duration
	fn       Func
}

// NewOperation builds an operation with a generated id. Every operation
// carries a deadline; Submit rejects zero.
func NewOperation(kind Kind, name string, deadline time.Duration, fn Func) *Operation {
	return &Operation{
		ID:       uuid.NewString(),
		Kind:     kind,
		Name:     name,
		Deadline: deadline,
		fn:       fn,
	}
}

// Result is the outcome delivered to the submitter.
type Result struct {
	Value interface{}
	Err   error
}

// OperationReason classifies queue-level operation failures.
type OperationReason string

const (
	// ReasonTimeout means the operation exceeded its deadline. The lane
	// itself survives and continues with the next operation.
	ReasonTimeout OperationReason = "timeout"
	// ReasonCancelled means the operation was cancelled while queued, or
	// best-effort interrupted while running.
	ReasonCancelled OperationReason = "cancelled"
	// ReasonAutomationFailure means the underlying browser automation failed.
	ReasonAutomationFailure OperationReason = "automation-failure"
)

// OperationError is the failure surface for queued work.
type OperationError struct {
	Reason OperationReason
	OpID   string
	Name   string
	Err    error
}

func (e *OperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("operation %s (%s) %s: %v", e.Name, e.OpID, e.Reason, e.Err)
	}
	return fmt.Sprintf("operation %s (%s) %s", e.Name, e.OpID, e.Reason)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is an operation timeout.
func IsTimeout(err error) bool {
	var opErr *OperationError
	return errors.As(err, &opErr) && opErr.Reason == ReasonTimeout
}

// IsCancelled reports whether err is an operation cancellation.
func IsCancelled(err error) bool {
	var opErr *OperationError
	return errors.As(err, &opErr) && opErr.Reason == ReasonCancelled
}
