// Package jobs tracks long-running remote work (source ingestion, research
// sweeps, studio generation) as explicit polled state machines. The tracker
// owns state progression; callers only ever see forward movement.
package jobs

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies which remote pipeline a job belongs to.
type Kind string

const (
	KindIngest   Kind = "ingest"
	KindResearch Kind = "research"
	KindStudio   Kind = "studio"
)

// State is a job's position in its kind's pipeline.
type State string

const (
	StatePending     State = "pending"
	StateDiscovering State = "discovering"
	StateQueued      State = "queued"
	StateProcessing  State = "processing"
	StateReady       State = "ready"
	StateFailed      State = "failed"
)

// statePaths lists each kind's ordered non-failure pipeline. Failed is
// reachable from any non-terminal state.
var statePaths = map[Kind][]State{
	KindIngest:   {StatePending, StateDiscovering, StateProcessing, StateReady},
	KindResearch: {StatePending, StateDiscovering, StateProcessing, StateReady},
	KindStudio:   {StatePending, StateQueued, StateProcessing, StateReady},
}

// ValidKind reports whether k names a known pipeline.
func ValidKind(k Kind) bool {
	_, ok := statePaths[k]
	return ok
}

// Terminal reports whether s ends a job's lifecycle.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// stateIndex returns s's position on kind's path, or -1 for states not on the
// path (including failed).
func stateIndex(kind Kind, s State) int {
	for i, st := range statePaths[kind] {
		if st == s {
			return i
		}
	}
	return -1
}

// advance computes the next state given the current one and a remote
// observation. Movement is forward-only and at most one pipeline step per
// poll: an observation several steps ahead clamps to the immediate next state
// so successive polls walk the pipeline instead of teleporting. Observations
// behind the current state are ignored. A failed observation is honored from
// any non-terminal state.
func advance(kind Kind, current, observed State) State {
	if current.Terminal() {
		return current
	}
	if observed == StateFailed {
		return StateFailed
	}

	curIdx := stateIndex(kind, current)
	obsIdx := stateIndex(kind, observed)
	if obsIdx < 0 || obsIdx <= curIdx {
		return current
	}
	return statePaths[kind][curIdx+1]
}

// FailureReason classifies why a job ended in failed.
type FailureReason string

const (
	FailureContentRejected FailureReason = "content-rejected"
	FailureQuotaExceeded   FailureReason = "quota-exceeded"
	FailureRemoteError     FailureReason = "remote-error"
	FailureUnknown         FailureReason = "unknown"
)

// classifyFailure maps a remote status message onto the stable failure
// vocabulary by substring. The product's wording shifts between releases, so
// the buckets are deliberately broad.
func classifyFailure(message string) FailureReason {
	msg := strings.ToLower(message)
	switch {
	case msg == "":
		return FailureUnknown
	case strings.Contains(msg, "can't be added"),
		strings.Contains(msg, "cannot be added"),
		strings.Contains(msg, "unsupported"),
		strings.Contains(msg, "not supported"),
		strings.Contains(msg, "rejected"),
		strings.Contains(msg, "blocked"):
		return FailureContentRejected
	case strings.Contains(msg, "quota"),
		strings.Contains(msg, "limit reached"),
		strings.Contains(msg, "limit exceeded"),
		strings.Contains(msg, "too many"):
		return FailureQuotaExceeded
	case strings.Contains(msg, "something went wrong"),
		strings.Contains(msg, "error"),
		strings.Contains(msg, "failed"),
		strings.Contains(msg, "try again"):
		return FailureRemoteError
	default:
		return FailureUnknown
	}
}

// Observation is what a poll function saw on the remote side: a normalized
// pipeline state plus the raw status message and any terminal payload.
type Observation struct {
	State   State
	Message string
	Result  map[string]interface{}
}

// Snapshot is the caller-facing view of a job.
type Snapshot struct {
	JobID         string                 `json:"job_id"`
	Kind          Kind                   `json:"kind"`
	State         State                  `json:"state"`
	NotebookID    string                 `json:"notebook_id,omitempty"`
	TargetRef     string                 `json:"target_ref,omitempty"`
	Message       string                 `json:"message,omitempty"`
	FailureReason FailureReason          `json:"failure_reason,omitempty"`
	Result        map[string]interface{} `json:"result,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	LastPolledAt  time.Time              `json:"last_polled_at,omitempty"`
}

// Terminal reports whether the snapshot's job is finished.
func (s Snapshot) Terminal() bool {
	return s.State.Terminal()
}

// JobError is the failure surface for tracker lookups.
type JobError struct {
	JobID string
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s: %v", e.JobID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}
