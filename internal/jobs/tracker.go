package jobs

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUnknownJob is wrapped in a JobError for lookups of forgotten or never
// registered ids.
var ErrUnknownJob = errors.New("unknown job id")

// PollFunc probes the remote side for a job's current status. Implementations
// run through the operation queue's read lane; the tracker never touches the
// browser itself.
type PollFunc func(ctx context.Context) (Observation, error)

// BackoffPolicy shapes the delay between await polls: exponential from
// InitialDelay by Multiplier, capped at MaxDelay.
type BackoffPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultBackoff polls gently: 2s, 4s, 8s, ... capped at 30s.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay returns the wait before poll attempt+1.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return p.InitialDelay
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if time.Duration(delay) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// job pairs a snapshot with its poll function. The mutex serializes polls per
// job so concurrent status calls cannot interleave state updates.
type job struct {
	mu   sync.Mutex
	snap Snapshot
	poll PollFunc
}

// Tracker registers jobs, folds remote observations into their state
// machines, and reclaims finished jobs after a retention window.
type Tracker struct {
	logger    *zap.Logger
	backoff   BackoffPolicy
	retention time.Duration
	sweepEach time.Duration

	mu   sync.RWMutex
	jobs map[string]*job

	stopCh chan struct{}
	doneCh chan struct{}

	// Seams for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTracker builds a tracker. Run starts the retention sweeper; a tracker
// used without Run never reclaims automatically but works otherwise.
func NewTracker(backoff BackoffPolicy, retention, sweepEach time.Duration, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		logger:    logger.Named("jobs"),
		backoff:   backoff,
		retention: retention,
		sweepEach: sweepEach,
		jobs:      make(map[string]*job),
		now:       time.Now,
		sleep:     sleepWithContext,
	}
}

// Start registers a new pending job and returns its initial snapshot. The
// caller has already submitted (or is about to submit) the operation that
// kicks the remote work off; the tracker only tracks.
func (t *Tracker) Start(kind Kind, notebookID, targetRef string, poll PollFunc) Snapshot {
	now := t.now()
	snap := Snapshot{
		JobID:      uuid.NewString(),
		Kind:       kind,
		State:      StatePending,
		NotebookID: notebookID,
		TargetRef:  targetRef,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	t.mu.Lock()
	t.jobs[snap.JobID] = &job{snap: snap, poll: poll}
	t.mu.Unlock()

	t.logger.Info("job registered",
		zap.String("job_id", snap.JobID),
		zap.String("kind", string(kind)),
		zap.String("notebook_id", notebookID))
	return snap
}

// Get returns the current snapshot without polling.
func (t *Tracker) Get(jobID string) (Snapshot, error) {
	j, err := t.lookup(jobID)
	if err != nil {
		return Snapshot{}, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snap, nil
}

// Poll refreshes a job from the remote side. Terminal jobs return their
// cached snapshot without any remote work. A failing probe leaves the job in
// its last known state and surfaces the error alongside that snapshot.
func (t *Tracker) Poll(ctx context.Context, jobID string) (Snapshot, error) {
	j, err := t.lookup(jobID)
	if err != nil {
		return Snapshot{}, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.snap.Terminal() {
		return j.snap, nil
	}
	if j.poll == nil {
		return j.snap, nil
	}

	obs, err := j.poll(ctx)
	if err != nil {
		t.logger.Warn("job poll failed, state unchanged",
			zap.String("job_id", jobID),
			zap.String("state", string(j.snap.State)),
			zap.Error(err))
		return j.snap, err
	}

	now := t.now()
	j.snap.LastPolledAt = now

	next := advance(j.snap.Kind, j.snap.State, obs.State)
	if next == j.snap.State {
		return j.snap, nil
	}

	j.snap.State = next
	j.snap.UpdatedAt = now
	j.snap.Message = obs.Message
	switch next {
	case StateFailed:
		j.snap.FailureReason = classifyFailure(obs.Message)
	case StateReady:
		j.snap.Result = obs.Result
	}

	t.logger.Info("job transition",
		zap.String("job_id", jobID),
		zap.String("state", string(next)),
		zap.String("observed", string(obs.State)))
	return j.snap, nil
}

// Await polls with exponential backoff until the job is terminal or maxWait
// elapses. Running out of time is not a failure: the last snapshot comes back
// with a nil error and the caller keeps polling by job id. Transient probe
// errors are absorbed; only context cancellation and unknown-job errors
// surface.
func (t *Tracker) Await(ctx context.Context, jobID string, maxWait time.Duration) (Snapshot, error) {
	deadline := t.now().Add(maxWait)

	snap, err := t.Poll(ctx, jobID)
	if err != nil {
		var jobErr *JobError
		if errors.As(err, &jobErr) {
			return Snapshot{}, err
		}
	}

	for attempt := 0; !snap.Terminal(); attempt++ {
		remaining := deadline.Sub(t.now())
		if remaining <= 0 {
			return snap, nil
		}
		delay := t.backoff.Delay(attempt)
		if delay > remaining {
			delay = remaining
		}
		if err := t.sleep(ctx, delay); err != nil {
			return snap, err
		}

		next, err := t.Poll(ctx, jobID)
		if err != nil {
			var jobErr *JobError
			if errors.As(err, &jobErr) {
				return snap, err
			}
			continue
		}
		snap = next
	}
	return snap, nil
}

// Forget drops a job immediately regardless of state.
func (t *Tracker) Forget(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[jobID]; !ok {
		return false
	}
	delete(t.jobs, jobID)
	t.logger.Info("job forgotten", zap.String("job_id", jobID))
	return true
}

// List returns snapshots of every tracked job, for diagnostics.
func (t *Tracker) List() []Snapshot {
	t.mu.RLock()
	all := make([]*job, 0, len(t.jobs))
	for _, j := range t.jobs {
		all = append(all, j)
	}
	t.mu.RUnlock()

	out := make([]Snapshot, 0, len(all))
	for _, j := range all {
		j.mu.Lock()
		out = append(out, j.snap)
		j.mu.Unlock()
	}
	return out
}

// Count returns the number of tracked jobs.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.jobs)
}

// Run starts the retention sweeper. Stop ends it.
func (t *Tracker) Run() {
	t.mu.Lock()
	if t.stopCh != nil {
		t.mu.Unlock()
		return
	}
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	stopCh, doneCh := t.stopCh, t.doneCh
	t.mu.Unlock()

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(t.sweepEach)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				t.sweep()
			}
		}
	}()
	t.logger.Info("job retention sweeper started",
		zap.Duration("retention", t.retention),
		zap.Duration("interval", t.sweepEach))
}

// Stop terminates the sweeper if running.
func (t *Tracker) Stop() {
	t.mu.Lock()
	stopCh, doneCh := t.stopCh, t.doneCh
	t.stopCh = nil
	t.doneCh = nil
	t.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

// sweep reclaims terminal jobs whose last update is older than the retention
// window.
func (t *Tracker) sweep() {
	cutoff := t.now().Add(-t.retention)

	t.mu.RLock()
	candidates := make(map[string]*job, len(t.jobs))
	for id, j := range t.jobs {
		candidates[id] = j
	}
	t.mu.RUnlock()

	var evict []string
	for id, j := range candidates {
		j.mu.Lock()
		if j.snap.Terminal() && j.snap.UpdatedAt.Before(cutoff) {
			evict = append(evict, id)
		}
		j.mu.Unlock()
	}
	if len(evict) == 0 {
		return
	}

	t.mu.Lock()
	for _, id := range evict {
		delete(t.jobs, id)
	}
	t.mu.Unlock()
	t.logger.Info("swept terminal jobs", zap.Int("count", len(evict)))
}

func (t *Tracker) lookup(jobID string) (*job, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.jobs[jobID]
	if !ok {
		return nil, &JobError{JobID: jobID, Err: ErrUnknownJob}
	}
	return j, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
