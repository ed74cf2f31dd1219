package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives the tracker's time seam.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// scriptedPoll replays a fixed sequence of observations, repeating the last
// one once exhausted.
type scriptedPoll struct {
	mu    sync.Mutex
	seq   []Observation
	errs  []error
	calls int
}

func (p *scriptedPoll) fn(ctx context.Context) (Observation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return Observation{}, p.errs[i]
	}
	if len(p.seq) == 0 {
		return Observation{State: StatePending}, nil
	}
	if i >= len(p.seq) {
		i = len(p.seq) - 1
	}
	return p.seq[i], nil
}

func (p *scriptedPoll) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestTracker(clock *fakeClock) *Tracker {
	tr := NewTracker(DefaultBackoff(), 30*time.Minute, time.Minute, nil)
	if clock != nil {
		tr.now = clock.Now
	}
	return tr
}

func TestStartRegistersPendingJob(t *testing.T) {
	tr := newTestTracker(nil)

	snap := tr.Start(KindIngest, "nb-1", "src-1", nil)
	require.NotEmpty(t, snap.JobID)
	assert.Equal(t, KindIngest, snap.Kind)
	assert.Equal(t, StatePending, snap.State)
	assert.Equal(t, "nb-1", snap.NotebookID)

	got, err := tr.Get(snap.JobID)
	require.NoError(t, err)
	if diff := cmp.Diff(snap, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestPollStepsThroughPipeline(t *testing.T) {
	tr := newTestTracker(nil)
	// The remote claims ready from the first poll; the tracker still walks
	// every intermediate state so callers never see a skipped transition.
	poll := &scriptedPoll{seq: []Observation{
		{State: StateReady, Result: map[string]interface{}{"source_id": "s-1"}},
	}}

	snap := tr.Start(KindIngest, "nb-1", "", poll.fn)
	ctx := context.Background()

	var seen []State
	for i := 0; i < 3; i++ {
		next, err := tr.Poll(ctx, snap.JobID)
		require.NoError(t, err)
		seen = append(seen, next.State)
	}

	want := []State{StateDiscovering, StateProcessing, StateReady}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("transition sequence mismatch (-want +got):\n%s", diff)
	}

	final, err := tr.Get(snap.JobID)
	require.NoError(t, err)
	assert.Equal(t, "s-1", final.Result["source_id"])
}

func TestPollNeverRegresses(t *testing.T) {
	tr := newTestTracker(nil)
	poll := &scriptedPoll{seq: []Observation{
		{State: StateProcessing},
		{State: StateProcessing},
		{State: StatePending},
		{State: StateDiscovering},
	}}

	snap := tr.Start(KindIngest, "nb-1", "", poll.fn)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := tr.Poll(ctx, snap.JobID)
		require.NoError(t, err)
	}
	got, err := tr.Get(snap.JobID)
	require.NoError(t, err)
	require.Equal(t, StateProcessing, got.State)

	// Stale observations behind the current state change nothing.
	for i := 0; i < 2; i++ {
		next, err := tr.Poll(ctx, snap.JobID)
		require.NoError(t, err)
		assert.Equal(t, StateProcessing, next.State)
	}
}

func TestPollHonorsFailureFromAnyState(t *testing.T) {
	tr := newTestTracker(nil)
	poll := &scriptedPoll{seq: []Observation{
		{State: StateFailed, Message: "Source quota exceeded for this notebook"},
	}}

	snap := tr.Start(KindIngest, "nb-1", "", poll.fn)
	got, err := tr.Poll(context.Background(), snap.JobID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, FailureQuotaExceeded, got.FailureReason)
	assert.True(t, got.Terminal())
}

func TestTerminalPollIsIdempotentAndFree(t *testing.T) {
	tr := newTestTracker(nil)
	poll := &scriptedPoll{seq: []Observation{
		{State: StateDiscovering},
		{State: StateProcessing},
		{State: StateReady, Result: map[string]interface{}{"source_id": "s-9"}},
	}}

	snap := tr.Start(KindIngest, "nb-1", "", poll.fn)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := tr.Poll(ctx, snap.JobID)
		require.NoError(t, err)
	}
	terminal, err := tr.Get(snap.JobID)
	require.NoError(t, err)
	require.Equal(t, StateReady, terminal.State)
	probes := poll.callCount()

	for i := 0; i < 3; i++ {
		again, err := tr.Poll(ctx, snap.JobID)
		require.NoError(t, err)
		if diff := cmp.Diff(terminal, again); diff != "" {
			t.Errorf("terminal poll %d changed the snapshot (-want +got):\n%s", i, diff)
		}
	}
	assert.Equal(t, probes, poll.callCount(), "terminal polls must not probe the remote side")
}

func TestPollFailureKeepsState(t *testing.T) {
	tr := newTestTracker(nil)
	probeErr := errors.New("element not found: .source-status")
	poll := &scriptedPoll{
		seq:  []Observation{{State: StateDiscovering}, {State: StateDiscovering}},
		errs: []error{nil, probeErr},
	}

	snap := tr.Start(KindIngest, "nb-1", "", poll.fn)
	ctx := context.Background()

	first, err := tr.Poll(ctx, snap.JobID)
	require.NoError(t, err)
	require.Equal(t, StateDiscovering, first.State)

	second, err := tr.Poll(ctx, snap.JobID)
	require.ErrorIs(t, err, probeErr)
	assert.Equal(t, StateDiscovering, second.State, "failed probe must not transition the job")

	got, err := tr.Get(snap.JobID)
	require.NoError(t, err)
	assert.Equal(t, StateDiscovering, got.State)
}

func TestStudioPipeline(t *testing.T) {
	tr := newTestTracker(nil)
	poll := &scriptedPoll{seq: []Observation{
		{State: StateQueued},
		{State: StateProcessing},
		{State: StateProcessing},
		{State: StateReady, Result: map[string]interface{}{"artifact_url": "https://example.com/audio.mp3"}},
	}}

	snap := tr.Start(KindStudio, "nb-1", "artifact-1", poll.fn)
	require.Equal(t, StatePending, snap.State)

	ctx := context.Background()
	var seen []State
	for i := 0; i < 4; i++ {
		next, err := tr.Poll(ctx, snap.JobID)
		require.NoError(t, err)
		seen = append(seen, next.State)
	}

	want := []State{StateQueued, StateProcessing, StateProcessing, StateReady}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("studio pipeline mismatch (-want +got):\n%s", diff)
	}

	final, err := tr.Get(snap.JobID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/audio.mp3", final.Result["artifact_url"])
}

func TestAwaitReturnsLastSnapshotOnMaxWait(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	var slept []time.Duration
	tr.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		clock.Advance(d)
		return nil
	}

	poll := &scriptedPoll{seq: []Observation{{State: StateProcessing}}}
	snap := tr.Start(KindResearch, "nb-1", "", poll.fn)

	got, err := tr.Await(context.Background(), snap.JobID, 10*time.Second)
	require.NoError(t, err, "hitting maxWait is not an error")
	assert.Equal(t, StateProcessing, got.State)

	// 2s, then 4s, then 8s clamped to the 4s remaining.
	want := []time.Duration{2 * time.Second, 4 * time.Second, 4 * time.Second}
	if diff := cmp.Diff(want, slept); diff != "" {
		t.Errorf("backoff sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestAwaitStopsOnTerminal(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)
	tr.sleep = func(ctx context.Context, d time.Duration) error {
		clock.Advance(d)
		return nil
	}

	poll := &scriptedPoll{seq: []Observation{
		{State: StateDiscovering},
		{State: StateProcessing},
		{State: StateReady},
	}}
	snap := tr.Start(KindIngest, "nb-1", "", poll.fn)

	got, err := tr.Await(context.Background(), snap.JobID, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StateReady, got.State)
}

func TestAwaitAbsorbsTransientPollErrors(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)
	tr.sleep = func(ctx context.Context, d time.Duration) error {
		clock.Advance(d)
		return nil
	}

	poll := &scriptedPoll{
		seq: []Observation{
			{State: StateDiscovering},
			{State: StateDiscovering},
			{State: StateProcessing},
			{State: StateReady},
		},
		errs: []error{nil, errors.New("transient: page detached"), nil, nil},
	}
	snap := tr.Start(KindIngest, "nb-1", "", poll.fn)

	got, err := tr.Await(context.Background(), snap.JobID, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StateReady, got.State)
}

func TestAwaitStopsOnContextCancel(t *testing.T) {
	tr := newTestTracker(nil)
	tr.sleep = sleepWithContext

	poll := &scriptedPoll{seq: []Observation{{State: StateProcessing}}}
	snap := tr.Start(KindIngest, "nb-1", "", poll.fn)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	got, err := tr.Await(ctx, snap.JobID, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateDiscovering, got.State, "cancel still reports the last snapshot")
}

func TestUnknownJob(t *testing.T) {
	tr := newTestTracker(nil)

	_, err := tr.Get("nope")
	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, "nope", jobErr.JobID)
	require.ErrorIs(t, err, ErrUnknownJob)

	_, err = tr.Poll(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnknownJob)
}

func TestForget(t *testing.T) {
	tr := newTestTracker(nil)
	snap := tr.Start(KindIngest, "nb-1", "", nil)

	require.True(t, tr.Forget(snap.JobID))
	require.False(t, tr.Forget(snap.JobID))

	_, err := tr.Get(snap.JobID)
	require.ErrorIs(t, err, ErrUnknownJob)
}

func TestRetentionSweep(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	poll := &scriptedPoll{seq: []Observation{{State: StateFailed, Message: "something went wrong"}}}
	oldTerminal := tr.Start(KindIngest, "nb-1", "", poll.fn)
	_, err := tr.Poll(context.Background(), oldTerminal.JobID)
	require.NoError(t, err)

	oldRunning := tr.Start(KindIngest, "nb-2", "", nil)

	clock.Advance(45 * time.Minute)
	freshPoll := &scriptedPoll{seq: []Observation{{State: StateFailed, Message: "x"}}}
	freshTerminal := tr.Start(KindStudio, "nb-3", "", freshPoll.fn)
	_, err = tr.Poll(context.Background(), freshTerminal.JobID)
	require.NoError(t, err)

	tr.sweep()

	_, err = tr.Get(oldTerminal.JobID)
	assert.ErrorIs(t, err, ErrUnknownJob, "stale terminal job should be swept")

	_, err = tr.Get(oldRunning.JobID)
	assert.NoError(t, err, "non-terminal jobs survive the sweep regardless of age")

	_, err = tr.Get(freshTerminal.JobID)
	assert.NoError(t, err, "recently finished jobs stay within the retention window")
}

func TestSweeperLifecycle(t *testing.T) {
	tr := NewTracker(DefaultBackoff(), time.Minute, 10*time.Millisecond, nil)
	tr.Run()
	tr.Run() // second Run is a no-op
	time.Sleep(30 * time.Millisecond)
	tr.Stop()
	tr.Stop() // second Stop is a no-op
}

func TestBackoffPolicy(t *testing.T) {
	p := DefaultBackoff()
	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for attempt, expected := range want {
		assert.Equal(t, expected, p.Delay(attempt), "attempt %d", attempt)
	}
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		message string
		want    FailureReason
	}{
		{"This source can't be added to your notebook", FailureContentRejected},
		{"Unsupported file type", FailureContentRejected},
		{"Source limit reached for this notebook", FailureQuotaExceeded},
		{"You have exceeded your daily quota", FailureQuotaExceeded},
		{"Something went wrong. Please try again.", FailureRemoteError},
		{"Generation failed", FailureRemoteError},
		{"", FailureUnknown},
		{"mysterious glyphs", FailureUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyFailure(tt.message), "message %q", tt.message)
	}
}
