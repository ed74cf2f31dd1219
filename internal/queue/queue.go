package queue

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"notebooklm-mcp-server/internal/browser"
)

var (
	// ErrQueueClosed is returned by Submit after Stop.
	ErrQueueClosed = errors.New("operation queue closed")
	// ErrQueueFull is returned when the pending backlog is at capacity.
	ErrQueueFull = errors.New("operation queue backlog full")
	// ErrDeadlineRequired rejects operations submitted without a deadline.
	ErrDeadlineRequired = errors.New("operation deadline required")
)

type taskState int

const (
	taskPending taskState = iota
	taskRunning
	taskDone
	taskCancelled
)

// task pairs an operation with its delivery channel and cancel handle.
type task struct {
	op       *Operation
	resultCh chan Result

	mu     sync.Mutex
	state  taskState
	cancel context.CancelFunc
}

// resolve delivers the result exactly once. resultCh is buffered so neither
// lane ever blocks on a submitter that walked away.
func (t *task) resolve(res Result) {
	t.mu.Lock()
	if t.state == taskDone {
		t.mu.Unlock()
		return
	}
	t.state = taskDone
	t.mu.Unlock()
	t.resultCh <- res
}

// Stats is a point-in-time queue census for diagnostics.
type Stats struct {
	PendingWrites int  `json:"pending_writes"`
	PendingReads  int  `json:"pending_reads"`
	Paused        bool `json:"paused"`
}

// Queue owns one strictly-ordered write lane and a bounded concurrent read
// lane. It implements the controller's admission gate: Pause holds back the
// next dequeue without draining in-flight work.
type Queue struct {
	logger   *zap.Logger
	laneSize int
	backlog  int

	mu      sync.Mutex
	writeQ  []*task
	readQ   []*task
	tasks   map[string]*task
	closed  bool
	writeCh chan struct{}
	readCh  chan struct{}

	pauseMu  sync.RWMutex
	paused   bool
	resumeCh chan struct{}

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup
}

// New builds a queue with laneSize concurrent read workers and a pending
// backlog capped at backlog operations across both lanes.
func New(laneSize, backlog int, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if laneSize < 0 {
		laneSize = 0
	}
	if backlog < 1 {
		backlog = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		logger:    logger.Named("queue"),
		laneSize:  laneSize,
		backlog:   backlog,
		tasks:     make(map[string]*task),
		writeCh:   make(chan struct{}, backlog),
		readCh:    make(chan struct{}, backlog),
		baseCtx:   ctx,
		cancelAll: cancel,
	}
}

// Start launches the lane workers. Reads fall back to the write lane when the
// read lane is disabled.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker(&q.writeQ, q.writeCh)

	for i := 0; i < q.laneSize; i++ {
		q.wg.Add(1)
		go q.worker(&q.readQ, q.readCh)
	}
	q.logger.Info("operation queue started",
		zap.Int("read_lane", q.laneSize),
		zap.Int("backlog", q.backlog))
}

// Submit enqueues op and returns the channel its result will arrive on.
func (q *Queue) Submit(op *Operation) (<-chan Result, error) {
	if op == nil || op.fn == nil {
		return nil, errors.New("nil operation")
	}
	if op.Deadline <= 0 {
		return nil, ErrDeadlineRequired
	}

	t := &task{op: op, resultCh: make(chan Result, 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	if len(q.writeQ)+len(q.readQ) >= q.backlog {
		q.mu.Unlock()
		return nil, ErrQueueFull
	}
	q.tasks[op.ID] = t

	signal := q.writeCh
	if op.Kind == KindRead && q.laneSize > 0 {
		q.readQ = append(q.readQ, t)
		signal = q.readCh
	} else {
		q.writeQ = append(q.writeQ, t)
	}
	q.mu.Unlock()

	select {
	case signal <- struct{}{}:
	default:
	}

	q.logger.Debug("operation queued",
		zap.String("op_id", op.ID),
		zap.String("name", op.Name),
		zap.String("kind", string(op.Kind)))
	return t.resultCh, nil
}

// Do submits op and blocks until its result. If ctx ends first the operation
// is cancelled and Do waits for the lane to confirm.
func (q *Queue) Do(ctx context.Context, op *Operation) (interface{}, error) {
	ch, err := q.Submit(op)
	if err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return res.Value, res.Err
	case <-ctx.Done():
		q.Cancel(op.ID)
		res := <-ch
		return res.Value, res.Err
	}
}

// Cancel removes a queued operation before it runs, or best-effort interrupts
// a running one by cancelling its context. Returns false for unknown or
// already-finished operations.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	t, ok := q.tasks[id]
	q.mu.Unlock()
	if !ok {
		return false
	}

	t.mu.Lock()
	switch t.state {
	case taskPending:
		t.state = taskCancelled
		t.mu.Unlock()
		q.forget(t)
		t.resultCh <- Result{Err: &OperationError{
			Reason: ReasonCancelled,
			OpID:   t.op.ID,
			Name:   t.op.Name,
			Err:    errors.New("cancelled before execution"),
		}}
		q.logger.Info("queued operation cancelled", zap.String("op_id", id))
		return true

	case taskRunning:
		cancel := t.cancel
		t.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		q.logger.Info("running operation interrupted", zap.String("op_id", id))
		return true

	default:
		t.mu.Unlock()
		return false
	}
}

// Pause holds back the next dequeue on both lanes. In-flight operations
// continue; Pause never waits for them.
func (q *Queue) Pause() {
	q.pauseMu.Lock()
	if !q.paused {
		q.paused = true
		q.resumeCh = make(chan struct{})
		q.logger.Info("operation admission paused")
	}
	q.pauseMu.Unlock()
}

// Resume reopens admission.
func (q *Queue) Resume() {
	q.pauseMu.Lock()
	if q.paused {
		q.paused = false
		close(q.resumeCh)
		q.logger.Info("operation admission resumed")
	}
	q.pauseMu.Unlock()
}

// Stats returns the pending census.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	pendingWrites := len(q.writeQ)
	pendingReads := len(q.readQ)
	q.mu.Unlock()

	q.pauseMu.RLock()
	paused := q.paused
	q.pauseMu.RUnlock()

	return Stats{PendingWrites: pendingWrites, PendingReads: pendingReads, Paused: paused}
}

// Stop closes admission, cancels everything pending, interrupts running work,
// and waits for the workers up to ctx.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	pending := append(append([]*task{}, q.writeQ...), q.readQ...)
	q.writeQ = nil
	q.readQ = nil
	q.mu.Unlock()

	for _, t := range pending {
		q.abandon(t)
	}

	q.cancelAll()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.logger.Info("operation queue stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// worker consumes one wake token per queued task. Tokens can outnumber tasks
// when cancellation empties the list first; a nil pop just loops.
func (q *Queue) worker(list *[]*task, signal chan struct{}) {
	defer q.wg.Done()
	for {
		select {
		case <-q.baseCtx.Done():
			return
		case <-signal:
		}

		t := q.pop(list)
		if t == nil {
			continue
		}
		if !q.admit() {
			q.abandon(t)
			return
		}
		q.run(t)
	}
}

// abandon resolves a task the worker popped but can no longer run because the
// queue is shutting down.
func (q *Queue) abandon(t *task) {
	t.mu.Lock()
	if t.state != taskPending {
		t.mu.Unlock()
		return
	}
	t.state = taskCancelled
	t.mu.Unlock()
	q.forget(t)
	t.resultCh <- Result{Err: &OperationError{
		Reason: ReasonCancelled,
		OpID:   t.op.ID,
		Name:   t.op.Name,
		Err:    errors.New("queue shutting down"),
	}}
}

// admit blocks while the queue is paused. Returns false on shutdown.
func (q *Queue) admit() bool {
	for {
		q.pauseMu.RLock()
		paused, resume := q.paused, q.resumeCh
		q.pauseMu.RUnlock()
		if !paused {
			return true
		}
		select {
		case <-resume:
		case <-q.baseCtx.Done():
			return false
		}
	}
}

func (q *Queue) pop(list *[]*task) *task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(*list) == 0 {
		return nil
	}
	t := (*list)[0]
	*list = (*list)[1:]
	return t
}

// forget drops the task from the id index.
func (q *Queue) forget(t *task) {
	q.mu.Lock()
	delete(q.tasks, t.op.ID)
	q.mu.Unlock()
}

// run executes one operation under its deadline and classifies the outcome.
// A timed-out or failed operation never takes the lane down with it.
func (q *Queue) run(t *task) {
	t.mu.Lock()
	if t.state != taskPending {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(q.baseCtx, t.op.Deadline)
	t.state = taskRunning
	t.cancel = cancel
	t.mu.Unlock()
	defer cancel()

	value, err := t.op.fn(ctx)
	q.forget(t)

	if err != nil {
		err = q.classify(ctx, t.op, err)
		q.logger.Warn("operation failed",
			zap.String("op_id", t.op.ID),
			zap.String("name", t.op.Name),
			zap.Error(err))
	}
	t.resolve(Result{Value: value, Err: err})
}

// classify maps lane-level failures onto the operation error surface. Domain
// errors (session state, job state) pass through untouched so callers keep
// their original taxonomy.
func (q *Queue) classify(ctx context.Context, op *Operation, err error) error {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return err
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &OperationError{Reason: ReasonTimeout, OpID: op.ID, Name: op.Name, Err: err}
	case errors.Is(ctx.Err(), context.Canceled):
		return &OperationError{Reason: ReasonCancelled, OpID: op.ID, Name: op.Name, Err: err}
	}

	var autoErr *browser.AutomationError
	if errors.As(err, &autoErr) {
		reason := ReasonAutomationFailure
		if autoErr.Reason == browser.AutomationTimeout {
			reason = ReasonTimeout
		}
		return &OperationError{Reason: reason, OpID: op.ID, Name: op.Name, Err: err}
	}
	return err
}
