package retrain

import (
	"context"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/foodnet-go/internal/errors"
	"github.com/tphakala/foodnet-go/internal/logger"
	"github.com/tphakala/foodnet-go/internal/observability/metrics"
)

const (
	defaultQueueSize = 4
	defaultHistory   = 50
)

// Options configures a Trigger.
type Options struct {
	QueueSize  int           // buffered jobs, at least 1
	History    int           // finished jobs kept for Jobs
	Timeout    time.Duration // per job, zero disables
	Metrics    *metrics.RetrainMetrics
	NoCoalesce bool      // queue every request as its own job
	OnFinish   func(Job) // called on the worker after a job ran
}

type job struct {
	Job
}

// Trigger queues retrain jobs and runs them one at a time on a single
// worker. Requests never block: a request made while a job is still waiting
// joins that job, and a request that finds the queue full is dropped.
type Trigger struct {
	action   Action
	timeout  time.Duration
	metrics  *metrics.RetrainMetrics
	coalesce bool
	onFinish func(Job)

	queue chan *job

	mu      sync.Mutex
	running bool
	queued  []*job // waiting jobs in queue order
	current *job
	history []*job
	maxHist int
	stats   Stats
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTrigger returns a stopped trigger. Call Start to run the worker.
func NewTrigger(action Action, opts Options) (*Trigger, error) {
	if action == nil {
		return nil, ErrNilAction
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.History <= 0 {
		opts.History = defaultHistory
	}

	return &Trigger{
		action:   action,
		timeout:  opts.Timeout,
		metrics:  opts.Metrics,
		coalesce: !opts.NoCoalesce,
		onFinish: opts.OnFinish,
		queue:    make(chan *job, opts.QueueSize),
		maxHist:  opts.History,
	}, nil
}

// Start runs the worker until ctx is cancelled or Stop is called.
func (t *Trigger) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	t.running = true
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.work(ctx, t.done)
}

// Stop cancels the running job, marks queued jobs cancelled and waits up to
// timeout for the worker to exit.
func (t *Trigger) Stop(timeout time.Duration) error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	t.cancel()
	done := t.done
	t.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.Newf("timed out waiting for retrain worker after %v", timeout).
			Category(errors.CategoryTimeout).
			Build()
	}
}

// Request asks for a retrain. It reports whether the request was queued or
// merged into a waiting job.
func (t *Trigger) Request(reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	log := GetLogger()
	t.stats.Requested++

	if !t.running {
		log.Warn("retrain requested while trigger is stopped", logger.String("reason", reason))
		return false
	}

	if n := len(t.queued); t.coalesce && n > 0 {
		pending := t.queued[n-1]
		pending.Reasons = append(pending.Reasons, reason)
		t.stats.Coalesced++
		t.metrics.IncrementCoalesced()
		log.Debug("retrain request merged into pending job",
			logger.String("job_id", pending.ID),
			logger.String("reason", reason))
		return true
	}

	j := &job{Job{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Reasons:   []string{reason},
		CreatedAt: time.Now(),
	}}

	select {
	case t.queue <- j:
		t.queued = append(t.queued, j)
		t.stats.Pending++
		log.Info("retrain job queued", logger.String("job_id", j.ID), logger.String("reason", reason))
		return true
	default:
		t.stats.Dropped++
		t.metrics.IncrementDropped()
		log.Warn("retrain queue full, dropping request",
			logger.String("reason", reason),
			logger.Int("queue_size", cap(t.queue)))
		return false
	}
}

func (t *Trigger) work(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			t.cancelQueued()
			return
		case j := <-t.queue:
			t.run(ctx, j)
		}
	}
}

func (t *Trigger) run(ctx context.Context, j *job) {
	t.mu.Lock()
	t.dequeueLocked(j)
	if ctx.Err() != nil {
		t.finishLocked(j, StatusCancelled, ctx.Err())
		t.mu.Unlock()
		t.metrics.RecordJob(string(StatusCancelled), 0)
		return
	}
	j.Status = StatusRunning
	j.StartedAt = time.Now()
	t.current = j
	t.stats.Running = true
	snapshot := j.copy()
	t.mu.Unlock()

	t.metrics.SetRunning(true)
	log := GetLogger().With(logger.String("job_id", j.ID))
	log.Info("retrain job started", logger.Int("reasons", len(snapshot.Reasons)))

	err := t.execute(ctx, snapshot)

	t.metrics.SetRunning(false)

	t.mu.Lock()
	status := StatusCompleted
	switch {
	case err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled):
		status = StatusCancelled
	case err != nil:
		status = StatusFailed
	}
	t.current = nil
	t.stats.Running = false
	t.finishLocked(j, status, err)
	duration := j.Duration
	final := j.copy()
	t.mu.Unlock()

	t.metrics.RecordJob(string(status), duration)
	if t.onFinish != nil {
		t.onFinish(final)
	}

	if err != nil {
		log.Error("retrain job failed",
			logger.String("status", string(status)),
			logger.Error(err),
			logger.Duration("duration", duration))
		return
	}
	log.Info("retrain job completed", logger.Duration("duration", duration))
}

// execute runs the action with the job timeout, converting panics to errors.
func (t *Trigger) execute(ctx context.Context, snapshot Job) (err error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			GetLogger().Error("retrain action panicked",
				logger.String("job_id", snapshot.ID),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
			err = errors.Newf("retrain action panicked: %v", r).
				Category(errors.CategoryCommandExecution).
				Build()
		}
	}()

	return t.action.Run(ctx, snapshot)
}

// cancelQueued marks every job still in the queue cancelled.
func (t *Trigger) cancelQueued() {
	for {
		select {
		case j := <-t.queue:
			t.mu.Lock()
			t.dequeueLocked(j)
			t.finishLocked(j, StatusCancelled, context.Canceled)
			t.mu.Unlock()
			t.metrics.RecordJob(string(StatusCancelled), 0)
		default:
			return
		}
	}
}

// dequeueLocked removes j from the waiting list. t.mu must be held.
func (t *Trigger) dequeueLocked(j *job) {
	if i := slices.Index(t.queued, j); i >= 0 {
		t.queued = slices.Delete(t.queued, i, i+1)
	}
	t.stats.Pending = len(t.queued)
}

// finishLocked records the final state of j. t.mu must be held.
func (t *Trigger) finishLocked(j *job, status Status, err error) {
	j.Status = status
	j.FinishedAt = time.Now()
	if !j.StartedAt.IsZero() {
		j.Duration = j.FinishedAt.Sub(j.StartedAt)
	}
	if err != nil {
		j.Error = err.Error()
	}

	switch status {
	case StatusCompleted:
		t.stats.Completed++
	case StatusFailed:
		t.stats.Failed++
	case StatusCancelled:
		t.stats.Cancelled++
	}

	t.history = append(t.history, j)
	if over := len(t.history) - t.maxHist; over > 0 {
		t.history = slices.Delete(t.history, 0, over)
	}
}

// Jobs returns the waiting, running and recently finished jobs, newest first.
func (t *Trigger) Jobs() []Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Job, 0, len(t.queued)+len(t.history)+1)
	for i := len(t.queued) - 1; i >= 0; i-- {
		out = append(out, t.queued[i].copy())
	}
	if t.current != nil {
		out = append(out, t.current.copy())
	}
	for i := len(t.history) - 1; i >= 0; i-- {
		out = append(out, t.history[i].copy())
	}
	return out
}

// Stats returns a snapshot of the counters.
func (t *Trigger) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (j *job) copy() Job {
	c := j.Job
	c.Reasons = slices.Clone(j.Reasons)
	return c
}
