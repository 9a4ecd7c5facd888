package bulk

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/selfvisor/internal/errors"
	"github.com/Iron-Ham/selfvisor/internal/event"
	"github.com/Iron-Ham/selfvisor/internal/logging"
	"github.com/Iron-Ham/selfvisor/internal/supervisor"
)

// Operation names reported in BulkCompletedEvent.
const (
	OpStartAll = "start_all"
	OpStopAll  = "stop_all"
)

// Defaults used when no option overrides them.
const (
	DefaultMaxParallel  = 8
	DefaultRestartDelay = 5 * time.Second
)

// SupervisorOperations defines the worker lifecycle operations a pass needs.
type SupervisorOperations interface {
	// Start launches or replaces the worker of a user
	Start(ctx context.Context, userID int64) (supervisor.Run, error)
	// Stop terminates the worker of a user
	Stop(userID int64) error
	// Active returns a snapshot of users with a running worker
	Active() []int64
}

// StoreOperations defines the credential store operations a pass needs.
type StoreOperations interface {
	// ListAll returns every user with a stored credential record
	ListAll() ([]int64, error)
}

// Counts tallies the per-user results of one pass.
type Counts struct {
	Succeeded int
	Failed    int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBus publishes a BulkCompletedEvent after every pass.
func WithBus(bus *event.Bus) Option {
	return func(o *Orchestrator) {
		o.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxParallel bounds how many users one pass handles concurrently.
func WithMaxParallel(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxParallel = n
		}
	}
}

// WithRestartDelay sets the grace window between the stop and the deferred
// start of a restart.
func WithRestartDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.restartDelay = d
		}
	}
}

// Orchestrator runs bulk passes. It is safe for concurrent use.
type Orchestrator struct {
	store        StoreOperations
	sup          SupervisorOperations
	bus          *event.Bus
	logger       *logging.Logger
	maxParallel  int
	restartDelay time.Duration

	// passMu serializes passes.
	passMu sync.Mutex

	mu      sync.Mutex
	pending *scheduledTask
	running *scheduledTask
	closed  bool
	tasks   sync.WaitGroup

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// New creates an Orchestrator.
func New(store StoreOperations, sup SupervisorOperations, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:        store,
		sup:          sup,
		logger:       logging.NopLogger(),
		maxParallel:  DefaultMaxParallel,
		restartDelay: DefaultRestartDelay,
		baseCtx:      ctx,
		cancelBase:   cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithPhase("bulk")
	return o
}

// StartAll starts a worker for every user with a credential record. Users
// that already have a worker get it replaced. Individual failures are
// counted and do not stop the pass; users not yet started when ctx is
// cancelled count as failed.
func (o *Orchestrator) StartAll(ctx context.Context) (Counts, error) {
	o.passMu.Lock()
	defer o.passMu.Unlock()
	return o.startAll(ctx)
}

func (o *Orchestrator) startAll(ctx context.Context) (Counts, error) {
	users, err := o.store.ListAll()
	if err != nil {
		o.logger.Error("failed to list users", "error", err)
		return Counts{}, err
	}

	var succeeded, failed atomic.Int64
	p := pool.New().WithMaxGoroutines(o.maxParallel)
	for _, userID := range users {
		p.Go(func() {
			if ctx.Err() != nil {
				failed.Add(1)
				return
			}
			if _, err := o.sup.Start(ctx, userID); err != nil {
				o.logger.WithUser(userID).Warn("start failed", "error", err)
				failed.Add(1)
				return
			}
			succeeded.Add(1)
		})
	}
	p.Wait()

	counts := Counts{Succeeded: int(succeeded.Load()), Failed: int(failed.Load())}
	o.finish(OpStartAll, counts)
	return counts, nil
}

// StopAll stops every worker that was active when the pass began. Workers
// that exit on their own during the pass are skipped and not counted.
func (o *Orchestrator) StopAll() Counts {
	o.passMu.Lock()
	defer o.passMu.Unlock()
	return o.stopAll()
}

func (o *Orchestrator) stopAll() Counts {
	users := o.sup.Active()

	var succeeded, failed atomic.Int64
	p := pool.New().WithMaxGoroutines(o.maxParallel)
	for _, userID := range users {
		p.Go(func() {
			err := o.sup.Stop(userID)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, errors.ErrNoActiveWorker):
				o.logger.WithUser(userID).Debug("worker exited before stop")
			default:
				o.logger.WithUser(userID).Warn("stop failed", "error", err)
				failed.Add(1)
			}
		})
	}
	p.Wait()

	counts := Counts{Succeeded: int(succeeded.Load()), Failed: int(failed.Load())}
	o.finish(OpStopAll, counts)
	return counts
}

// RestartAll stops every active worker now and schedules a StartAll after
// the restart delay. Any earlier restart whose start-all is pending, or has
// fired but not finished, is cancelled; at most one deferred start-all is
// ever reachable. The returned counts are those of the stop.
func (o *Orchestrator) RestartAll() (Counts, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return Counts{}, errors.ErrShuttingDown
	}
	o.supersede()
	o.mu.Unlock()

	o.passMu.Lock()
	defer o.passMu.Unlock()
	counts := o.stopAll()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return counts, errors.ErrShuttingDown
	}
	// A concurrent restart may have scheduled its own task while this one
	// was waiting for passMu.
	o.supersede()

	var task *scheduledTask
	task = schedule(o.baseCtx, o.restartDelay, &o.tasks, func(ctx context.Context) {
		o.mu.Lock()
		if o.pending != task {
			o.mu.Unlock()
			return
		}
		o.pending = nil
		o.running = task
		o.mu.Unlock()

		defer func() {
			o.mu.Lock()
			if o.running == task {
				o.running = nil
			}
			o.mu.Unlock()
		}()

		o.passMu.Lock()
		defer o.passMu.Unlock()
		if ctx.Err() != nil {
			o.logger.Info("deferred start-all superseded")
			return
		}
		o.logger.Info("running deferred start-all")
		if _, err := o.startAll(ctx); err != nil {
			o.logger.Error("deferred start-all failed", "error", err)
		}
	})
	o.pending = task

	o.logger.Info("restart scheduled", "delay", o.restartDelay.String(), "stopped", counts.Succeeded)
	return counts, nil
}

// supersede cancels the pending and the running deferred start-all.
// o.mu must be held.
func (o *Orchestrator) supersede() {
	if o.pending != nil {
		o.pending.stop()
		o.pending = nil
		o.logger.Info("superseding pending restart")
	}
	if o.running != nil {
		o.running.stop()
		o.running = nil
		o.logger.Info("cancelling running deferred start-all")
	}
}

// Pending reports when the deferred start-all of a restart will run.
func (o *Orchestrator) Pending() (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		return time.Time{}, false
	}
	return o.pending.due, true
}

// CancelPending cancels a scheduled start-all. It reports whether one was
// pending.
func (o *Orchestrator) CancelPending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		return false
	}
	o.pending.stop()
	o.pending = nil
	o.logger.Info("pending restart cancelled")
	return true
}

// Close cancels any pending or running deferred start-all and waits for it
// to return. RestartAll fails after Close.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.supersede()
	o.mu.Unlock()

	o.cancelBase()
	o.tasks.Wait()
}

func (o *Orchestrator) finish(op string, counts Counts) {
	o.logger.Info("bulk pass completed", "op", op, "succeeded", counts.Succeeded, "failed", counts.Failed)
	if o.bus != nil {
		o.bus.Publish(event.NewBulkCompletedEvent(op, counts.Succeeded, counts.Failed))
	}
}
