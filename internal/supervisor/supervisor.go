package supervisor

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/selfvisor/internal/credential"
	"github.com/Iron-Ham/selfvisor/internal/errors"
	"github.com/Iron-Ham/selfvisor/internal/event"
	"github.com/Iron-Ham/selfvisor/internal/keylock"
	"github.com/Iron-Ham/selfvisor/internal/logging"
	"github.com/Iron-Ham/selfvisor/internal/worker"
)

// Reasons reported in WorkerStoppedEvent.
const (
	ReasonStop     = "stop"
	ReasonReplaced = "replaced"
	ReasonShutdown = "shutdown"
)

// Run describes an active worker.
type Run struct {
	UserID    int64
	RunID     string
	PID       int
	StartedAt time.Time
	Replaced  bool // an earlier worker was terminated to make room
}

type entry struct {
	handle    worker.Handle
	startedAt time.Time
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithBus attaches an event bus. Lifecycle and exit classification events
// are published on it.
func WithBus(bus *event.Bus) Option {
	return func(s *Supervisor) {
		s.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Supervisor starts, stops and replaces per-user workers.
// It is safe for concurrent use.
type Supervisor struct {
	store   credential.Store
	spawner worker.Spawner
	bus     *event.Bus
	logger  *logging.Logger

	locks keylock.Map[int64]

	mu     sync.RWMutex
	active map[int64]*entry
	closed bool

	watchers conc.WaitGroup
}

// New creates a Supervisor with an empty active set.
func New(store credential.Store, spawner worker.Spawner, opts ...Option) *Supervisor {
	if store == nil {
		panic("supervisor: credential.Store must not be nil")
	}
	if spawner == nil {
		panic("supervisor: worker.Spawner must not be nil")
	}

	s := &Supervisor{
		store:   store,
		spawner: spawner,
		logger:  logging.NopLogger(),
		active:  make(map[int64]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithPhase("supervisor")
	return s
}

// Start launches a worker for userID. The user must have a credential
// record. If a worker is already active it is terminated first and replaced.
func (s *Supervisor) Start(ctx context.Context, userID int64) (Run, error) {
	var (
		run      Run
		previous *entry
		pending  []event.Event
	)

	err := func() error {
		s.locks.Lock(userID)
		defer s.locks.Unlock(userID)

		if s.isClosed() {
			return errors.NewUserError("start worker", userID, errors.ErrShuttingDown)
		}

		if _, err := s.store.Read(userID); err != nil {
			return err
		}

		previous = s.remove(userID)
		if previous != nil {
			s.terminate(userID, previous.handle, ReasonReplaced)
			pending = append(pending, event.NewWorkerStoppedEvent(userID, previous.handle.RunID(), ReasonReplaced))
		}

		h, err := s.spawner.Spawn(ctx, userID, s.store.Dir(userID))
		if err != nil {
			s.logger.WithUser(userID).Error("failed to spawn worker", "error", err)
			return err
		}

		e := &entry{handle: h, startedAt: time.Now()}
		if !s.register(userID, e) {
			// Shutdown began while spawning
			_ = h.Terminate()
			return errors.NewUserError("start worker", userID, errors.ErrShuttingDown)
		}
		s.watchers.Go(func() { s.watch(h) })

		run = Run{
			UserID:    userID,
			RunID:     h.RunID(),
			PID:       h.PID(),
			StartedAt: e.startedAt,
			Replaced:  previous != nil,
		}
		pending = append(pending, event.NewWorkerStartedEvent(userID, run.RunID, run.PID, run.Replaced))
		s.logger.WithUser(userID).WithRun(run.RunID).Info("worker started", "pid", run.PID, "replaced", run.Replaced)
		return nil
	}()

	s.publish(pending...)
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

// Stop terminates the active worker of userID and removes it from the
// active set without waiting for it to exit.
func (s *Supervisor) Stop(userID int64) error {
	s.locks.Lock(userID)
	e := s.remove(userID)
	if e != nil {
		s.terminate(userID, e.handle, ReasonStop)
	}
	s.locks.Unlock(userID)

	if e == nil {
		return errors.NewUserError("stop worker", userID, errors.ErrNoActiveWorker)
	}
	s.publish(event.NewWorkerStoppedEvent(userID, e.handle.RunID(), ReasonStop))
	return nil
}

// IsRunning reports whether userID has an active worker.
func (s *Supervisor) IsRunning(userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.active[userID]
	return ok
}

// Lookup returns the active worker of userID.
func (s *Supervisor) Lookup(userID int64) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.active[userID]
	if !ok {
		return Run{}, false
	}
	return Run{
		UserID:    userID,
		RunID:     e.handle.RunID(),
		PID:       e.handle.PID(),
		StartedAt: e.startedAt,
	}, true
}

// Active returns a snapshot of the users with an active worker, ascending.
func (s *Supervisor) Active() []int64 {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Shutdown refuses new starts, terminates every active worker and waits for
// the exit watchers until ctx is done. Termination failures are logged and
// do not stop the remaining users from being terminated.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	logger := s.logger.WithPhase("shutdown")
	users := s.Active()
	logger.Info("terminating workers", "count", len(users))

	for _, userID := range users {
		s.locks.Lock(userID)
		e := s.remove(userID)
		if e != nil {
			s.terminate(userID, e.handle, ReasonShutdown)
		}
		s.locks.Unlock(userID)

		if e != nil {
			s.publish(event.NewWorkerStoppedEvent(userID, e.handle.RunID(), ReasonShutdown))
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if r := s.watchers.WaitAndRecover(); r != nil {
			logger.Error("exit watcher panicked", "panic", r.String())
		}
	}()

	select {
	case <-done:
		logger.Info("all workers exited")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers to exit: %w", ctx.Err())
	}
}

// watch blocks until h exits and then handles the exit notification.
func (s *Supervisor) watch(h worker.Handle) {
	<-h.Done()
	s.handleExit(h)
}

// handleExit removes the exited worker from the active set and classifies
// the exit. Exits of workers that were already replaced or removed are
// discarded.
func (s *Supervisor) handleExit(h worker.Handle) {
	userID := h.UserID()
	logger := s.logger.WithUser(userID).WithRun(h.RunID())

	var (
		class ExitClass
		rec   *credential.Record
		err   error
	)

	s.locks.Lock(userID)
	s.mu.Lock()
	e, ok := s.active[userID]
	stale := !ok || e.handle.RunID() != h.RunID()
	if !stale {
		delete(s.active, userID)
	}
	s.mu.Unlock()

	if !stale {
		rec, err = s.store.Read(userID)
		if err == nil {
			class = Classify(rec)
		}
	}
	s.locks.Unlock(userID)

	if stale {
		logger.Debug("discarding stale exit notification", "exit_code", h.ExitCode())
		return
	}

	if err != nil {
		logger.Warn("worker exited but credentials could not be read", "exit_code", h.ExitCode(), "error", err)
		s.publish(event.NewWorkerExitedEvent(userID, h.RunID(), h.ExitCode(), string(ExitUnclassified)))
		return
	}

	logger.Info("worker exited", "exit_code", h.ExitCode(), "classification", string(class))
	events := []event.Event{event.NewWorkerExitedEvent(userID, h.RunID(), h.ExitCode(), string(class))}
	switch class {
	case ExitAuthorized:
		events = append(events, event.NewAuthorizedEvent(userID))
	case ExitCodeRejected:
		events = append(events, event.NewCodeRejectedEvent(userID, string(rec.LoginStatus)))
	case ExitPasswordRequired:
		events = append(events, event.NewPasswordRequiredEvent(userID))
	case ExitAwaitingCode:
		events = append(events, event.NewCodeRequestedEvent(userID))
	}
	s.publish(events...)
}

// register adds e unless shutdown has begun. Callers hold the user lock.
func (s *Supervisor) register(userID int64, e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.active[userID] = e
	return true
}

// remove deletes and returns the active entry. Callers hold the user lock.
func (s *Supervisor) remove(userID int64) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.active[userID]
	if !ok {
		return nil
	}
	delete(s.active, userID)
	return e
}

func (s *Supervisor) terminate(userID int64, h worker.Handle, reason string) {
	if err := h.Terminate(); err != nil {
		s.logger.WithUser(userID).WithRun(h.RunID()).Error("failed to terminate worker",
			"reason", reason,
			"error", err,
		)
	}
}

func (s *Supervisor) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Supervisor) publish(events ...event.Event) {
	if s.bus == nil {
		return
	}
	for _, e := range events {
		s.bus.Publish(e)
	}
}
