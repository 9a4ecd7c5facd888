package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/selfvisor/internal/bulk"
	"github.com/Iron-Ham/selfvisor/internal/credential"
	"github.com/Iron-Ham/selfvisor/internal/errors"
	"github.com/Iron-Ham/selfvisor/internal/event"
	"github.com/Iron-Ham/selfvisor/internal/logging"
	"github.com/Iron-Ham/selfvisor/internal/login"
	"github.com/Iron-Ham/selfvisor/internal/supervisor"
)

// Outcome is the reply to one front-end command.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// Running is set by Status.
	Running bool `json:"running"`
	// Silent asks the front end not to reply at all.
	Silent bool `json:"silent"`
}

func ok(msg string) Outcome   { return Outcome{Success: true, Message: msg} }
func fail(msg string) Outcome { return Outcome{Success: false, Message: msg} }

// Option configures a Service.
type Option func(*Service)

// WithBus subscribes the service to handshake events for notification relay.
func WithBus(bus *event.Bus) Option {
	return func(s *Service) {
		s.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSink adds a notification sink.
func WithSink(sink Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}

// Service implements the front-end commands.
type Service struct {
	store credential.Store
	sup   *supervisor.Supervisor
	flow  *login.Flow
	bulk  *bulk.Orchestrator

	bus    *event.Bus
	logger *logging.Logger

	mu    sync.RWMutex
	sinks []Sink
	subs  []string
}

// New creates a Service over already constructed components.
func New(store credential.Store, sup *supervisor.Supervisor, flow *login.Flow, b *bulk.Orchestrator, opts ...Option) *Service {
	s := &Service{
		store:  store,
		sup:    sup,
		flow:   flow,
		bulk:   b,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithPhase("orchestrator")

	if s.bus != nil {
		for _, t := range []string{event.TypeCodeRequested, event.TypeCodeRejected, event.TypeLoginStateChanged} {
			s.subs = append(s.subs, s.bus.Subscribe(t, s.relay))
		}
	}
	return s
}

// AddSink registers a notification sink.
func (s *Service) AddSink(sink Sink) {
	if sink == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Close stops relaying notifications.
func (s *Service) Close() {
	if s.bus == nil {
		return
	}
	for _, id := range s.subs {
		s.bus.Unsubscribe(id)
	}
	s.subs = nil
}

// RegisterStart begins registration with an identity pair.
func (s *Service) RegisterStart(ctx context.Context, userID, apiID int64, apiHash string) (out Outcome) {
	defer s.guard("register_start", userID, &out)

	step, err := s.flow.RegisterStart(ctx, userID, apiID, apiHash)
	if err != nil {
		return s.failure("register_start", userID, err)
	}
	return ok(step.Message)
}

// RegisterContact completes registration with a shared contact.
func (s *Service) RegisterContact(ctx context.Context, userID, assertedID int64, phone string) (out Outcome) {
	defer s.guard("register_contact", userID, &out)

	step, err := s.flow.RegisterContact(ctx, userID, assertedID, phone)
	if err != nil {
		return s.failure("register_contact", userID, err)
	}
	return ok(step.Message)
}

// SubmitText handles free text. Text that answers no pending step yields a
// Silent outcome.
func (s *Service) SubmitText(ctx context.Context, userID int64, text string) (out Outcome) {
	defer s.guard("submit_text", userID, &out)

	step, err := s.flow.SubmitText(ctx, userID, text)
	if err != nil {
		return s.failure("submit_text", userID, err)
	}
	if step.Ignored {
		return Outcome{Success: true, Silent: true}
	}
	return ok(step.Message)
}

// Stop terminates the user's worker.
func (s *Service) Stop(userID int64) (out Outcome) {
	defer s.guard("stop", userID, &out)

	if err := s.sup.Stop(userID); err != nil {
		return s.failure("stop", userID, err)
	}
	return ok("Worker stopped.")
}

// StopAll terminates every active worker.
func (s *Service) StopAll() (out Outcome) {
	defer s.guard("stop_all", 0, &out)

	counts := s.bulk.StopAll()
	return ok(fmt.Sprintf("Stopped %d worker(s), %d failed.", counts.Succeeded, counts.Failed))
}

// StartAll starts a worker for every registered user.
func (s *Service) StartAll(ctx context.Context) (out Outcome) {
	defer s.guard("start_all", 0, &out)

	counts, err := s.bulk.StartAll(ctx)
	if err != nil {
		return s.failure("start_all", 0, err)
	}
	return ok(fmt.Sprintf("Started %d worker(s), %d failed.", counts.Succeeded, counts.Failed))
}

// RestartAll stops every worker and schedules a start of all registered
// users.
func (s *Service) RestartAll() (out Outcome) {
	defer s.guard("restart_all", 0, &out)

	counts, err := s.bulk.RestartAll()
	if err != nil {
		return s.failure("restart_all", 0, err)
	}
	msg := fmt.Sprintf("Stopped %d worker(s). Restart initiated.", counts.Succeeded)
	if due, pending := s.bulk.Pending(); pending {
		wait := time.Until(due).Round(time.Second)
		msg = fmt.Sprintf("Stopped %d worker(s). Starting all workers in %s.", counts.Succeeded, max(wait, 0))
	}
	return ok(msg)
}

// Status reports whether the user's worker is running, along with the
// handshake state and whether credentials are on file.
func (s *Service) Status(userID int64) (out Outcome) {
	defer s.guard("status", userID, &out)

	var lines []string
	run, running := s.sup.Lookup(userID)
	if running {
		lines = append(lines, fmt.Sprintf("Worker: running (pid %d, up %s)", run.PID, time.Since(run.StartedAt).Round(time.Second)))
	} else {
		lines = append(lines, "Worker: not running")
	}

	if state := s.flow.State(userID); state != login.Idle {
		lines = append(lines, "Login: "+strings.ReplaceAll(state.String(), "_", " "))
	}

	if _, err := s.store.Read(userID); err != nil {
		if errors.IsNotFound(err) {
			lines = append(lines, "Credentials: not registered")
		} else {
			s.logger.WithUser(userID).Warn("status could not read credentials", "error", err)
			lines = append(lines, "Credentials: unreadable")
		}
	}

	return Outcome{Success: true, Message: strings.Join(lines, "\n"), Running: running}
}

func (s *Service) relay(e event.Event) {
	n, found := notificationFor(e)
	if !found {
		return
	}

	s.mu.RLock()
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.RUnlock()

	if len(sinks) == 0 {
		s.logger.WithUser(n.UserID).Debug("no sink for notification", "kind", n.Kind)
		return
	}
	for _, sink := range sinks {
		sink.Notify(n)
	}
}

// failure logs err and converts it to a failure Outcome.
func (s *Service) failure(op string, userID int64, err error) Outcome {
	logger := s.logger.With("op", op)
	if userID != 0 {
		logger = logger.WithUser(userID)
	}
	if errors.IsUserFacing(err) {
		logger.Info("command rejected", "error", err)
	} else {
		logger.Error("command failed", "error", err)
	}
	return fail(describe(err))
}

// guard converts a panic in a command into a failure Outcome.
func (s *Service) guard(op string, userID int64, out *Outcome) {
	if r := recover(); r != nil {
		s.logger.WithUser(userID).Error("command panicked",
			"op", op,
			"panic", fmt.Sprint(r),
			"stack", string(debug.Stack()),
		)
		*out = fail("Something went wrong. Try again later.")
	}
}

// describe returns the user-readable message for err.
func describe(err error) string {
	var verr *errors.ValidationError
	switch {
	case errors.As(err, &verr):
		return describeValidation(verr)
	case errors.Is(err, errors.ErrNoActiveWorker):
		return "No active worker."
	case errors.Is(err, errors.ErrNotFound):
		return "You are not registered yet."
	case errors.Is(err, errors.ErrSpawn):
		return "Could not start the worker. Try again later."
	case errors.Is(err, errors.ErrShuttingDown):
		return "The service is shutting down."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "The request was cancelled."
	default:
		return "Something went wrong. Try again later."
	}
}

func describeValidation(verr *errors.ValidationError) string {
	switch verr.Field {
	case "code":
		return "Invalid code: it " + verr.Reason + "."
	case "contact":
		return "Contact rejected: " + verr.Reason + "."
	default:
		return fmt.Sprintf("Invalid %s: %s.", strings.ReplaceAll(verr.Field, "_", " "), verr.Reason)
	}
}
