package login

import (
	"context"
	"strings"
	"sync"

	"github.com/Iron-Ham/selfvisor/internal/credential"
	"github.com/Iron-Ham/selfvisor/internal/errors"
	"github.com/Iron-Ham/selfvisor/internal/event"
	"github.com/Iron-Ham/selfvisor/internal/keylock"
	"github.com/Iron-Ham/selfvisor/internal/logging"
	"github.com/Iron-Ham/selfvisor/internal/supervisor"
)

// Starter launches (or replaces) the worker of a user.
// *supervisor.Supervisor satisfies it.
type Starter interface {
	Start(ctx context.Context, userID int64) (supervisor.Run, error)
}

// Option configures a Flow.
type Option func(*Flow)

// WithBus subscribes the flow to worker-reported handshake events and
// publishes state changes on bus.
func WithBus(bus *event.Bus) Option {
	return func(f *Flow) {
		f.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(f *Flow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithCodeLength sets the number of digits of a one-time code.
func WithCodeLength(n int) Option {
	return func(f *Flow) {
		if n > 0 {
			f.codeLength = n
		}
	}
}

// Flow is the per-user login state machine. It is safe for concurrent use;
// inputs for one user are serialized, inputs for different users are not.
type Flow struct {
	store      credential.Store
	starter    Starter
	bus        *event.Bus
	logger     *logging.Logger
	codeLength int

	locks keylock.Map[int64]

	mu       sync.RWMutex
	sessions map[int64]*session
	subs     []string
}

// New creates a Flow in which every user starts Idle.
func New(store credential.Store, starter Starter, opts ...Option) *Flow {
	f := &Flow{
		store:      store,
		starter:    starter,
		logger:     logging.NopLogger(),
		codeLength: DefaultCodeLength,
		sessions:   make(map[int64]*session),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.WithPhase("login")

	if f.bus != nil {
		f.subs = []string{
			f.bus.Subscribe(event.TypeCodeRequested, f.onCodeNeeded),
			f.bus.Subscribe(event.TypeCodeRejected, f.onCodeNeeded),
			f.bus.Subscribe(event.TypePasswordRequired, f.onPasswordRequired),
			f.bus.Subscribe(event.TypeCredentialChanged, f.onCredentialChanged),
			f.bus.Subscribe(event.TypeAuthorized, f.onAuthorized),
		}
	}
	return f
}

// Close unsubscribes the flow from the event bus.
func (f *Flow) Close() {
	if f.bus == nil {
		return
	}
	for _, id := range f.subs {
		f.bus.Unsubscribe(id)
	}
	f.subs = nil
}

// CodeLength returns the number of digits expected in a one-time code.
func (f *Flow) CodeLength() int {
	return f.codeLength
}

// State returns the handshake state of userID.
func (f *Flow) State(userID int64) State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if s, ok := f.sessions[userID]; ok {
		return s.state
	}
	return Idle
}

// Reset forgets any pending handshake of userID.
func (f *Flow) Reset(userID int64) {
	f.locks.Lock(userID)
	from := f.transition(userID, Idle)
	f.locks.Unlock(userID)

	f.publishChange(userID, from, Idle)
}

// RegisterStart stages an identity pair and asks for the user's contact.
// A registration restarts the handshake from any state. The credential store
// is not touched.
func (f *Flow) RegisterStart(ctx context.Context, userID, apiID int64, apiHash string) (Step, error) {
	if err := ctx.Err(); err != nil {
		return Step{}, err
	}
	apiHash = strings.TrimSpace(apiHash)
	if apiID <= 0 {
		return Step{State: f.State(userID)}, errors.NewValidationError("api_id", "must be a positive integer")
	}
	if apiHash == "" {
		return Step{State: f.State(userID)}, errors.NewValidationError("api_hash", "cannot be empty")
	}

	f.locks.Lock(userID)
	from := f.State(userID)
	f.mu.Lock()
	f.sessions[userID] = &session{state: AwaitingContact, apiID: apiID, apiHash: apiHash}
	f.mu.Unlock()
	f.locks.Unlock(userID)

	f.logger.WithUser(userID).Info("registration started", "api_id", apiID)
	f.publishChange(userID, from, AwaitingContact)
	return Step{State: AwaitingContact, Message: "Share your contact to continue."}, nil
}

// RegisterContact completes the contact step. The asserted identity must be
// the requesting user. On success the credential record is created, the
// worker is started and the user moves to AwaitingCode.
func (f *Flow) RegisterContact(ctx context.Context, userID, assertedID int64, phone string) (Step, error) {
	logger := f.logger.WithUser(userID)

	f.locks.Lock(userID)
	step, err := func() (Step, error) {
		f.mu.RLock()
		s, ok := f.sessions[userID]
		var staged session
		if ok {
			staged = *s
		}
		f.mu.RUnlock()

		if !ok || staged.state != AwaitingContact {
			return Step{State: staged.state}, errors.NewValidationError("contact", "no registration is pending; start a registration first")
		}
		if assertedID != userID {
			logger.Warn("rejected contact for another identity", "asserted_id", assertedID)
			return Step{State: AwaitingContact}, errors.NewValidationError("contact", "the shared contact does not belong to you")
		}
		phone = strings.TrimSpace(phone)
		if phone == "" {
			return Step{State: AwaitingContact}, errors.NewValidationError("phone", "cannot be empty")
		}

		rec, created, err := f.store.Create(userID, staged.apiID, staged.apiHash, phone)
		if err != nil {
			return Step{State: AwaitingContact}, err
		}
		if !created {
			if rec.APIID != staged.apiID || rec.APIHash != staged.apiHash {
				logger.Warn("keeping stored identity pair; staged pair differs")
			}
			if _, err := f.store.Update(userID, func(r *credential.Record) error {
				r.ResetHandshake()
				return nil
			}); err != nil {
				return Step{State: AwaitingContact}, err
			}
		}

		if _, err := f.starter.Start(ctx, userID); err != nil {
			return Step{State: AwaitingContact}, err
		}

		f.transition(userID, AwaitingCode)
		return Step{State: AwaitingCode, Message: "Worker started. Send the login code you receive."}, nil
	}()
	f.locks.Unlock(userID)

	if err != nil {
		return step, err
	}
	logger.Info("contact verified, waiting for code")
	f.publishChange(userID, AwaitingContact, AwaitingCode)
	return step, nil
}

// SubmitText routes free text to the pending step of userID: a one-time code
// in AwaitingCode, the password in AwaitingPassword. Text in any other state
// is ignored.
func (f *Flow) SubmitText(ctx context.Context, userID int64, text string) (Step, error) {
	f.locks.Lock(userID)
	from := f.State(userID)
	var (
		step Step
		err  error
	)
	switch from {
	case AwaitingCode:
		step, err = f.submitCode(ctx, userID, text)
	case AwaitingPassword:
		step, err = f.submitPassword(ctx, userID, text)
	default:
		step = Step{State: from, Ignored: true}
	}
	f.locks.Unlock(userID)

	if err == nil {
		f.publishChange(userID, from, step.State)
	}
	return step, err
}

// submitCode runs under the user lock.
func (f *Flow) submitCode(ctx context.Context, userID int64, text string) (Step, error) {
	code, err := NormalizeCode(text, f.codeLength)
	if err != nil {
		return Step{State: AwaitingCode}, err
	}

	if _, err := f.store.Update(userID, func(r *credential.Record) error {
		r.SetCode(code)
		r.LoginStatus = credential.StatusNone
		return nil
	}); err != nil {
		return Step{State: AwaitingCode}, err
	}

	if _, err := f.starter.Start(ctx, userID); err != nil {
		return Step{State: AwaitingCode}, err
	}

	f.logger.WithUser(userID).Info("code submitted, worker restarted")
	return Step{State: AwaitingCode, Message: "Code received. Signing in..."}, nil
}

// submitPassword runs under the user lock.
func (f *Flow) submitPassword(ctx context.Context, userID int64, text string) (Step, error) {
	if strings.TrimSpace(text) == "" {
		return Step{State: AwaitingPassword}, errors.NewValidationError("password", "cannot be empty")
	}

	if _, err := f.store.Update(userID, func(r *credential.Record) error {
		r.SetPassword(text)
		r.LoginStatus = credential.StatusNone
		return nil
	}); err != nil {
		return Step{State: AwaitingPassword}, err
	}

	if _, err := f.starter.Start(ctx, userID); err != nil {
		return Step{State: AwaitingPassword}, err
	}

	f.transition(userID, Idle)
	f.logger.WithUser(userID).Info("password submitted, worker restarted")
	return Step{State: Idle, Message: "Password received. Signing in..."}, nil
}

func (f *Flow) onCodeNeeded(e event.Event) {
	ue, ok := e.(event.UserEvent)
	if !ok {
		return
	}
	f.moveIf(ue.User(), AwaitingCode, Idle, AwaitingCode, AwaitingPassword)
}

func (f *Flow) onPasswordRequired(e event.Event) {
	ue, ok := e.(event.UserEvent)
	if !ok {
		return
	}
	f.moveIf(ue.User(), AwaitingPassword, Idle, AwaitingCode)
}

// onCredentialChanged inspects a record the worker rewrote. A worker that
// asks for a password while still running is noticed here rather than on
// its exit.
func (f *Flow) onCredentialChanged(e event.Event) {
	ue, ok := e.(event.UserEvent)
	if !ok {
		return
	}
	userID := ue.User()

	state := f.State(userID)
	if state != Idle && state != AwaitingCode {
		return
	}
	rec, err := f.store.Read(userID)
	if err != nil {
		f.logger.WithUser(userID).Debug("ignoring credential change", "error", err)
		return
	}
	if rec.WantsPassword() {
		f.moveIf(userID, AwaitingPassword, Idle, AwaitingCode)
	}
}

func (f *Flow) onAuthorized(e event.Event) {
	ue, ok := e.(event.UserEvent)
	if !ok {
		return
	}
	f.moveIf(ue.User(), Idle, AwaitingCode, AwaitingPassword)
}

// moveIf moves userID to target when its current state is one of allowed.
func (f *Flow) moveIf(userID int64, target State, allowed ...State) {
	f.locks.Lock(userID)
	from := f.State(userID)
	moved := false
	for _, s := range allowed {
		if s == from && s != target {
			f.transition(userID, target)
			moved = true
			break
		}
	}
	f.locks.Unlock(userID)

	if moved {
		f.logger.WithUser(userID).Info("handshake state changed by worker", "from", from.String(), "to", target.String())
		f.publishChange(userID, from, target)
	}
}

// transition sets the state of userID, keeping any staged identity pair, and
// returns the previous state. Idle users are dropped from the map. Callers
// hold the user lock.
func (f *Flow) transition(userID int64, to State) State {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.sessions[userID]
	from := Idle
	if ok {
		from = s.state
	}
	if to == Idle {
		delete(f.sessions, userID)
		return from
	}
	if !ok {
		s = &session{}
		f.sessions[userID] = s
	}
	s.state = to
	return from
}

func (f *Flow) publishChange(userID int64, from, to State) {
	if f.bus == nil || from == to {
		return
	}
	f.bus.Publish(event.NewLoginStateChangedEvent(userID, from.String(), to.String()))
}
