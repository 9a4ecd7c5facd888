package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "worker.started", "login.code_requested")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// UserEvent is an Event that concerns a single user.
type UserEvent interface {
	Event
	User() int64
}

// Event type identifiers.
const (
	TypeWorkerStarted     = "worker.started"
	TypeWorkerStopped     = "worker.stopped"
	TypeWorkerExited      = "worker.exited"
	TypeCodeRequested     = "login.code_requested"
	TypeCodeRejected      = "login.code_rejected"
	TypePasswordRequired  = "login.password_required"
	TypeAuthorized        = "login.authorized"
	TypeLoginStateChanged = "login.state_changed"
	TypeCredentialChanged = "credential.changed"
	TypeBulkCompleted     = "bulk.completed"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

type userBase struct {
	baseEvent
	UserID int64
}

func (e userBase) User() int64 { return e.UserID }

func newUserBase(eventType string, userID int64) userBase {
	return userBase{baseEvent: newBaseEvent(eventType), UserID: userID}
}

// -----------------------------------------------------------------------------
// Worker Lifecycle Events
// -----------------------------------------------------------------------------

// WorkerStartedEvent is emitted after a worker process has been spawned.
type WorkerStartedEvent struct {
	userBase
	RunID    string
	PID      int
	Replaced bool // an earlier worker for the same user was terminated first
}

// NewWorkerStartedEvent creates a WorkerStartedEvent.
func NewWorkerStartedEvent(userID int64, runID string, pid int, replaced bool) WorkerStartedEvent {
	return WorkerStartedEvent{
		userBase: newUserBase(TypeWorkerStarted, userID),
		RunID:    runID,
		PID:      pid,
		Replaced: replaced,
	}
}

// WorkerStoppedEvent is emitted when a worker is removed from the active set
// on request (stop, stopAll, shutdown) rather than by exiting on its own.
type WorkerStoppedEvent struct {
	userBase
	RunID  string
	Reason string
}

// NewWorkerStoppedEvent creates a WorkerStoppedEvent.
func NewWorkerStoppedEvent(userID int64, runID, reason string) WorkerStoppedEvent {
	return WorkerStoppedEvent{
		userBase: newUserBase(TypeWorkerStopped, userID),
		RunID:    runID,
		Reason:   reason,
	}
}

// WorkerExitedEvent is emitted when the active worker of a user exits and
// its exit has been classified.
type WorkerExitedEvent struct {
	userBase
	RunID          string
	ExitCode       int
	Classification string
}

// NewWorkerExitedEvent creates a WorkerExitedEvent.
func NewWorkerExitedEvent(userID int64, runID string, exitCode int, classification string) WorkerExitedEvent {
	return WorkerExitedEvent{
		userBase:       newUserBase(TypeWorkerExited, userID),
		RunID:          runID,
		ExitCode:       exitCode,
		Classification: classification,
	}
}

// -----------------------------------------------------------------------------
// Login Handshake Events
// -----------------------------------------------------------------------------

// CodeRequestedEvent asks the user to send a (new) one-time code.
type CodeRequestedEvent struct {
	userBase
}

// NewCodeRequestedEvent creates a CodeRequestedEvent.
func NewCodeRequestedEvent(userID int64) CodeRequestedEvent {
	return CodeRequestedEvent{userBase: newUserBase(TypeCodeRequested, userID)}
}

// CodeRejectedEvent reports that the worker rejected the submitted code.
type CodeRejectedEvent struct {
	userBase
	Reason string // "code_invalid" or "code_expired"
}

// NewCodeRejectedEvent creates a CodeRejectedEvent.
func NewCodeRejectedEvent(userID int64, reason string) CodeRejectedEvent {
	return CodeRejectedEvent{userBase: newUserBase(TypeCodeRejected, userID), Reason: reason}
}

// PasswordRequiredEvent reports that the account needs its second-factor password.
type PasswordRequiredEvent struct {
	userBase
}

// NewPasswordRequiredEvent creates a PasswordRequiredEvent.
func NewPasswordRequiredEvent(userID int64) PasswordRequiredEvent {
	return PasswordRequiredEvent{userBase: newUserBase(TypePasswordRequired, userID)}
}

// AuthorizedEvent reports that the worker recorded a successful login.
type AuthorizedEvent struct {
	userBase
}

// NewAuthorizedEvent creates an AuthorizedEvent.
func NewAuthorizedEvent(userID int64) AuthorizedEvent {
	return AuthorizedEvent{userBase: newUserBase(TypeAuthorized, userID)}
}

// LoginStateChangedEvent is emitted when a user's handshake stage changes.
type LoginStateChangedEvent struct {
	userBase
	From string
	To   string
}

// NewLoginStateChangedEvent creates a LoginStateChangedEvent.
func NewLoginStateChangedEvent(userID int64, from, to string) LoginStateChangedEvent {
	return LoginStateChangedEvent{userBase: newUserBase(TypeLoginStateChanged, userID), From: from, To: to}
}

// -----------------------------------------------------------------------------
// Credential Events
// -----------------------------------------------------------------------------

// CredentialChangedEvent is emitted when a user's credential file changed
// on disk, usually because the worker wrote back handshake flags.
type CredentialChangedEvent struct {
	userBase
	Path string
}

// NewCredentialChangedEvent creates a CredentialChangedEvent.
func NewCredentialChangedEvent(userID int64, path string) CredentialChangedEvent {
	return CredentialChangedEvent{userBase: newUserBase(TypeCredentialChanged, userID), Path: path}
}

// -----------------------------------------------------------------------------
// Bulk Events
// -----------------------------------------------------------------------------

// BulkCompletedEvent is emitted when a start-all or stop-all pass finishes.
type BulkCompletedEvent struct {
	baseEvent
	Op        string // "start_all" or "stop_all"
	Succeeded int
	Failed    int
}

// NewBulkCompletedEvent creates a BulkCompletedEvent.
func NewBulkCompletedEvent(op string, succeeded, failed int) BulkCompletedEvent {
	return BulkCompletedEvent{
		baseEvent: newBaseEvent(TypeBulkCompleted),
		Op:        op,
		Succeeded: succeeded,
		Failed:    failed,
	}
}
