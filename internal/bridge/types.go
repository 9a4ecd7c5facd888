package bridge

import (
	"context"

	"github.com/Iron-Ham/selfvisor/internal/orchestrator"
)

// Commands is the front-end surface the bridge dispatches to.
// *orchestrator.Service satisfies it.
type Commands interface {
	// RegisterStart stages an identity pair for a user
	RegisterStart(ctx context.Context, userID, apiID int64, apiHash string) orchestrator.Outcome
	// RegisterContact completes registration with a shared contact
	RegisterContact(ctx context.Context, userID, assertedID int64, phone string) orchestrator.Outcome
	// SubmitText routes free text to the user's pending handshake step
	SubmitText(ctx context.Context, userID int64, text string) orchestrator.Outcome
	// Stop terminates the user's worker
	Stop(userID int64) orchestrator.Outcome
	// StopAll terminates every worker
	StopAll() orchestrator.Outcome
	// StartAll starts a worker for every registered user
	StartAll(ctx context.Context) orchestrator.Outcome
	// RestartAll stops every worker and schedules a start of all of them
	RestartAll() orchestrator.Outcome
	// Status reports whether the user's worker is running
	Status(userID int64) orchestrator.Outcome
}

// Command names accepted in Request.Op.
const (
	OpRegisterStart   = "register_start"
	OpRegisterContact = "register_contact"
	OpSubmitText      = "submit_text"
	OpStop            = "stop"
	OpStopAll         = "stop_all"
	OpStartAll        = "start_all"
	OpRestartAll      = "restart_all"
	OpStatus          = "status"
)

// Frame types sent to clients.
const (
	TypeReply        = "reply"
	TypeNotification = "notification"
)

// Request is a command frame sent by a client.
type Request struct {
	ID         string `json:"id"`
	Op         string `json:"op"`
	UserID     int64  `json:"user_id,omitempty"`
	APIID      int64  `json:"api_id,omitempty"`
	APIHash    string `json:"api_hash,omitempty"`
	AssertedID int64  `json:"asserted_id,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Text       string `json:"text,omitempty"`
}

// Reply answers one Request.
type Reply struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Running bool   `json:"running"`
	Silent  bool   `json:"silent"`
}

// Push carries a notification to clients.
type Push struct {
	Type    string `json:"type"`
	UserID  int64  `json:"user_id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func newReply(id string, out orchestrator.Outcome) Reply {
	return Reply{
		ID:      id,
		Type:    TypeReply,
		Success: out.Success,
		Message: out.Message,
		Running: out.Running,
		Silent:  out.Silent,
	}
}

func newPush(n orchestrator.Notification) Push {
	return Push{
		Type:    TypeNotification,
		UserID:  n.UserID,
		Kind:    n.Kind,
		Message: n.Message,
	}
}
