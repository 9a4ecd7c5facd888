package login

// State is a user's position in the handshake.
type State int

const (
	Idle State = iota
	AwaitingContact
	AwaitingCode
	AwaitingPassword
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingContact:
		return "awaiting_contact"
	case AwaitingCode:
		return "awaiting_code"
	case AwaitingPassword:
		return "awaiting_password"
	default:
		return "unknown"
	}
}

// Step is the result of one user input.
type Step struct {
	State   State
	Message string
	// Ignored is set when the input was not part of a pending step and
	// deserves no reply.
	Ignored bool
}

// session is the transient handshake state of one user.
type session struct {
	state   State
	apiID   int64
	apiHash string
}
