package supervisor

import "github.com/Iron-Ham/selfvisor/internal/credential"

// ExitClass is the interpretation of a worker exit.
type ExitClass string

const (
	// ExitAuthorized means the worker had completed the login.
	ExitAuthorized ExitClass = "authorized"
	// ExitCodeRejected means the platform rejected or expired the code.
	ExitCodeRejected ExitClass = "code_rejected"
	// ExitPasswordRequired means the account needs its second-factor password.
	ExitPasswordRequired ExitClass = "password_required"
	// ExitAwaitingCode means the worker needs a fresh one-time code.
	ExitAwaitingCode ExitClass = "awaiting_code"
	// ExitUnclassified covers every other exit.
	ExitUnclassified ExitClass = "unclassified"
)

// Classify interprets the credential record left behind by an exited worker.
// An explicit login_status wins; otherwise the handshake fields decide.
func Classify(rec *credential.Record) ExitClass {
	switch rec.LoginStatus {
	case credential.StatusAuthorized:
		return ExitAuthorized
	case credential.StatusCodeInvalid, credential.StatusCodeExpired:
		return ExitCodeRejected
	case credential.StatusPasswordNeeded:
		// Also set when a stored password was rejected.
		return ExitPasswordRequired
	case credential.StatusCodeSent:
		return ExitAwaitingCode
	}

	if rec.WantsPassword() {
		return ExitPasswordRequired
	}
	if !rec.HasCode() || !rec.HasPhoneCodeHash() {
		return ExitAwaitingCode
	}
	return ExitUnclassified
}
