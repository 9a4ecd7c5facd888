// Package supervisor owns the mapping from user to the single active worker.
//
// All mutations of one user's entry (start, stop, replace and the removal on
// exit) run under a per-user lock, so for any user at most one worker is
// registered as active at any instant. Every spawn carries a fresh run id;
// an exit notification whose run id no longer matches the active entry is
// stale and is discarded.
//
// When the active worker exits on its own, the supervisor reads the user's
// credential record and classifies the exit:
//
//	login_status=authorized                      -> ExitAuthorized
//	login_status=code_invalid|code_expired       -> ExitCodeRejected
//	login_status=password_needed (even with a
//	stored password, which was then rejected), or
//	needs_password without a stored password     -> ExitPasswordRequired
//	login_status=code_sent, or
//	code or phone_code_hash missing              -> ExitAwaitingCode
//	anything else                                -> ExitUnclassified
//
// Each classification is published on the event bus exactly once per exit.
package supervisor
