// Package login drives the per-user registration handshake.
//
// Each user is in one of four states:
//
//	Idle -> AwaitingContact -> AwaitingCode -> AwaitingPassword -> Idle
//
// User input (a registration request, a shared contact, free text) moves a
// user forward synchronously. Worker-reported progress arrives on the event
// bus: a request for a new code or a rejected code moves the user back to
// AwaitingCode, a password request moves them to AwaitingPassword, and a
// completed login returns them to Idle.
//
// Free text from a user with no pending step is ignored. Identity pairs are
// staged in memory until the contact step; nothing is written to the
// credential store before the shared contact has been verified.
package login
