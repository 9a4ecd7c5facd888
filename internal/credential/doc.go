// Package credential stores the per-user credential record that bridges the
// orchestrator and the external worker process.
//
// Each user owns one directory below the users root, named after the user id,
// holding a single JSON file (credentials.json by default). The orchestrator
// writes the identity pair, phone, code and password; the worker reads them and
// writes back phone_code_hash, needs_password and, optionally, login_status.
//
// FileStore serializes updates per user, in process through a keyed mutex and
// across processes through flock(2), and replaces the file atomically so the
// worker never observes a partial write. Watcher reports changes made by the
// worker as event.CredentialChangedEvent.
package credential
