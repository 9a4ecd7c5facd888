// Package event provides a pub-sub event bus for decoupled communication
// between the supervisor, the login flow, and the front-end bridge.
//
// The supervisor publishes worker lifecycle and exit-classification events
// without knowing who consumes them; the login flow subscribes to advance a
// user's handshake; the orchestrator service relays user-facing events to the
// notification sink.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement
//   - [UserEvent]: Events scoped to one user
//   - [Bus]: Synchronous pub-sub event dispatcher
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Worker lifecycle:
//   - [WorkerStartedEvent], [WorkerStoppedEvent], [WorkerExitedEvent]
//
// Login handshake (derived from exit classification or credential changes):
//   - [CodeRequestedEvent], [CodeRejectedEvent], [PasswordRequiredEvent], [AuthorizedEvent]
//
// Credential store:
//   - [CredentialChangedEvent]
//
// Bulk operations:
//   - [BulkCompletedEvent]
//
// # Delivery
//
// Publish calls handlers synchronously on the publishing goroutine, specific
// handlers first, then wildcard handlers. Publishers must not hold locks that
// handlers may need. A panicking handler is logged and skipped.
package event
