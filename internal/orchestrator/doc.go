// Package orchestrator is the front-end facing surface of selfvisor.
//
// Service wires the login flow, the supervisor and the bulk orchestrator
// behind one method per front-end command. Every method returns an Outcome;
// errors and panics from the components are logged and turned into a
// failure Outcome with a user-readable message, so nothing propagates to the
// caller.
//
// Worker-reported handshake progress (a code request, a rejected code, a
// password request, a completed login) reaches the user through Sinks.
package orchestrator
