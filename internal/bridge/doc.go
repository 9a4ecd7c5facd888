// Package bridge connects front ends to the orchestrator over WebSocket.
//
// A front end (a chat bot process, an admin console) connects to /ws and
// sends one JSON text frame per command. Each command gets exactly one reply
// frame carrying the request id. Worker-reported handshake progress is pushed
// to every connected client as notification frames:
//
//	-> {"id":"1","op":"register_start","user_id":42,"api_id":123,"api_hash":"abc"}
//	<- {"id":"1","type":"reply","success":true,"message":"Share your contact to continue."}
//	<- {"type":"notification","user_id":42,"kind":"code_requested","message":"..."}
//
// Replies are always delivered while the connection is open. Notifications
// are best effort: each client has a bounded queue and a notification that
// does not fit is dropped for that client.
//
// The Server uses a narrow interface ([Commands]) so tests can substitute a
// stub for the orchestrator. It implements orchestrator.Sink.
//
// Lifecycle:
//
//	s := bridge.New(svc, bridge.WithAddr("127.0.0.1:8089"))
//	svc.AddSink(s)
//	err := s.Run(ctx) // serves until ctx is cancelled
package bridge
