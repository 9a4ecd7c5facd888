// Package worker abstracts the external per-user worker process.
//
// A Spawner launches one worker bound to a user directory and returns a
// Handle. The worker runs independently: it reads the credential file from
// its working directory, may write handshake flags back, and eventually exits.
// The Handle is the orchestrator's only view of the process:
//
//   - [Handle.Terminate] requests graceful termination and returns without
//     waiting for the process to die
//   - [Handle.Done] is closed exactly once, after the process exited
//   - [Handle.ExitCode] reports the exit status once Done is closed
//
// [ExecSpawner] runs real processes with os/exec. The workertest package
// provides a fake Spawner for tests that must not launch processes.
package worker
