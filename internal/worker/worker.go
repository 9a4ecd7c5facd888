package worker

import "context"

// Handle is one spawned worker process.
type Handle interface {
	// RunID uniquely identifies this spawn. Two spawns for the same user
	// never share a RunID.
	RunID() string

	// UserID returns the user the worker was spawned for.
	UserID() int64

	// PID returns the operating system process id, or 0 if unknown.
	PID() int

	// Terminate requests graceful termination. It does not wait for the
	// process to exit and is safe to call more than once or after exit.
	Terminate() error

	// Done is closed once the process has exited.
	Done() <-chan struct{}

	// ExitCode returns the exit status. It is only meaningful after Done is
	// closed; a process killed by a signal reports -1.
	ExitCode() int
}

// Spawner launches workers.
type Spawner interface {
	// Spawn starts a worker for userID with dir as its working directory.
	// It returns as soon as the process is running.
	Spawn(ctx context.Context, userID int64, dir string) (Handle, error)
}
