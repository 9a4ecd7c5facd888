package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/selfvisor/internal/errors"
	"github.com/Iron-Ham/selfvisor/internal/logging"
)

// ExecConfig describes how ExecSpawner launches a worker.
type ExecConfig struct {
	// Command is the executable, e.g. "python3".
	Command string

	// Args are passed to Command, e.g. ["Self.py"].
	Args []string

	// Env is appended to the inherited environment.
	Env []string

	// StopTimeout is how long Terminate waits for the process to exit after
	// SIGTERM before sending SIGKILL. Zero disables escalation.
	StopTimeout time.Duration

	// Stdin, Stdout and Stderr default to the supervisor's own streams.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ExecSpawner launches workers as child processes.
type ExecSpawner struct {
	cfg    ExecConfig
	logger *logging.Logger
}

// NewExecSpawner creates an ExecSpawner.
func NewExecSpawner(cfg ExecConfig, logger *logging.Logger) *ExecSpawner {
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &ExecSpawner{cfg: cfg, logger: logger.WithPhase("worker")}
}

// Spawn implements Spawner.
func (s *ExecSpawner) Spawn(ctx context.Context, userID int64, dir string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewSpawnError(userID, s.cfg.Command, err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.NewSpawnError(userID, s.cfg.Command, fmt.Errorf("working directory: %w", err))
	}
	if !info.IsDir() {
		return nil, errors.NewSpawnError(userID, s.cfg.Command, fmt.Errorf("working directory %s is not a directory", dir))
	}

	// The worker outlives the request that started it, so ctx does not
	// bound the process.
	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Stdin = s.cfg.Stdin
	cmd.Stdout = s.cfg.Stdout
	cmd.Stderr = s.cfg.Stderr
	// Own process group so termination reaches the worker's children too
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, errors.NewSpawnError(userID, s.cfg.Command, err)
	}

	h := &execHandle{
		runID:       uuid.NewString(),
		userID:      userID,
		cmd:         cmd,
		pid:         cmd.Process.Pid,
		stopTimeout: s.cfg.StopTimeout,
		done:        make(chan struct{}),
	}
	h.logger = s.logger.WithUser(userID).WithRun(h.runID)
	h.logger.Info("worker spawned", "pid", h.pid, "dir", dir)

	go h.wait()
	return h, nil
}

type execHandle struct {
	runID       string
	userID      int64
	cmd         *exec.Cmd
	pid         int
	stopTimeout time.Duration
	logger      *logging.Logger

	done     chan struct{}
	exitCode int // written before done is closed

	termOnce sync.Once
	termErr  error
}

func (h *execHandle) RunID() string         { return h.runID }
func (h *execHandle) UserID() int64         { return h.userID }
func (h *execHandle) PID() int              { return h.pid }
func (h *execHandle) Done() <-chan struct{} { return h.done }

func (h *execHandle) ExitCode() int {
	select {
	case <-h.done:
		return h.exitCode
	default:
		return -1
	}
}

// Terminate sends SIGTERM to the worker's process group and, when a stop
// timeout is configured, SIGKILL if the worker is still alive afterwards.
func (h *execHandle) Terminate() error {
	select {
	case <-h.done:
		return nil
	default:
	}

	h.termOnce.Do(func() {
		h.logger.Info("terminating worker", "pid", h.pid)
		h.termErr = h.signal(unix.SIGTERM)
		if h.termErr == nil && h.stopTimeout > 0 {
			go h.escalate()
		}
	})
	return h.termErr
}

func (h *execHandle) escalate() {
	timer := time.NewTimer(h.stopTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.C:
		h.logger.Warn("worker ignored SIGTERM, killing", "pid", h.pid, "timeout", h.stopTimeout.String())
		if err := h.signal(unix.SIGKILL); err != nil {
			h.logger.Error("failed to kill worker", "pid", h.pid, "error", err)
		}
	}
}

func (h *execHandle) signal(sig syscall.Signal) error {
	err := unix.Kill(-h.pid, sig)
	if errors.Is(err, unix.ESRCH) {
		// Group already gone; fall back to the leader in case Setpgid
		// was not honoured.
		err = unix.Kill(h.pid, sig)
	}
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("signal %s to pid %d: %w", unix.SignalName(sig), h.pid, err)
	}
	return nil
}

func (h *execHandle) wait() {
	err := h.cmd.Wait()

	code := -1
	if h.cmd.ProcessState != nil {
		code = h.cmd.ProcessState.ExitCode()
	}
	if err != nil && h.cmd.ProcessState == nil {
		h.logger.Error("failed waiting for worker", "pid", h.pid, "error", err)
	}

	h.exitCode = code
	h.logger.Info("worker exited", "pid", h.pid, "exit_code", code)
	close(h.done)
}

var _ Spawner = (*ExecSpawner)(nil)
