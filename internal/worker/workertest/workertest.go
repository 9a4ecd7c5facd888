// Package workertest provides an in-memory worker.Spawner for tests.
//
// Handles never start a process. A test decides when a worker exits by
// calling Handle.Exit; Terminate exits the handle with -1 unless the spawner
// was told to ignore terminations.
package workertest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/selfvisor/internal/errors"
	"github.com/Iron-Ham/selfvisor/internal/worker"
)

// Spawner is a fake worker.Spawner. It is safe for concurrent use.
type Spawner struct {
	mu          sync.Mutex
	handles     []*Handle
	failNext    error
	failUsers   map[int64]error
	ignoreTerm  bool
	nextPID     int
	maxLive     map[int64]int
	onSpawn     func(*Handle)
	spawnCalled atomic.Int64
}

// NewSpawner creates a fake Spawner.
func NewSpawner() *Spawner {
	return &Spawner{
		failUsers: make(map[int64]error),
		maxLive:   make(map[int64]int),
		nextPID:   1000,
	}
}

// FailNext makes the next Spawn call fail with err.
func (s *Spawner) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// FailUser makes every Spawn for userID fail with err. A nil err clears it.
func (s *Spawner) FailUser(userID int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failUsers, userID)
		return
	}
	s.failUsers[userID] = err
}

// IgnoreTerminate makes Terminate record the request without exiting the
// handle, like a worker that is slow to shut down.
func (s *Spawner) IgnoreTerminate(ignore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignoreTerm = ignore
}

// OnSpawn registers a hook called after every successful Spawn.
func (s *Spawner) OnSpawn(fn func(*Handle)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSpawn = fn
}

// Spawn implements worker.Spawner.
func (s *Spawner) Spawn(ctx context.Context, userID int64, dir string) (worker.Handle, error) {
	s.spawnCalled.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, errors.NewSpawnError(userID, "fake", err)
	}

	s.mu.Lock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		s.mu.Unlock()
		return nil, errors.NewSpawnError(userID, "fake", err)
	}
	if err, ok := s.failUsers[userID]; ok {
		s.mu.Unlock()
		return nil, errors.NewSpawnError(userID, "fake", err)
	}

	s.nextPID++
	h := &Handle{
		runID:      fmt.Sprintf("run-%d-%d", userID, s.nextPID),
		userID:     userID,
		dir:        dir,
		pid:        s.nextPID,
		ignoreTerm: s.ignoreTerm,
		done:       make(chan struct{}),
	}
	s.handles = append(s.handles, h)

	live := 0
	for _, other := range s.handles {
		if other.userID == userID && other.Live() {
			live++
		}
	}
	if live > s.maxLive[userID] {
		s.maxLive[userID] = live
	}
	hook := s.onSpawn
	s.mu.Unlock()

	if hook != nil {
		hook(h)
	}
	return h, nil
}

// SpawnCalls returns how many times Spawn was called, including failures.
func (s *Spawner) SpawnCalls() int {
	return int(s.spawnCalled.Load())
}

// Handles returns every handle spawned so far, oldest first.
func (s *Spawner) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Handle(nil), s.handles...)
}

// HandlesFor returns the handles spawned for userID, oldest first.
func (s *Spawner) HandlesFor(userID int64) []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Handle
	for _, h := range s.handles {
		if h.userID == userID {
			out = append(out, h)
		}
	}
	return out
}

// Last returns the most recent handle for userID, or nil.
func (s *Spawner) Last(userID int64) *Handle {
	hs := s.HandlesFor(userID)
	if len(hs) == 0 {
		return nil
	}
	return hs[len(hs)-1]
}

// LiveCount returns the number of handles for userID that were neither
// terminated nor exited.
func (s *Spawner) LiveCount(userID int64) int {
	n := 0
	for _, h := range s.HandlesFor(userID) {
		if h.Live() {
			n++
		}
	}
	return n
}

// TotalLive returns the number of live handles across all users.
func (s *Spawner) TotalLive() int {
	n := 0
	for _, h := range s.Handles() {
		if h.Live() {
			n++
		}
	}
	return n
}

// MaxLive returns the highest number of simultaneously live handles ever
// observed for userID at spawn time.
func (s *Spawner) MaxLive(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxLive[userID]
}

// Handle is a fake worker.Handle.
type Handle struct {
	runID      string
	userID     int64
	dir        string
	pid        int
	ignoreTerm bool

	terminated atomic.Int32
	once       sync.Once
	done       chan struct{}
	exitCode   int
}

func (h *Handle) RunID() string         { return h.runID }
func (h *Handle) UserID() int64         { return h.userID }
func (h *Handle) PID() int              { return h.pid }
func (h *Handle) Done() <-chan struct{} { return h.done }

// Dir returns the working directory the handle was spawned with.
func (h *Handle) Dir() string { return h.dir }

// ExitCode implements worker.Handle.
func (h *Handle) ExitCode() int {
	select {
	case <-h.done:
		return h.exitCode
	default:
		return -1
	}
}

// Terminate implements worker.Handle.
func (h *Handle) Terminate() error {
	h.terminated.Add(1)
	if !h.ignoreTerm {
		h.Exit(-1)
	}
	return nil
}

// Exit simulates the process exiting with code. Only the first call has an
// effect.
func (h *Handle) Exit(code int) {
	h.once.Do(func() {
		h.exitCode = code
		close(h.done)
	})
}

// Terminated reports how many times Terminate was called.
func (h *Handle) Terminated() int {
	return int(h.terminated.Load())
}

// Exited reports whether the handle has exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Live reports whether the handle is neither terminated nor exited.
func (h *Handle) Live() bool {
	return h.Terminated() == 0 && !h.Exited()
}

var (
	_ worker.Spawner = (*Spawner)(nil)
	_ worker.Handle  = (*Handle)(nil)
)
