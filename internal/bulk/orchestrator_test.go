package bulk

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/selfvisor/internal/credential"
	"github.com/Iron-Ham/selfvisor/internal/errors"
	"github.com/Iron-Ham/selfvisor/internal/event"
	"github.com/Iron-Ham/selfvisor/internal/supervisor"
	"github.com/Iron-Ham/selfvisor/internal/worker/workertest"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fixture struct {
	store   *credential.FileStore
	spawner *workertest.Spawner
	bus     *event.Bus
	sup     *supervisor.Supervisor
	bulk    *Orchestrator

	mu     sync.Mutex
	passes []event.BulkCompletedEvent
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := credential.NewFileStore("/users", credential.WithFs(afero.NewMemMapFs()))
	spawner := workertest.NewSpawner()
	bus := event.NewBus(nil)
	sup := supervisor.New(store, spawner, supervisor.WithBus(bus))

	f := &fixture{
		store:   store,
		spawner: spawner,
		bus:     bus,
		sup:     sup,
		bulk:    New(store, sup, append([]Option{WithBus(bus)}, opts...)...),
	}
	bus.Subscribe(event.TypeBulkCompleted, func(e event.Event) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.passes = append(f.passes, e.(event.BulkCompletedEvent))
	})

	t.Cleanup(func() {
		f.bulk.Close()
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	return f
}

func (f *fixture) addUsers(t *testing.T, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		_, _, err := f.store.Create(id, 123, "abc", "+15550000")
		require.NoError(t, err)
	}
}

func (f *fixture) startUsers(t *testing.T, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		_, err := f.sup.Start(context.Background(), id)
		require.NoError(t, err)
	}
}

func (f *fixture) passCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.passes {
		if p.Op == op {
			n++
		}
	}
	return n
}

func TestStartAll_Empty(t *testing.T) {
	f := newFixture(t)

	counts, err := f.bulk.StartAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{Succeeded: 0, Failed: 0}, counts)
	assert.Equal(t, 1, f.passCount(OpStartAll))
}

func TestStartAll_StartsEveryUser(t *testing.T) {
	f := newFixture(t)
	f.addUsers(t, 1, 2, 3)

	counts, err := f.bulk.StartAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{Succeeded: 3}, counts)
	assert.Equal(t, []int64{1, 2, 3}, f.sup.Active())
}

func TestStartAll_ContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	f.addUsers(t, 1, 2, 3)
	f.spawner.FailUser(2, errors.New("boom"))

	counts, err := f.bulk.StartAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{Succeeded: 2, Failed: 1}, counts)
	assert.Equal(t, []int64{1, 3}, f.sup.Active())
}

func TestStartAll_CancelledContext(t *testing.T) {
	f := newFixture(t)
	f.addUsers(t, 1, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	counts, err := f.bulk.StartAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Failed: 2}, counts)
	assert.Empty(t, f.sup.Active())
}

func TestStopAll(t *testing.T) {
	f := newFixture(t)
	f.addUsers(t, 1, 2, 3)
	f.startUsers(t, 1, 2, 3)

	counts := f.bulk.StopAll()
	assert.Equal(t, Counts{Succeeded: 3, Failed: 0}, counts)
	for _, id := range []int64{1, 2, 3} {
		assert.False(t, f.sup.IsRunning(id))
	}
	assert.Equal(t, 0, f.spawner.TotalLive())
}

func TestStopAll_NothingActive(t *testing.T) {
	f := newFixture(t)
	f.addUsers(t, 1)

	assert.Equal(t, Counts{}, f.bulk.StopAll())
}

func TestRestartAll_EventuallyStartsEveryRecord(t *testing.T) {
	f := newFixture(t, WithRestartDelay(50*time.Millisecond))
	f.addUsers(t, 1, 2, 3, 4)
	f.startUsers(t, 1, 2)

	counts, err := f.bulk.RestartAll()
	require.NoError(t, err)
	assert.Equal(t, Counts{Succeeded: 2}, counts)

	// Nothing runs during the grace window.
	assert.Empty(t, f.sup.Active())
	due, ok := f.bulk.Pending()
	assert.True(t, ok)
	assert.False(t, due.IsZero())

	require.Eventually(t, func() bool {
		return len(f.sup.Active()) == 4
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		_, ok := f.bulk.Pending()
		return !ok
	}, waitFor, tick)
	assert.Equal(t, 1, f.passCount(OpStartAll))
}

func TestRestartAll_SecondRestartSupersedesFirst(t *testing.T) {
	f := newFixture(t, WithRestartDelay(80*time.Millisecond))
	f.addUsers(t, 1, 2, 3)
	f.startUsers(t, 1, 2, 3)

	_, err := f.bulk.RestartAll()
	require.NoError(t, err)
	counts, err := f.bulk.RestartAll()
	require.NoError(t, err)
	assert.Equal(t, Counts{}, counts, "first restart already stopped everyone")

	require.Eventually(t, func() bool {
		return len(f.sup.Active()) == 3
	}, waitFor, tick)
	assert.Never(t, func() bool {
		return f.passCount(OpStartAll) > 1
	}, 200*time.Millisecond, tick)

	for _, id := range []int64{1, 2, 3} {
		assert.Equal(t, 1, f.spawner.LiveCount(id))
		assert.Equal(t, 1, f.spawner.MaxLive(id))
	}
}

func TestCancelPending(t *testing.T) {
	f := newFixture(t, WithRestartDelay(30*time.Millisecond))
	f.addUsers(t, 1)
	f.startUsers(t, 1)

	assert.False(t, f.bulk.CancelPending())

	_, err := f.bulk.RestartAll()
	require.NoError(t, err)
	assert.True(t, f.bulk.CancelPending())
	assert.False(t, f.bulk.CancelPending())

	assert.Never(t, func() bool {
		return f.sup.IsRunning(1)
	}, 150*time.Millisecond, tick)
	assert.Equal(t, 0, f.passCount(OpStartAll))
}

func TestRestartAll_ConcurrentRestartsLeaveOneCancellableTask(t *testing.T) {
	f := newFixture(t, WithRestartDelay(150*time.Millisecond))
	f.addUsers(t, 1, 2, 3)
	f.startUsers(t, 1, 2, 3)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.bulk.RestartAll()
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.True(t, f.bulk.CancelPending())
	_, ok := f.bulk.Pending()
	assert.False(t, ok)

	assert.Never(t, func() bool {
		return f.passCount(OpStartAll) > 0 || len(f.sup.Active()) > 0
	}, 400*time.Millisecond, tick)
}

func TestRestartAll_ConcurrentRestartsStartOnce(t *testing.T) {
	f := newFixture(t, WithRestartDelay(50*time.Millisecond))
	f.addUsers(t, 1, 2, 3)
	f.startUsers(t, 1, 2, 3)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.bulk.RestartAll()
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return len(f.sup.Active()) == 3
	}, waitFor, tick)
	assert.Never(t, func() bool {
		return f.passCount(OpStartAll) > 1
	}, 200*time.Millisecond, tick)
	for _, id := range []int64{1, 2, 3} {
		assert.Equal(t, 1, f.spawner.MaxLive(id))
	}
}

func TestRestartAll_CancelsRunningStartAll(t *testing.T) {
	sup := &blockingSupervisor{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	o := New(stubStore{ids: []int64{1}}, sup, WithRestartDelay(10*time.Millisecond))
	t.Cleanup(o.Close)

	_, err := o.RestartAll()
	require.NoError(t, err)

	// The first deferred start-all is now inside Start.
	select {
	case <-sup.entered:
	case <-time.After(waitFor):
		t.Fatal("deferred start-all did not run")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.RestartAll()
	}()
	require.Eventually(t, func() bool {
		return sup.cancelled.Load()
	}, waitFor, tick, "running start-all was not cancelled")

	close(sup.release)
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("second restart did not complete")
	}
}

// blockingSupervisor parks Start until ctx is cancelled or release closes.
type blockingSupervisor struct {
	release   chan struct{}
	entered   chan struct{}
	cancelled atomic.Bool
}

func (s *blockingSupervisor) Start(ctx context.Context, userID int64) (supervisor.Run, error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
		s.cancelled.Store(true)
		return supervisor.Run{}, ctx.Err()
	case <-s.release:
		return supervisor.Run{UserID: userID}, nil
	}
}

func (s *blockingSupervisor) Stop(int64) error { return nil }
func (s *blockingSupervisor) Active() []int64  { return nil }

func TestClose_RejectsRestart(t *testing.T) {
	f := newFixture(t, WithRestartDelay(time.Hour))
	f.addUsers(t, 1)

	_, err := f.bulk.RestartAll()
	require.NoError(t, err)

	f.bulk.Close()
	_, ok := f.bulk.Pending()
	assert.False(t, ok)

	_, err = f.bulk.RestartAll()
	assert.True(t, errors.Is(err, errors.ErrShuttingDown))
}

type stubStore struct {
	ids []int64
	err error
}

func (s stubStore) ListAll() ([]int64, error) { return s.ids, s.err }

type slowSupervisor struct {
	running atomic.Int64
	peak    atomic.Int64
}

func (s *slowSupervisor) Start(ctx context.Context, userID int64) (supervisor.Run, error) {
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return supervisor.Run{UserID: userID}, nil
}

func (s *slowSupervisor) Stop(int64) error { return nil }
func (s *slowSupervisor) Active() []int64  { return nil }

func TestStartAll_BoundedParallelism(t *testing.T) {
	sup := &slowSupervisor{}
	o := New(stubStore{ids: []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}}, sup, WithMaxParallel(2))
	defer o.Close()

	counts, err := o.StartAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{Succeeded: 10}, counts)
	assert.LessOrEqual(t, sup.peak.Load(), int64(2))
}

func TestStartAll_ListError(t *testing.T) {
	o := New(stubStore{err: errors.New("disk gone")}, &slowSupervisor{})
	defer o.Close()

	_, err := o.StartAll(context.Background())
	require.Error(t, err)
}
