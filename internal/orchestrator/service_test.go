package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/selfvisor/internal/bulk"
	"github.com/Iron-Ham/selfvisor/internal/credential"
	"github.com/Iron-Ham/selfvisor/internal/errors"
	"github.com/Iron-Ham/selfvisor/internal/event"
	"github.com/Iron-Ham/selfvisor/internal/login"
	"github.com/Iron-Ham/selfvisor/internal/supervisor"
	"github.com/Iron-Ham/selfvisor/internal/worker/workertest"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type recordingSink struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recordingSink) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recordingSink) kinds(userID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.notes {
		if n.UserID == userID {
			out = append(out, n.Kind)
		}
	}
	return out
}

type fixture struct {
	store   *credential.FileStore
	spawner *workertest.Spawner
	bus     *event.Bus
	sup     *supervisor.Supervisor
	flow    *login.Flow
	sink    *recordingSink
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := credential.NewFileStore("/users", credential.WithFs(afero.NewMemMapFs()))
	spawner := workertest.NewSpawner()
	bus := event.NewBus(nil)
	sup := supervisor.New(store, spawner, supervisor.WithBus(bus))
	flow := login.New(store, sup, login.WithBus(bus))
	b := bulk.New(store, sup, bulk.WithBus(bus), bulk.WithRestartDelay(20*time.Millisecond))
	sink := &recordingSink{}

	f := &fixture{
		store:   store,
		spawner: spawner,
		bus:     bus,
		sup:     sup,
		flow:    flow,
		sink:    sink,
		svc:     New(store, sup, flow, b, WithBus(bus), WithSink(sink)),
	}
	t.Cleanup(func() {
		f.svc.Close()
		b.Close()
		flow.Close()
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	return f
}

func (f *fixture) register(t *testing.T, userID int64) {
	t.Helper()
	ctx := context.Background()
	require.True(t, f.svc.RegisterStart(ctx, userID, 123, "abc").Success)
	require.True(t, f.svc.RegisterContact(ctx, userID, userID, "+15550000").Success)
}

func TestService_Registration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out := f.svc.RegisterStart(ctx, 42, 123, "abc")
	assert.True(t, out.Success)
	assert.Contains(t, out.Message, "contact")

	out = f.svc.RegisterContact(ctx, 42, 42, "+15550000")
	assert.True(t, out.Success)
	assert.Contains(t, out.Message, "code")

	status := f.svc.Status(42)
	assert.True(t, status.Success)
	assert.True(t, status.Running)
	assert.Contains(t, status.Message, "Worker: running")
	assert.Contains(t, status.Message, "Login: awaiting code")
	assert.NotContains(t, status.Message, "Credentials")
}

func TestService_SpoofedContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.svc.RegisterStart(ctx, 42, 123, "abc").Success)
	out := f.svc.RegisterContact(ctx, 42, 99, "+15550000")
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "Contact rejected")
	assert.Equal(t, login.AwaitingContact, f.flow.State(42))
}

func TestService_InvalidCode(t *testing.T) {
	f := newFixture(t)
	f.register(t, 42)

	out := f.svc.SubmitText(context.Background(), 42, "abcde")
	assert.False(t, out.Success)
	assert.Equal(t, "Invalid code: it must contain exactly 5 digits.", out.Message)

	out = f.svc.SubmitText(context.Background(), 42, "1.2.3.4.5")
	assert.True(t, out.Success)
	assert.False(t, out.Silent)
}

func TestService_TextWithoutPendingStepIsSilent(t *testing.T) {
	f := newFixture(t)

	out := f.svc.SubmitText(context.Background(), 42, "hello")
	assert.True(t, out.Success)
	assert.True(t, out.Silent)
	assert.Empty(t, out.Message)
}

func TestService_Stop(t *testing.T) {
	f := newFixture(t)

	out := f.svc.Stop(42)
	assert.False(t, out.Success)
	assert.Equal(t, "No active worker.", out.Message)

	f.register(t, 42)
	out = f.svc.Stop(42)
	assert.True(t, out.Success)
	assert.False(t, f.svc.Status(42).Running)
}

func TestService_BulkCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, "Started 0 worker(s), 0 failed.", f.svc.StartAll(ctx).Message)

	for _, id := range []int64{1, 2, 3} {
		_, _, err := f.store.Create(id, 123, "abc", "+1555")
		require.NoError(t, err)
	}
	assert.Equal(t, "Started 3 worker(s), 0 failed.", f.svc.StartAll(ctx).Message)
	assert.Equal(t, "Stopped 3 worker(s), 0 failed.", f.svc.StopAll().Message)
	for _, id := range []int64{1, 2, 3} {
		assert.False(t, f.svc.Status(id).Running)
	}

	out := f.svc.RestartAll()
	assert.True(t, out.Success)
	assert.Contains(t, out.Message, "Stopped 0 worker(s).")
	require.Eventually(t, func() bool {
		return len(f.sup.Active()) == 3
	}, waitFor, tick)
}

func TestService_StatusUnregistered(t *testing.T) {
	f := newFixture(t)

	out := f.svc.Status(7)
	assert.True(t, out.Success)
	assert.False(t, out.Running)
	assert.Contains(t, out.Message, "Worker: not running")
	assert.Contains(t, out.Message, "Credentials: not registered")
}

func TestService_RelaysCodeRequestOnce(t *testing.T) {
	f := newFixture(t)
	f.register(t, 42)

	f.spawner.Last(42).Exit(0)
	require.Eventually(t, func() bool {
		return len(f.sink.kinds(42)) == 1
	}, waitFor, tick)
	assert.Never(t, func() bool {
		return len(f.sink.kinds(42)) > 1
	}, 50*time.Millisecond, tick)
	assert.Equal(t, []string{KindCodeRequested}, f.sink.kinds(42))
}

func TestService_RelaysPasswordRequestOnce(t *testing.T) {
	f := newFixture(t)
	f.register(t, 42)
	require.True(t, f.svc.SubmitText(context.Background(), 42, "12345").Success)

	_, err := f.store.Update(42, func(r *credential.Record) error {
		hash := "hash"
		r.PhoneCodeHash = &hash
		r.NeedsPassword = true
		return nil
	})
	require.NoError(t, err)
	// The watcher and the exit both report the password request.
	f.bus.Publish(event.NewCredentialChangedEvent(42, f.store.Path(42)))
	f.spawner.Last(42).Exit(0)

	require.Eventually(t, func() bool {
		_, running := f.sup.Lookup(42)
		return !running
	}, waitFor, tick)
	assert.Never(t, func() bool {
		return len(f.sink.kinds(42)) > 1
	}, 50*time.Millisecond, tick)
	assert.Equal(t, []string{KindPasswordRequired}, f.sink.kinds(42))

	out := f.svc.SubmitText(context.Background(), 42, "hunter2")
	assert.True(t, out.Success)
	assert.Equal(t, login.Idle, f.flow.State(42))
}

func TestService_RelaysRejectedCode(t *testing.T) {
	f := newFixture(t)
	f.register(t, 42)

	var got Notification
	f.svc.AddSink(SinkFunc(func(n Notification) { got = n }))
	f.bus.Publish(event.NewCodeRejectedEvent(42, "code_expired"))

	assert.Equal(t, KindCodeRejected, got.Kind)
	assert.Equal(t, int64(42), got.UserID)
	assert.Contains(t, got.Message, "expired")
}

func TestService_PanicBecomesFailure(t *testing.T) {
	store := credential.NewFileStore("/users", credential.WithFs(afero.NewMemMapFs()))
	sup := supervisor.New(store, workertest.NewSpawner())
	svc := New(store, sup, nil, nil)

	out := svc.RegisterStart(context.Background(), 42, 123, "abc")
	assert.False(t, out.Success)
	assert.Equal(t, "Something went wrong. Try again later.", out.Message)

	out = svc.StopAll()
	assert.False(t, out.Success)
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errors.NewUserError("stop worker", 1, errors.ErrNoActiveWorker), "No active worker."},
		{errors.NewUserError("read credentials", 1, errors.ErrNotFound), "You are not registered yet."},
		{errors.NewSpawnError(1, "python3", errors.New("not found")), "Could not start the worker. Try again later."},
		{errors.ErrShuttingDown, "The service is shutting down."},
		{context.Canceled, "The request was cancelled."},
		{errors.NewValidationError("api_id", "must be a positive integer"), "Invalid api id: must be a positive integer."},
		{errors.NewValidationError("contact", "the shared contact does not belong to you"), "Contact rejected: the shared contact does not belong to you."},
		{errors.New("disk on fire"), "Something went wrong. Try again later."},
	}

	for _, tc := range tests {
		t.Run(fmt.Sprint(tc.err), func(t *testing.T) {
			assert.Equal(t, tc.want, describe(tc.err))
		})
	}
}
