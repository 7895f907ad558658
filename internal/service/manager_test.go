package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/videoloft-bridge/internal/logger"
)

// recorder collects start/stop calls across fake services
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeService struct {
	*ServiceBase
	rec       *recorder
	startErr  error
	stopErr   error
	stopDelay time.Duration
}

func newFake(name string, rec *recorder) *fakeService {
	return &fakeService{ServiceBase: NewServiceBase(name, logger.NewNopLogger()), rec: rec}
}

func (f *fakeService) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.rec.add("start:" + f.Name())
	return nil
}

func (f *fakeService) Stop(ctx context.Context) error {
	time.Sleep(f.stopDelay)
	f.rec.add("stop:" + f.Name())
	return f.stopErr
}

func shutdown(t *testing.T, mgr *Manager, timeout time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return mgr.Shutdown(ctx)
}

func TestManager_RegisterWiresEventBus(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	streams := newFake("stream-manager", &recorder{})

	mgr.Register(streams)

	assert.Equal(t, 1, mgr.GetServiceCount())
	assert.Same(t, mgr.GetEventBus(), streams.GetEventBus())
	require.NotNil(t, mgr.GetServiceStatus("stream-manager"))
	assert.Equal(t, StatusStopped, mgr.GetServiceStatus("stream-manager").GetStatus())
	assert.Nil(t, mgr.GetServiceStatus("unknown"))
}

func TestManager_StartsInOrderStopsInReverse(t *testing.T) {
	rec := &recorder{}
	mgr := NewManager(logger.NewNopLogger())
	mgr.Register(newFake("stream-manager", rec))
	mgr.Register(newFake("thumbnails", rec))
	mgr.RegisterRequired(newFake("web-server", rec))

	require.NoError(t, mgr.Start(context.Background()))
	for name, st := range mgr.GetAllStatuses() {
		assert.True(t, st.IsRunning(), name)
	}

	require.NoError(t, shutdown(t, mgr, 5*time.Second))
	assert.Equal(t, []string{
		"start:stream-manager", "start:thumbnails", "start:web-server",
		"stop:web-server", "stop:thumbnails", "stop:stream-manager",
	}, rec.list())
	assert.Equal(t, StatusStopped, mgr.GetServiceStatus("web-server").GetStatus())
}

func TestManager_OptionalFailureDoesNotAbort(t *testing.T) {
	rec := &recorder{}
	mgr := NewManager(logger.NewNopLogger())
	notifier := newFake("notifier", rec)
	notifier.startErr = errors.New("broker unreachable")
	mgr.Register(notifier)
	mgr.Register(newFake("lpr", rec))

	require.NoError(t, mgr.Start(context.Background()))

	st := mgr.GetServiceStatus("notifier")
	assert.Equal(t, StatusError, st.GetStatus())
	assert.EqualError(t, st.GetError(), "broker unreachable")
	assert.True(t, mgr.GetServiceStatus("lpr").IsRunning())

	// a service that never started is not stopped
	require.NoError(t, shutdown(t, mgr, 5*time.Second))
	assert.Equal(t, []string{"start:lpr", "stop:lpr"}, rec.list())
}

func TestManager_RequiredFailureAborts(t *testing.T) {
	rec := &recorder{}
	mgr := NewManager(logger.NewNopLogger())
	mgr.Register(newFake("stream-manager", rec))
	server := newFake("web-server", rec)
	server.startErr = errors.New("address already in use")
	mgr.RegisterRequired(server)
	mgr.Register(newFake("lpr", rec))

	err := mgr.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "web-server")
	assert.Contains(t, err.Error(), "address already in use")

	require.NoError(t, shutdown(t, mgr, 5*time.Second))
	assert.Equal(t, []string{"start:stream-manager", "stop:stream-manager"}, rec.list())
	assert.Equal(t, StatusStopped, mgr.GetServiceStatus("lpr").GetStatus())
}

func TestManager_StopErrorRecorded(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	svc := newFake("analysis", &recorder{})
	svc.stopErr = errors.New("task still draining")
	mgr.Register(svc)

	require.NoError(t, mgr.Start(context.Background()))
	require.NoError(t, shutdown(t, mgr, 5*time.Second))

	assert.Equal(t, StatusError, mgr.GetServiceStatus("analysis").GetStatus())
}

func TestManager_ShutdownTimeout(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	svc := newFake("thumbnails", &recorder{})
	svc.stopDelay = 2 * time.Second
	mgr.Register(svc)

	require.NoError(t, mgr.Start(context.Background()))
	err := shutdown(t, mgr, 50*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutdown timeout")
}

func TestManager_PublishesLifecycleEvents(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	started := mgr.GetEventBus().Subscribe(EventTypeServiceStarted)
	failed := mgr.GetEventBus().Subscribe(EventTypeServiceError)

	mgr.Register(newFake("stream-manager", &recorder{}))
	broken := newFake("notifier", &recorder{})
	broken.startErr = errors.New("boom")
	mgr.Register(broken)

	require.NoError(t, mgr.Start(context.Background()))

	select {
	case ev := <-started:
		assert.Equal(t, "stream-manager", ev.Source)
	case <-time.After(time.Second):
		t.Fatal("service.started not published")
	}
	select {
	case ev := <-failed:
		assert.Equal(t, "notifier", ev.Source)
		assert.Equal(t, "boom", ev.Data["error"])
	case <-time.After(time.Second):
		t.Fatal("service.error not published")
	}
}

func TestServiceBase_PublishWithoutBus(t *testing.T) {
	base := NewServiceBase("lpr", logger.NewNopLogger())
	assert.Nil(t, base.GetEventBus())
	assert.NotPanics(t, func() {
		base.PublishEvent(EventTypeLPRMatched, map[string]interface{}{"camera_id": "o.d"})
	})

	bus := NewEventBus(4)
	defer bus.Close()
	ch := bus.Subscribe(EventTypeLPRMatched)
	base.SetEventBus(bus)
	base.PublishEvent(EventTypeLPRMatched, map[string]interface{}{"camera_id": "o.d"})

	select {
	case ev := <-ch:
		assert.Equal(t, "lpr", ev.Source)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestTaskGroup_StopWaitsForTasks(t *testing.T) {
	group := NewTaskGroup(context.Background())

	finished := make(chan struct{})
	group.Go(func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		close(finished)
	})

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, group.Stop(stopCtx))

	select {
	case <-finished:
	default:
		t.Error("Stop returned before the task finished")
	}
}

func TestTaskGroup_StopTimeout(t *testing.T) {
	group := NewTaskGroup(context.Background())
	release := make(chan struct{})
	defer close(release)

	group.Go(func(ctx context.Context) {
		<-release
	})

	stopCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, group.Stop(stopCtx), "tasks ignoring cancellation are reported")
}
