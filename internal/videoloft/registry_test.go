package videoloft

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

type stubSource struct {
	mu      sync.Mutex
	devices []CameraDevice
	err     error
	calls   int
}

func (s *stubSource) FetchDevices(ctx context.Context) ([]CameraDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]CameraDevice(nil), s.devices...), nil
}

func (s *stubSource) set(devices []CameraDevice, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = devices
	s.err = err
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestDeviceRegistry_CachesWithinTTL(t *testing.T) {
	src := &stubSource{devices: []CameraDevice{{UIDD: "o.d1", LoggerServer: "log1"}}}
	reg := NewDeviceRegistry(src, 12*time.Hour, logger.NewNopLogger())

	assert.Len(t, reg.GetCameras(context.Background(), false), 1)
	assert.Len(t, reg.GetCameras(context.Background(), false), 1)
	assert.Equal(t, 1, src.callCount())

	reg.GetCameras(context.Background(), true)
	assert.Equal(t, 2, src.callCount())
}

func TestDeviceRegistry_ExpiresAfterTTL(t *testing.T) {
	src := &stubSource{devices: []CameraDevice{{UIDD: "o.d1"}}}
	reg := NewDeviceRegistry(src, 12*time.Hour, logger.NewNopLogger())

	now := time.Now()
	reg.now = func() time.Time { return now }
	reg.GetCameras(context.Background(), false)

	reg.now = func() time.Time { return now.Add(13 * time.Hour) }
	reg.GetCameras(context.Background(), false)
	assert.Equal(t, 2, src.callCount())
}

func TestDeviceRegistry_SoftFail(t *testing.T) {
	src := &stubSource{err: errors.New("network down")}
	reg := NewDeviceRegistry(src, 12*time.Hour, logger.NewNopLogger())

	assert.Empty(t, reg.GetCameras(context.Background(), false))
	assert.Error(t, reg.LastError())

	src.set([]CameraDevice{{UIDD: "o.d1"}}, nil)
	require.Len(t, reg.GetCameras(context.Background(), true), 1)
	assert.NoError(t, reg.LastError())

	src.set(nil, errors.New("network down"))
	cams := reg.GetCameras(context.Background(), true)
	require.Len(t, cams, 1, "previous snapshot is served on failure")
	assert.Equal(t, "o.d1", cams[0].UIDD)
}

func TestDeviceRegistry_RefreshReportsError(t *testing.T) {
	src := &stubSource{err: errors.New("network down")}
	reg := NewDeviceRegistry(src, 12*time.Hour, logger.NewNopLogger())

	assert.Error(t, reg.Refresh(context.Background()))
	assert.Equal(t, 0, reg.Count())
}

func TestDeviceRegistry_LoggerServerLazyLoads(t *testing.T) {
	src := &stubSource{devices: []CameraDevice{
		{UIDD: "o.d1", LoggerServer: "log1"},
		{UIDD: "o.d2"},
	}}
	reg := NewDeviceRegistry(src, 12*time.Hour, logger.NewNopLogger())

	host, ok := reg.LoggerServer(context.Background(), "o.d1")
	assert.True(t, ok)
	assert.Equal(t, "log1", host)
	assert.Equal(t, 1, src.callCount())

	_, ok = reg.LoggerServer(context.Background(), "o.d2")
	assert.False(t, ok)

	_, ok = reg.Camera(context.Background(), "o.unknown")
	assert.False(t, ok)
}

func TestDeviceRegistry_SnapshotIsCopy(t *testing.T) {
	src := &stubSource{devices: []CameraDevice{{UIDD: "o.d1", Name: "A"}}}
	reg := NewDeviceRegistry(src, 12*time.Hour, logger.NewNopLogger())

	cams := reg.GetCameras(context.Background(), false)
	cams[0].Name = "mutated"

	again := reg.GetCameras(context.Background(), false)
	assert.Equal(t, "A", again[0].Name)
}

func TestDeviceRegistry_CachesEmptyAccount(t *testing.T) {
	src := &stubSource{}
	reg := NewDeviceRegistry(src, 12*time.Hour, logger.NewNopLogger())

	for i := 0; i < 5; i++ {
		assert.Empty(t, reg.GetCameras(context.Background(), false))
		_, ok := reg.LoggerServer(context.Background(), "o.d1")
		assert.False(t, ok)
	}
	assert.Equal(t, 1, src.callCount())
}

func TestDeviceRegistry_BacksOffAfterFailure(t *testing.T) {
	src := &stubSource{err: errors.New("network down")}
	reg := NewDeviceRegistry(src, 12*time.Hour, logger.NewNopLogger())
	now := time.Now()
	reg.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		assert.Empty(t, reg.GetCameras(context.Background(), false))
	}
	assert.Equal(t, 1, src.callCount())

	now = now.Add(defaultFailureBackoff)
	src.set([]CameraDevice{{UIDD: "o.d1"}}, nil)
	assert.Len(t, reg.GetCameras(context.Background(), false), 1)
	assert.Equal(t, 2, src.callCount())

	// an expired snapshot with the vendor down is also retried sparingly
	now = now.Add(13 * time.Hour)
	src.set(nil, errors.New("network down"))
	for i := 0; i < 5; i++ {
		assert.Len(t, reg.GetCameras(context.Background(), false), 1)
	}
	assert.Equal(t, 3, src.callCount())

	reg.GetCameras(context.Background(), true)
	assert.Equal(t, 4, src.callCount(), "a forced refresh ignores the backoff")
}

// blockingSource holds FetchDevices until released
type blockingSource struct {
	stubSource
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSource) FetchDevices(ctx context.Context) ([]CameraDevice, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.stubSource.FetchDevices(ctx)
}

func TestDeviceRegistry_StaleReadDoesNotWaitForFetch(t *testing.T) {
	src := &blockingSource{
		stubSource: stubSource{devices: []CameraDevice{{UIDD: "o.d1"}}},
		entered:    make(chan struct{}, 1),
		release:    make(chan struct{}),
	}
	reg := NewDeviceRegistry(src, 12*time.Hour, logger.NewNopLogger())
	now := time.Now()
	var clockMu sync.Mutex
	reg.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}

	close(src.release)
	require.NoError(t, reg.Refresh(context.Background()))
	<-src.entered
	src.release = make(chan struct{})

	clockMu.Lock()
	now = now.Add(13 * time.Hour)
	clockMu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		reg.GetCameras(context.Background(), false)
	}()
	<-src.entered

	cams := reg.GetCameras(context.Background(), false)
	require.Len(t, cams, 1, "stale snapshot served while the fetch is running")

	close(src.release)
	<-done
	assert.Equal(t, 2, src.callCount())
}
