package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/videoloft-bridge/internal/config"
	"github.com/vzahanych/videoloft-bridge/internal/logger"
	"github.com/vzahanych/videoloft-bridge/internal/videoloft"
)

type fakeSource struct {
	mu           sync.Mutex
	status       videoloft.CameraStatus
	statusErr    error
	liveCommands int
	statusCalls  int
	scheme       string
}

func (f *fakeSource) CameraStatus(context.Context, string, string, time.Duration) (*videoloft.CameraStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	st := f.status
	return &st, nil
}

func (f *fakeSource) SendLiveCommand(context.Context, string, string, time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liveCommands++
	return nil
}

func (f *fakeSource) StreamURL(wowza, name string) string {
	scheme := f.scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + wowza + "/manything/" + name + "/index.m3u8"
}

func (f *fakeSource) set(st videoloft.CameraStatus) {
	f.mu.Lock()
	f.status = st
	f.mu.Unlock()
}

func (f *fakeSource) commands() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.liveCommands
}

type edgeRecorder struct {
	mu    sync.Mutex
	edges []bool
}

func (r *edgeRecorder) record(_ string, live bool) {
	r.mu.Lock()
	r.edges = append(r.edges, live)
	r.mu.Unlock()
}

func (r *edgeRecorder) all() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.edges...)
}

func testStreamConfig() config.StreamConfig {
	return config.StreamConfig{
		KeepAliveInterval:  20 * time.Millisecond,
		ProbeInterval:      10 * time.Millisecond,
		LiveCommandTimeout: time.Second,
		StatusTimeout:      time.Second,
		PlaceholderHost:    "wowza1",
		ChunkSize:          1024,
		TotalTimeout:       5 * time.Second,
		RoutePrefix:        "/api/videoloft/stream",
	}
}

func liveStatus(wowza, name string) videoloft.CameraStatus {
	return videoloft.CameraStatus{Status: "live", Live: true, Wowza: wowza, LiveStreamName: name}
}

func TestSession_BecomesLiveWithStreamURL(t *testing.T) {
	src := &fakeSource{status: liveStatus("wowzaX", "strm1")}
	edges := &edgeRecorder{}
	s := NewSession("owner1.dev2", "log1.example.com", testStreamConfig(), src, logger.NewNopLogger(), edges.record)

	assert.Equal(t, StateUninitialized, s.State())
	assert.True(t, s.UpdateStreamURL(context.Background()))

	url, ok := s.CurrentURL()
	require.True(t, ok)
	assert.Equal(t, "https://wowzaX/manything/strm1/index.m3u8", url)
	assert.Equal(t, StateLive, s.State())

	// same status again is not an edge
	assert.True(t, s.UpdateStreamURL(context.Background()))
	assert.Equal(t, []bool{true}, edges.all())

	src.set(videoloft.CameraStatus{Status: "offline"})
	assert.False(t, s.UpdateStreamURL(context.Background()))
	assert.Equal(t, StateUnavailable, s.State())
	assert.Equal(t, []bool{true, false}, edges.all())

	_, ok = s.CurrentURL()
	assert.False(t, ok)
}

func TestSession_PlaceholderIsNeverLive(t *testing.T) {
	statuses := []videoloft.CameraStatus{
		liveStatus("wowza1", "strm1"),
		liveStatus("", "strm1"),
		liveStatus("wowzaX", ""),
		{Status: "live", Live: false, Wowza: "wowzaX", LiveStreamName: "strm1"},
		{Status: "offline", Live: true, Wowza: "wowzaX", LiveStreamName: "strm1"},
	}

	for _, st := range statuses {
		src := &fakeSource{status: st}
		s := NewSession("o.d", "log", testStreamConfig(), src, logger.NewNopLogger(), nil)
		assert.False(t, s.UpdateStreamURL(context.Background()), "%+v", st)
		assert.False(t, s.IsLive())
	}

	// a live session that starts reporting the placeholder drops out
	src := &fakeSource{status: liveStatus("wowzaX", "strm1")}
	s := NewSession("o.d", "log", testStreamConfig(), src, logger.NewNopLogger(), nil)
	require.True(t, s.UpdateStreamURL(context.Background()))
	src.set(liveStatus("wowza1", "strm1"))
	assert.False(t, s.UpdateStreamURL(context.Background()))
	assert.False(t, s.IsLive())
}

func TestSession_StatusErrorIsRecorded(t *testing.T) {
	src := &fakeSource{statusErr: errors.New("timeout")}
	s := NewSession("o.d", "log", testStreamConfig(), src, logger.NewNopLogger(), nil)

	assert.False(t, s.UpdateStreamURL(context.Background()))
	assert.Equal(t, "timeout", s.Snapshot().LastError)
}

func TestSession_RunKeepsAliveAndReinitializes(t *testing.T) {
	src := &fakeSource{status: liveStatus("wowzaX", "strm1")}
	edges := &edgeRecorder{}
	s := NewSession("o.d", "log", testStreamConfig(), src, logger.NewNopLogger(), edges.record)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, s.IsLive, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return src.commands() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.NotNil(t, s.Snapshot().LastKeepAlive)

	s.Reinitialize()
	assert.Equal(t, 1, s.Snapshot().Reinitializations)
	require.Eventually(t, s.IsLive, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}

	got := edges.all()
	require.GreaterOrEqual(t, len(got), 3)
	assert.Equal(t, []bool{true, false, true}, got[:3])
}

func TestSession_KeepAliveSkippedWhenDisabled(t *testing.T) {
	src := &fakeSource{status: liveStatus("wowzaX", "strm1")}
	s := NewSession("o.d", "log", testStreamConfig(), src, logger.NewNopLogger(), nil)
	s.enabled = func() bool { return false }

	s.keepAlive(context.Background())
	assert.Equal(t, 0, src.commands())

	s.enabled = func() bool { return true }
	s.keepAlive(context.Background())
	assert.Equal(t, 1, src.commands())
	assert.True(t, s.IsLive())
}
