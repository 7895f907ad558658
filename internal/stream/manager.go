package stream

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vzahanych/videoloft-bridge/internal/config"
	"github.com/vzahanych/videoloft-bridge/internal/logger"
	"github.com/vzahanych/videoloft-bridge/internal/metrics"
	"github.com/vzahanych/videoloft-bridge/internal/service"
	"github.com/vzahanych/videoloft-bridge/internal/videoloft"
)

// CameraLister returns the known cameras
type CameraLister interface {
	GetCameras(ctx context.Context, forceRefresh bool) []videoloft.CameraDevice
}

// SwitchStore persists the global streaming switch
type SwitchStore interface {
	StreamsEnabled(ctx context.Context) (bool, error)
	SetStreamsEnabled(ctx context.Context, enabled bool) error
}

// Manager owns one Session per camera, each running in the manager's task
// group
type Manager struct {
	*service.ServiceBase
	cfg     config.StreamConfig
	cameras CameraLister
	source  StatusSource
	store   SwitchStore
	metrics *metrics.Metrics
	logger  *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	skipped  map[string]bool
	group    *service.TaskGroup
	enabled  atomic.Bool
}

// NewManager creates the stream manager
func NewManager(cfg config.StreamConfig, cameras CameraLister, source StatusSource, store SwitchStore, m *metrics.Metrics, log *logger.Logger) *Manager {
	log = log.Named("stream")
	mgr := &Manager{
		ServiceBase: service.NewServiceBase("stream-manager", log),
		cfg:         cfg,
		cameras:     cameras,
		source:      source,
		store:       store,
		metrics:     m,
		logger:      log,
		sessions:    make(map[string]*Session),
		skipped:     make(map[string]bool),
		group:       service.NewTaskGroup(context.Background()),
	}
	mgr.enabled.Store(true)
	return mgr
}

// Start restores the streaming switch and starts a session per camera
func (m *Manager) Start(ctx context.Context) error {
	m.GetStatus().SetStatus(service.StatusStarting)

	if m.store != nil {
		enabled, err := m.store.StreamsEnabled(ctx)
		if err != nil {
			m.LogWarn("Failed to load streaming switch, assuming enabled", "error", err)
		} else {
			m.enabled.Store(enabled)
		}
	}

	added := m.Sync(ctx)
	if m.cfg.SyncInterval > 0 {
		m.group.Go(m.syncLoop)
	}
	m.LogInfo("Stream manager started", "sessions", added, "streaming_enabled", m.enabled.Load())
	m.GetStatus().SetStatus(service.StatusRunning)
	return nil
}

// Stop cancels every session and waits for their loops to exit
func (m *Manager) Stop(ctx context.Context) error {
	m.GetStatus().SetStatus(service.StatusStopping)
	err := m.group.Stop(ctx)
	m.GetStatus().SetStatus(service.StatusStopped)
	if err != nil {
		return fmt.Errorf("stream sessions did not stop: %w", err)
	}
	return nil
}

// syncLoop picks up cameras added to the registry after startup
func (m *Manager) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if added := m.Sync(ctx); added > 0 {
				m.LogInfo("Started sessions for new cameras", "added", added)
			}
		}
	}
}

// Sync starts sessions for cameras that do not have one yet and returns
// how many were added
func (m *Manager) Sync(ctx context.Context) int {
	added := 0
	for _, cam := range m.cameras.GetCameras(ctx, false) {
		m.mu.Lock()
		if cam.LoggerServer == "" {
			warn := !m.skipped[cam.UIDD]
			m.skipped[cam.UIDD] = true
			m.mu.Unlock()
			if warn {
				m.LogWarn("Camera has no logger server, skipping stream", "camera", cam.UIDD)
			}
			continue
		}
		if _, ok := m.sessions[cam.UIDD]; ok {
			m.mu.Unlock()
			continue
		}
		sess := NewSession(cam.UIDD, cam.LoggerServer, m.cfg, m.source, m.logger, m.onAvailabilityChange)
		sess.enabled = m.StreamsEnabled
		m.sessions[cam.UIDD] = sess
		m.mu.Unlock()

		m.group.Go(sess.Run)
		added++
	}
	return added
}

// Session returns the session of a camera
func (m *Manager) Session(uidd string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[uidd]
	return s, ok
}

// Snapshots returns every session, ordered by camera id
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

// LiveCount reports live and total sessions
func (m *Manager) LiveCount() (live, total int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.IsLive() {
			live++
		}
	}
	return live, len(m.sessions)
}

// Reinitialize schedules a probe cycle for a camera
func (m *Manager) Reinitialize(uidd string) bool {
	s, ok := m.Session(uidd)
	if !ok {
		return false
	}
	s.Reinitialize()
	m.metrics.IncStreamReinit()
	m.PublishEvent(service.EventTypeStreamReinit, map[string]interface{}{"camera_id": uidd})
	return true
}

// Refresh performs an on-demand status refresh for a camera
func (m *Manager) Refresh(ctx context.Context, uidd string) (bool, error) {
	s, ok := m.Session(uidd)
	if !ok {
		return false, fmt.Errorf("unknown camera %s", uidd)
	}
	return s.UpdateStreamURL(ctx), nil
}

// StreamsEnabled reports the global streaming switch
func (m *Manager) StreamsEnabled() bool {
	return m.enabled.Load()
}

// SetStreamsEnabled flips and persists the global streaming switch
func (m *Manager) SetStreamsEnabled(ctx context.Context, enabled bool) error {
	if m.store != nil {
		if err := m.store.SetStreamsEnabled(ctx, enabled); err != nil {
			return err
		}
	}
	m.enabled.Store(enabled)
	m.LogInfo("Global streaming switch changed", "enabled", enabled)
	return nil
}

func (m *Manager) onAvailabilityChange(uidd string, live bool) {
	eventType := service.EventTypeStreamUnavailable
	if live {
		eventType = service.EventTypeStreamAvailable
	}
	m.PublishEvent(eventType, map[string]interface{}{
		"camera_id": uidd,
		"live":      live,
	})
}
