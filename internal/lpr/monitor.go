package lpr

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vzahanych/videoloft-bridge/internal/config"
	"github.com/vzahanych/videoloft-bridge/internal/logger"
	"github.com/vzahanych/videoloft-bridge/internal/metrics"
	"github.com/vzahanych/videoloft-bridge/internal/retry"
	"github.com/vzahanych/videoloft-bridge/internal/service"
	"github.com/vzahanych/videoloft-bridge/internal/state"
	"github.com/vzahanych/videoloft-bridge/internal/videoloft"
)

const processedHistory = 100

// EventSource reads recent events and their vehicle analytics
type EventSource interface {
	Events(ctx context.Context, loggerServer, uidd string, start, end time.Time) ([]videoloft.Event, error)
	VehicleAnalytics(ctx context.Context, loggerServer, uidd, eventID string) ([]videoloft.VehicleDetection, error)
}

// CameraDirectory resolves a camera's logger server
type CameraDirectory interface {
	LoggerServer(ctx context.Context, uidd string) (string, bool)
}

// Monitor polls vehicle analytics for cameras referenced by enabled
// triggers and records the latest match
type Monitor struct {
	*service.ServiceBase
	cfg     config.LPRConfig
	events  EventSource
	cameras CameraDirectory
	store   TriggerStore
	metrics *metrics.Metrics
	logger  *logger.Logger
	group   *service.TaskGroup
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error

	mu        sync.Mutex
	processed []string
	seen      map[string]struct{}
	current   *Match
	matchedAt time.Time
}

// NewMonitor creates the LPR monitor
func NewMonitor(cfg config.LPRConfig, events EventSource, cameras CameraDirectory, store TriggerStore, m *metrics.Metrics, log *logger.Logger) *Monitor {
	log = log.Named("lpr")
	return &Monitor{
		ServiceBase: service.NewServiceBase("lpr", log),
		cfg:         cfg,
		events:      events,
		cameras:     cameras,
		store:       store,
		metrics:     m,
		logger:      log,
		group:       service.NewTaskGroup(context.Background()),
		now:         time.Now,
		sleep:       retry.Sleep,
		seen:        make(map[string]struct{}),
	}
}

// Start launches the poll loop when monitoring is enabled
func (m *Monitor) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.LogInfo("LPR monitoring disabled")
		m.GetStatus().SetStatus(service.StatusRunning)
		return nil
	}

	m.group.Go(m.run)
	m.GetStatus().SetStatus(service.StatusRunning)
	m.LogInfo("LPR monitor started", "poll_interval", m.cfg.PollInterval)
	return nil
}

// Stop ends the poll loop
func (m *Monitor) Stop(ctx context.Context) error {
	m.GetStatus().SetStatus(service.StatusStopping)
	err := m.group.Stop(ctx)
	m.GetStatus().SetStatus(service.StatusStopped)
	return err
}

func (m *Monitor) run(ctx context.Context) {
	for {
		if _, err := m.Poll(ctx); err != nil && ctx.Err() == nil {
			m.LogError("LPR poll failed", err)
		}
		if err := m.sleep(ctx, m.cfg.PollInterval); err != nil {
			return
		}
	}
}

// Poll checks recent events of every camera with an enabled trigger and
// returns how many matches were recorded
func (m *Monitor) Poll(ctx context.Context) (int, error) {
	triggers, err := m.store.ListTriggers(ctx)
	if err != nil {
		return 0, err
	}

	byCamera := make(map[string][]state.LPRTrigger)
	var order []string
	for _, t := range triggers {
		if !t.Enabled {
			continue
		}
		if _, ok := byCamera[t.CameraID]; !ok {
			order = append(order, t.CameraID)
		}
		byCamera[t.CameraID] = append(byCamera[t.CameraID], t)
	}
	if len(order) == 0 {
		m.logger.Debug("No enabled LPR triggers")
		return 0, nil
	}

	end := m.now()
	start := end.Add(-m.cfg.Lookback)
	matches := 0
	for _, uidd := range order {
		if ctx.Err() != nil {
			return matches, ctx.Err()
		}
		n, err := m.pollCamera(ctx, uidd, byCamera[uidd], start, end)
		if err != nil {
			m.logger.Warn("LPR camera poll failed", "camera", uidd, "error", err)
		}
		matches += n
	}
	return matches, nil
}

func (m *Monitor) pollCamera(ctx context.Context, uidd string, triggers []state.LPRTrigger, start, end time.Time) (int, error) {
	loggerServer, ok := m.cameras.LoggerServer(ctx, uidd)
	if !ok {
		m.logger.Warn("Trigger references unknown camera", "camera", uidd)
		return 0, nil
	}

	events, err := m.events.Events(ctx, loggerServer, uidd, start, end)
	if err != nil {
		return 0, err
	}

	matches := 0
	for _, ev := range events {
		if m.wasProcessed(ev.ID) {
			continue
		}
		detections, err := m.events.VehicleAnalytics(ctx, loggerServer, uidd, ev.ID)
		if err != nil {
			// retried on the next poll
			m.logger.Debug("Vehicle analytics unavailable", "camera", uidd, "event", ev.ID, "error", err)
			continue
		}
		m.markProcessed(ev.ID)

		vehicle, ok := ParseVehicle(detections)
		if !ok {
			continue
		}
		for _, t := range triggers {
			if Matches(t, vehicle) {
				m.record(newMatch(t, ev.ID, vehicle))
				matches++
				break
			}
		}
	}
	return matches, nil
}

func (m *Monitor) record(match Match) {
	m.mu.Lock()
	m.current = &match
	m.matchedAt = m.now()
	m.mu.Unlock()

	m.metrics.IncLPRMatches()
	m.LogInfo("LPR trigger matched",
		"trigger", match.TriggerID,
		"camera", match.CameraID,
		"event", match.EventID,
		"plate", match.LicensePlate,
	)
	m.PublishEvent(service.EventTypeLPRMatched, map[string]interface{}{
		"trigger_id":    match.TriggerID,
		"camera_id":     match.CameraID,
		"event_id":      match.EventID,
		"license_plate": match.LicensePlate,
		"make":          match.Make,
		"model":         match.Model,
		"color":         match.Color,
		"timestamp":     match.Timestamp,
		"alertid":       match.AlertID,
		"direction":     match.Direction,
		"recording_url": match.RecordingURL,
	})
}

// CurrentMatch returns the latest match while it is within the hold
// period, or nil
func (m *Monitor) CurrentMatch() *Match {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	if m.now().Sub(m.matchedAt) >= m.cfg.MatchHold {
		m.current = nil
		return nil
	}
	out := *m.current
	return &out
}

func (m *Monitor) wasProcessed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[id]
	return ok
}

func (m *Monitor) markProcessed(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[id]; ok {
		return
	}
	m.seen[id] = struct{}{}
	m.processed = append(m.processed, id)
	if len(m.processed) > processedHistory {
		delete(m.seen, m.processed[0])
		m.processed = m.processed[1:]
	}
}

func normalizeID(s string) string {
	return strings.TrimSpace(s)
}
