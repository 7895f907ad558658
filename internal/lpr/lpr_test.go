package lpr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/videoloft-bridge/internal/config"
	"github.com/vzahanych/videoloft-bridge/internal/logger"
	"github.com/vzahanych/videoloft-bridge/internal/metrics"
	"github.com/vzahanych/videoloft-bridge/internal/service"
	"github.com/vzahanych/videoloft-bridge/internal/state"
	"github.com/vzahanych/videoloft-bridge/internal/videoloft"
)

type fakeEvents struct {
	mu        sync.Mutex
	events    map[string][]videoloft.Event
	vehicles  map[string][]videoloft.VehicleDetection
	failing   map[string]bool
	analytics map[string]int
	windows   [][2]time.Time
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{
		events:    map[string][]videoloft.Event{},
		vehicles:  map[string][]videoloft.VehicleDetection{},
		failing:   map[string]bool{},
		analytics: map[string]int{},
	}
}

func (f *fakeEvents) Events(_ context.Context, _, uidd string, start, end time.Time) ([]videoloft.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, [2]time.Time{start, end})
	return f.events[uidd], nil
}

func (f *fakeEvents) VehicleAnalytics(_ context.Context, _, _, eventID string) ([]videoloft.VehicleDetection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analytics[eventID]++
	if f.failing[eventID] {
		return nil, &videoloft.UpstreamError{Op: "vehicle analytics", StatusCode: 502}
	}
	return f.vehicles[eventID], nil
}

type knownCameras map[string]string

func (k knownCameras) LoggerServer(_ context.Context, uidd string) (string, bool) {
	s, ok := k[uidd]
	return s, ok
}

type monitorFixture struct {
	monitor *Monitor
	events  *fakeEvents
	store   *state.Manager
	clock   time.Time
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()
	store, err := state.NewManager(t.TempDir(), logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &monitorFixture{
		events: newFakeEvents(),
		store:  store,
		clock:  time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	cfg := config.LPRConfig{
		Enabled:      true,
		PollInterval: 30 * time.Second,
		Lookback:     5 * time.Minute,
		MatchHold:    10 * time.Second,
	}
	cams := knownCameras{"o.drive": "log1", "o.gate": "log2"}
	f.monitor = NewMonitor(cfg, f.events, cams, store, metrics.New(), logger.NewNopLogger())
	f.monitor.now = func() time.Time { return f.clock }
	return f
}

func TestParseVehicle(t *testing.T) {
	_, ok := ParseVehicle(nil)
	assert.False(t, ok)

	v, ok := ParseVehicle([]videoloft.VehicleDetection{
		{AlertID: "a0"},
		{LicencePlate: " AB12 CDE ", Make: "Ford", Colour: "Blue", StillTimeMs: 1700000000000, AlertID: "a1"},
	})
	require.True(t, ok)
	assert.Equal(t, "ab12 cde", v.LicensePlate)
	assert.Equal(t, "ford", v.Make)
	assert.Equal(t, "blue", v.Color)
	assert.Equal(t, "unknown", v.Direction)
	assert.Equal(t, "a1", v.AlertID)
}

func TestMatches(t *testing.T) {
	v := Vehicle{LicensePlate: "ab12cde", Make: "ford", Model: "focus", Color: "blue"}

	tests := []struct {
		name    string
		trigger state.LPRTrigger
		want    bool
	}{
		{"plate", state.LPRTrigger{LicensePlate: " AB12CDE"}, true},
		{"other plate", state.LPRTrigger{LicensePlate: "zz99zzz"}, false},
		{"make model colour", state.LPRTrigger{Make: "Ford", Model: "Focus", Color: "BLUE"}, true},
		{"partial description", state.LPRTrigger{Make: "ford", Model: "focus"}, false},
		{"wrong colour", state.LPRTrigger{Make: "ford", Model: "focus", Color: "red"}, false},
		{"plate miss falls back", state.LPRTrigger{LicensePlate: "x", Make: "ford", Model: "focus", Color: "blue"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.trigger, v))
		})
	}
}

func TestRecordingURL(t *testing.T) {
	assert.Equal(t,
		"https://app.videoloft.com/vehicles/ab12cde?time=1700000000000&uidd=o.drive",
		RecordingURL("AB12 CDE", 1700000000000, "o.drive"))
	assert.Equal(t,
		"https://app.videoloft.com/vehicles/unknown?time=0&uidd=unknown",
		RecordingURL("", -5, ""))
}

func TestTriggerCRUD(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()

	_, err := f.monitor.CreateTrigger(ctx, TriggerInput{CameraID: "o.drive"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	_, err = f.monitor.CreateTrigger(ctx, TriggerInput{CameraID: "o.unknown", LicensePlate: "x"})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "camera_id", verr.Field)

	created, err := f.monitor.CreateTrigger(ctx, TriggerInput{UIDD: "o.drive", LicensePlate: "  AB12CDE "})
	require.NoError(t, err)
	assert.Equal(t, "o.drive", created.CameraID)
	assert.Equal(t, "ab12cde", created.LicensePlate)
	assert.True(t, created.Enabled)

	disabled := false
	updated, err := f.monitor.UpdateTrigger(ctx, created.ID, TriggerInput{Make: "Ford", Model: "Focus", Color: "Blue", Enabled: &disabled})
	require.NoError(t, err)
	assert.Equal(t, "o.drive", updated.CameraID)
	assert.Equal(t, "", updated.LicensePlate)
	assert.Equal(t, "ford", updated.Make)
	assert.False(t, updated.Enabled)

	_, err = f.monitor.UpdateTrigger(ctx, "missing", TriggerInput{LicensePlate: "x"})
	assert.ErrorIs(t, err, ErrTriggerNotFound)

	list, err := f.monitor.Triggers(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, f.monitor.DeleteTrigger(ctx, created.ID))
	assert.ErrorIs(t, f.monitor.DeleteTrigger(ctx, created.ID), ErrTriggerNotFound)
}

func TestMonitor_PollRecordsMatch(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	bus := service.NewEventBus(8)
	defer bus.Close()
	matched := bus.Subscribe(service.EventTypeLPRMatched)
	f.monitor.SetEventBus(bus)

	trigger, err := f.monitor.CreateTrigger(ctx, TriggerInput{CameraID: "o.drive", LicensePlate: "AB12CDE"})
	require.NoError(t, err)
	_, err = f.monitor.CreateTrigger(ctx, TriggerInput{CameraID: "o.gate", LicensePlate: "zz", Enabled: new(bool)})
	require.NoError(t, err)

	f.events.events["o.drive"] = []videoloft.Event{{ID: "e1"}, {ID: "e2"}}
	f.events.vehicles["e1"] = []videoloft.VehicleDetection{{LicencePlate: "XY99XYZ"}}
	f.events.vehicles["e2"] = []videoloft.VehicleDetection{{LicencePlate: "ab12cde", StillTimeMs: 1717236000000, AlertID: "al2", Direction: "In"}}

	n, err := f.monitor.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// disabled triggers are not polled
	require.Len(t, f.events.windows, 1)
	assert.Equal(t, f.clock.Add(-5*time.Minute), f.events.windows[0][0])
	assert.Equal(t, f.clock, f.events.windows[0][1])

	m := f.monitor.CurrentMatch()
	require.NotNil(t, m)
	assert.Equal(t, trigger.ID, m.TriggerID)
	assert.Equal(t, "e2", m.EventID)
	assert.Equal(t, "in", m.Direction)
	assert.Equal(t, "https://app.videoloft.com/vehicles/ab12cde?time=1717236000000&uidd=o.drive", m.RecordingURL)

	select {
	case ev := <-matched:
		assert.Equal(t, "o.drive", ev.Data["camera_id"])
		assert.Equal(t, "ab12cde", ev.Data["license_plate"])
	case <-time.After(time.Second):
		t.Fatal("no lpr.matched event")
	}

	// the match is held, then cleared
	f.clock = f.clock.Add(9 * time.Second)
	assert.NotNil(t, f.monitor.CurrentMatch())
	f.clock = f.clock.Add(time.Second)
	assert.Nil(t, f.monitor.CurrentMatch())

	// processed events are not analysed again
	n, err = f.monitor.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, f.events.analytics["e2"])
}

func TestMonitor_AnalyticsFailureIsRetried(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()

	_, err := f.monitor.CreateTrigger(ctx, TriggerInput{CameraID: "o.gate", Make: "ford", Model: "focus", Color: "blue"})
	require.NoError(t, err)

	f.events.events["o.gate"] = []videoloft.Event{{ID: "g1"}}
	f.events.vehicles["g1"] = []videoloft.VehicleDetection{{Make: "FORD", Model: "Focus", Colour: "blue"}}
	f.events.failing["g1"] = true

	n, err := f.monitor.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.events.failing["g1"] = false
	n, err = f.monitor.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, f.events.analytics["g1"])
}

func TestMonitor_ProcessedHistoryIsBounded(t *testing.T) {
	f := newMonitorFixture(t)
	for i := 0; i < processedHistory+5; i++ {
		f.monitor.markProcessed(fmt.Sprintf("ev%d", i))
	}
	assert.Len(t, f.monitor.processed, processedHistory)
	assert.Len(t, f.monitor.seen, processedHistory)
	assert.False(t, f.monitor.wasProcessed("ev0"))
	assert.True(t, f.monitor.wasProcessed(fmt.Sprintf("ev%d", processedHistory+4)))
}

func TestMonitor_DisabledDoesNotPoll(t *testing.T) {
	f := newMonitorFixture(t)
	f.monitor.cfg.Enabled = false

	require.NoError(t, f.monitor.Start(context.Background()))
	require.NoError(t, f.monitor.Stop(context.Background()))
	assert.Empty(t, f.events.windows)
}
