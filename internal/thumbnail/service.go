package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vzahanych/videoloft-bridge/internal/config"
	"github.com/vzahanych/videoloft-bridge/internal/logger"
	"github.com/vzahanych/videoloft-bridge/internal/metrics"
	"github.com/vzahanych/videoloft-bridge/internal/retry"
	"github.com/vzahanych/videoloft-bridge/internal/service"
	"github.com/vzahanych/videoloft-bridge/internal/state"
	"github.com/vzahanych/videoloft-bridge/internal/videoloft"
)

const (
	eventCacheSize = 64
	preloadLimit   = 8
)

var (
	// ErrUnknownCamera is returned for cameras without a logger server
	ErrUnknownCamera = errors.New("unknown camera")
	// ErrUnknownEvent is returned for events that were never analysed
	ErrUnknownEvent = errors.New("unknown event")
	// ErrNotImage is returned when the upstream payload is not an image
	ErrNotImage = errors.New("thumbnail payload is not an image")
)

// Fetcher downloads thumbnails from a camera's logger server
type Fetcher interface {
	LatestThumbnail(ctx context.Context, loggerServer, uidd string, timeout time.Duration) ([]byte, error)
	EventThumbnail(ctx context.Context, loggerServer, uidd, eventID string, timeout time.Duration) ([]byte, error)
}

// CameraDirectory resolves cameras and their logger servers
type CameraDirectory interface {
	GetCameras(ctx context.Context, forceRefresh bool) []videoloft.CameraDevice
	LoggerServer(ctx context.Context, uidd string) (string, bool)
}

// DescriptionLookup finds the camera an analysed event belongs to
type DescriptionLookup interface {
	GetDescription(ctx context.Context, eventID string) (*state.EventDescription, error)
}

// PreloadResult summarises one preload run
type PreloadResult struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Stats is the cache report served by the API
type Stats struct {
	Entries         int           `json:"entries"`
	TotalBytes      int64         `json:"total_bytes"`
	EventEntries    int           `json:"event_entries"`
	RefreshInterval float64       `json:"refresh_interval_seconds"`
	LastCycle       *time.Time    `json:"last_cycle,omitempty"`
	Cameras         []CameraStats `json:"cameras"`
}

// Service keeps the latest thumbnail of every camera warm and serves event
// stills for analysed events
type Service struct {
	*service.ServiceBase
	cfg          config.ThumbnailConfig
	fetcher      Fetcher
	cameras      CameraDirectory
	descriptions DescriptionLookup
	metrics      *metrics.Metrics
	logger       *logger.Logger

	cache  *Cache
	events *Cache
	flight singleflight.Group
	group  *service.TaskGroup
	sleep  func(context.Context, time.Duration) error

	eventMu    sync.Mutex
	eventOrder []string

	lastCycle atomic.Pointer[time.Time]
}

// NewService creates the thumbnail service
func NewService(cfg config.ThumbnailConfig, fetcher Fetcher, cameras CameraDirectory, descriptions DescriptionLookup, m *metrics.Metrics, log *logger.Logger) *Service {
	log = log.Named("thumbnails")
	return &Service{
		ServiceBase:  service.NewServiceBase("thumbnails", log),
		cfg:          cfg,
		fetcher:      fetcher,
		cameras:      cameras,
		descriptions: descriptions,
		metrics:      m,
		logger:       log,
		cache:        NewCache(),
		events:       NewCache(),
		group:        service.NewTaskGroup(context.Background()),
		sleep:        retry.Sleep,
	}
}

// Start launches the preload and the periodic refresh loop
func (s *Service) Start(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStarting)

	s.group.Go(func(ctx context.Context) {
		if err := s.sleep(ctx, s.cfg.PreloadDelay); err != nil {
			return
		}
		res := s.Preload(ctx)
		s.LogInfo("Thumbnail preload finished", "total", res.Total, "success", res.Success, "failed", res.Failed)
	})
	s.group.Go(s.refreshLoop)

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Thumbnail service started", "refresh_interval", s.cfg.RefreshInterval)
	return nil
}

// Stop cancels background work and waits for it
func (s *Service) Stop(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStopping)
	err := s.group.Stop(ctx)
	s.GetStatus().SetStatus(service.StatusStopped)
	return err
}

// GetImmediate returns the cached thumbnail if it is younger than the
// immediate TTL
func (s *Service) GetImmediate(uidd string) (*Entry, bool) {
	return s.cache.GetFresh(uidd, s.cfg.ImmediateTTL)
}

// EnsureAvailable returns the immediate cache entry or fetches synchronously
func (s *Service) EnsureAvailable(ctx context.Context, uidd string) (*Entry, error) {
	if e, ok := s.GetImmediate(uidd); ok {
		return e, nil
	}
	return s.Refresh(ctx, uidd, true)
}

// Current serves a thumbnail for display. An immediate hit older than the
// refresh interval is returned as is while a forced refresh runs in the
// background.
func (s *Service) Current(ctx context.Context, uidd string) (*Entry, error) {
	if e, ok := s.GetImmediate(uidd); ok {
		if e.Age(s.cache.now()) > s.cfg.RefreshInterval {
			s.ScheduleRefresh(uidd)
		}
		return e, nil
	}
	return s.Refresh(ctx, uidd, true)
}

// ScheduleRefresh starts a forced refresh in the service's task group
func (s *Service) ScheduleRefresh(uidd string) {
	s.group.Go(func(ctx context.Context) {
		if _, err := s.Refresh(ctx, uidd, true); err != nil {
			s.logger.Debug("Background thumbnail refresh failed", "camera", uidd, "error", err)
		}
	})
}

// Refresh returns the cached entry when it is younger than the refresh
// interval, unless forced; otherwise it downloads the latest thumbnail and
// replaces the entry. Concurrent refreshes of one camera share a download,
// which runs under the service context bounded by the fetch timeout. A
// caller whose ctx ends stops waiting without cancelling it for the rest.
func (s *Service) Refresh(ctx context.Context, uidd string, force bool) (*Entry, error) {
	if !force {
		if e, ok := s.cache.GetFresh(uidd, s.cfg.RefreshInterval); ok {
			return e, nil
		}
	}

	ch := s.flight.DoChan(uidd, func() (interface{}, error) {
		fctx, cancel := s.fetchContext()
		defer cancel()
		return s.fetch(fctx, uidd)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Entry), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) fetchContext() (context.Context, context.CancelFunc) {
	if s.cfg.FetchTimeout <= 0 {
		return context.WithCancel(s.group.Context())
	}
	return context.WithTimeout(s.group.Context(), s.cfg.FetchTimeout)
}

func (s *Service) fetch(ctx context.Context, uidd string) (*Entry, error) {
	loggerServer, ok := s.cameras.LoggerServer(ctx, uidd)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCamera, uidd)
	}

	data, err := s.fetcher.LatestThumbnail(ctx, loggerServer, uidd, s.cfg.FetchTimeout)
	if err != nil {
		s.metrics.ObserveThumbnailFetch("error")
		return nil, fmt.Errorf("fetch thumbnail for %s: %w", uidd, err)
	}
	if !IsImage(data) {
		s.metrics.ObserveThumbnailFetch("invalid")
		return nil, &videoloft.DataIntegrityError{What: "thumbnail for " + uidd, Err: ErrNotImage}
	}

	e := s.cache.Put(uidd, data)
	s.metrics.ObserveThumbnailFetch("success")
	s.PublishEvent(service.EventTypeThumbnailUpdated, map[string]interface{}{
		"camera_id": uidd,
		"bytes":     len(data),
	})
	return e, nil
}

// Preload fetches every camera's thumbnail concurrently
func (s *Service) Preload(ctx context.Context) PreloadResult {
	cams := s.cameras.GetCameras(ctx, false)
	res := PreloadResult{Total: len(cams)}

	var success atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(preloadLimit)
	for _, cam := range cams {
		uidd := cam.UIDD
		g.Go(func() error {
			if _, err := s.Refresh(gctx, uidd, true); err != nil {
				s.logger.Warn("Thumbnail preload failed", "camera", uidd, "error", err)
				return nil
			}
			success.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res.Success = int(success.Load())
	res.Failed = res.Total - res.Success
	return res
}

func (s *Service) refreshLoop(ctx context.Context) {
	for {
		wait := s.cfg.RefreshInterval
		if failed, total := s.refreshCycle(ctx); total > 0 && failed == total {
			s.LogWarn("Every thumbnail refresh failed, backing off", "cameras", total)
			wait = s.cfg.ErrorBackoff
		}
		if err := s.sleep(ctx, wait); err != nil {
			return
		}
	}
}

// refreshCycle refreshes each camera in turn with a pause between cameras.
// Failures are logged and the cycle moves on.
func (s *Service) refreshCycle(ctx context.Context) (failed, total int) {
	cams := s.cameras.GetCameras(ctx, false)
	for i, cam := range cams {
		if ctx.Err() != nil {
			return failed, len(cams)
		}
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.CameraDelay); err != nil {
				return failed, len(cams)
			}
		}
		if _, err := s.Refresh(ctx, cam.UIDD, false); err != nil {
			failed++
			s.logger.Warn("Thumbnail refresh failed", "camera", cam.UIDD, "error", err)
		}
	}
	now := time.Now()
	s.lastCycle.Store(&now)
	return failed, len(cams)
}

// EventThumbnail returns the still of an analysed event, resolved through
// the description store
func (s *Service) EventThumbnail(ctx context.Context, eventID string) (*Entry, error) {
	if e, ok := s.events.GetFresh(eventID, s.cfg.CacheTTL); ok {
		return e, nil
	}

	desc, err := s.descriptions.GetDescription(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, eventID)
	}

	loggerServer := desc.LoggerServer
	if loggerServer == "" {
		var ok bool
		if loggerServer, ok = s.cameras.LoggerServer(ctx, desc.CameraID); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCamera, desc.CameraID)
		}
	}

	data, err := s.fetcher.EventThumbnail(ctx, loggerServer, desc.CameraID, eventID, s.cfg.FetchTimeout)
	if err != nil {
		s.metrics.ObserveThumbnailFetch("error")
		return nil, fmt.Errorf("fetch event thumbnail %s: %w", eventID, err)
	}
	if !IsImage(data) {
		s.metrics.ObserveThumbnailFetch("invalid")
		return nil, &videoloft.DataIntegrityError{What: "event thumbnail " + eventID, Err: ErrNotImage}
	}
	s.metrics.ObserveThumbnailFetch("success")
	return s.putEvent(eventID, data), nil
}

func (s *Service) putEvent(eventID string, data []byte) *Entry {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	if _, ok := s.events.Get(eventID); !ok {
		s.eventOrder = append(s.eventOrder, eventID)
	}
	for len(s.eventOrder) > eventCacheSize {
		s.events.Delete(s.eventOrder[0])
		s.eventOrder = s.eventOrder[1:]
	}
	return s.events.Put(eventID, data)
}

// Usage reports camera cache occupancy
func (s *Service) Usage() (int, int64) {
	return s.cache.Usage()
}

// Entry returns the cached entry of a camera regardless of age
func (s *Service) Entry(uidd string) (*Entry, bool) {
	return s.cache.Get(uidd)
}

// Stats reports cache contents
func (s *Service) Stats() Stats {
	entries, size := s.cache.Usage()
	eventEntries, _ := s.events.Usage()
	return Stats{
		Entries:         entries,
		TotalBytes:      size,
		EventEntries:    eventEntries,
		RefreshInterval: s.cfg.RefreshInterval.Seconds(),
		LastCycle:       s.lastCycle.Load(),
		Cameras:         s.cache.Stats(s.cfg.RefreshInterval),
	}
}
