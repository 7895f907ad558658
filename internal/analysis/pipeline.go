// Package analysis runs batch vision-model analysis over camera events and
// serves search over the stored descriptions.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vzahanych/videoloft-bridge/internal/ai"
	"github.com/vzahanych/videoloft-bridge/internal/config"
	"github.com/vzahanych/videoloft-bridge/internal/logger"
	"github.com/vzahanych/videoloft-bridge/internal/metrics"
	"github.com/vzahanych/videoloft-bridge/internal/quota"
	"github.com/vzahanych/videoloft-bridge/internal/retry"
	"github.com/vzahanych/videoloft-bridge/internal/service"
	"github.com/vzahanych/videoloft-bridge/internal/state"
	"github.com/vzahanych/videoloft-bridge/internal/videoloft"
)

const (
	tokensPerEvent     = 650
	eventsPerMinute    = 15
	taskRetention      = time.Hour
	searchConfidence   = 0.8
	eventThumbnailPath = "/api/videoloft/event_thumbnail/"
	recordingURL       = "https://app.videoloft.com/cameras/%s?time=%d"
)

// ErrNoAnalysis is returned by Search when nothing has been analysed yet
var ErrNoAnalysis = errors.New("no AI analysis has been run yet")

// EventSource lists events and downloads their thumbnails
type EventSource interface {
	EventsPaged(ctx context.Context, loggerServer, uidd string, start, end time.Time, sliceLength time.Duration) ([]videoloft.Event, error)
	EventThumbnail(ctx context.Context, loggerServer, uidd, eventID string, timeout time.Duration) ([]byte, error)
}

// CameraDirectory resolves cameras and their logger servers
type CameraDirectory interface {
	GetCameras(ctx context.Context, forceRefresh bool) []videoloft.CameraDevice
	LoggerServer(ctx context.Context, uidd string) (string, bool)
}

// Describer turns an image into text
type Describer interface {
	Configured() bool
	Describe(ctx context.Context, image []byte) (string, error)
}

// DescriptionStore is the dedup ledger and search index
type DescriptionStore interface {
	SaveDescription(ctx context.Context, d state.EventDescription) error
	DescribedEventIDs(ctx context.Context) (map[string]struct{}, error)
	HasDescription(ctx context.Context, eventID string) (bool, error)
	SearchDescriptions(ctx context.Context, query string) ([]state.EventDescription, error)
	CountDescriptions(ctx context.Context) (int, error)
	ClearDescriptions(ctx context.Context) (int, error)
}

// QuotaGate governs vision-model calls
type QuotaGate interface {
	Check() quota.Decision
	Status() quota.Status
	RecordSuccess()
	HandleRateLimited(body []byte) int
}

// Deps are the collaborators of a Pipeline
type Deps struct {
	Events           EventSource
	Cameras          CameraDirectory
	Describer        Describer
	Store            DescriptionStore
	Quota            QuotaGate
	Metrics          *metrics.Metrics
	ThumbnailTimeout time.Duration
}

// Estimate is the projected cost of an analysis request
type Estimate struct {
	EventCount           int    `json:"event_count"`
	EstimatedTokens      int    `json:"estimated_tokens"`
	EstimatedTimeMinutes int    `json:"estimated_time_minutes"`
	CamerasCount         int    `json:"cameras_count"`
	DateRange            string `json:"date_range"`
	TimeRange            string `json:"time_range"`
}

// SearchResult is one matching description
type SearchResult struct {
	EventID     string  `json:"event_id"`
	Description string  `json:"description"`
	CameraName  string  `json:"camera_name"`
	CameraID    string  `json:"camera_id"`
	Timestamp   int64   `json:"timestamp"`
	Confidence  float64 `json:"confidence"`
	URL         string  `json:"url"`
	Thumbnail   string  `json:"thumbnail"`
}

type queueItem struct {
	cameraID     string
	loggerServer string
	event        videoloft.Event
}

// Pipeline runs analysis tasks in the background, one goroutine per task
type Pipeline struct {
	*service.ServiceBase
	cfg    config.AnalysisConfig
	deps   Deps
	logger *logger.Logger

	ledger *ledger
	group  *service.TaskGroup
	policy retry.Policy

	mu       sync.Mutex
	inflight map[string]struct{}

	loc   *time.Location
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewPipeline creates a pipeline; tasks run until completion or Stop
func NewPipeline(cfg config.AnalysisConfig, deps Deps, log *logger.Logger) *Pipeline {
	log = log.Named("analysis")
	if cfg.EventSliceLength == 0 {
		cfg.EventSliceLength = 30 * time.Minute
	}
	if cfg.MinuteLimitWait == 0 {
		cfg.MinuteLimitWait = 60 * time.Second
	}

	p := &Pipeline{
		ServiceBase: service.NewServiceBase("analysis", log),
		cfg:         cfg,
		deps:        deps,
		logger:      log,
		ledger:      newLedger(time.Now),
		group:       service.NewTaskGroup(context.Background()),
		inflight:    make(map[string]struct{}),
		loc:         time.Local,
		sleep:       retry.Sleep,
		now:         time.Now,
	}
	p.policy = retry.Policy{
		MaxAttempts: cfg.RateLimitRetries + 1,
		// the tripped circuit breaker is the wait; waitForQuota sleeps it out
		Backoff: retry.Constant(0),
		Retryable: func(err error) bool {
			var rl *ai.RateLimitedError
			return errors.As(err, &rl)
		},
	}
	return p
}

// Start implements service.Service
func (p *Pipeline) Start(ctx context.Context) error {
	p.GetStatus().SetStatus(service.StatusRunning)
	p.LogInfo("Analysis pipeline ready", "vision_configured", p.deps.Describer.Configured())
	return nil
}

// Stop cancels running tasks and waits for them
func (p *Pipeline) Stop(ctx context.Context) error {
	p.GetStatus().SetStatus(service.StatusStopping)
	err := p.group.Stop(ctx)
	p.GetStatus().SetStatus(service.StatusStopped)
	return err
}

// Submit starts a background task for req and returns its id
func (p *Pipeline) Submit(req Request) (string, error) {
	if !p.deps.Describer.Configured() {
		return "", ai.ErrNotConfigured
	}
	if len(req.Cameras) == 0 {
		return "", ErrNoCameras
	}
	if err := p.group.Context().Err(); err != nil {
		return "", fmt.Errorf("analysis pipeline stopped: %w", err)
	}

	if n := p.ledger.prune(taskRetention); n > 0 {
		p.logger.Debug("Pruned finished analysis tasks", "count", n)
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(p.group.Context())
	p.ledger.add(id, cancel)

	start, end := req.Window(p.loc)
	p.logger.Info("Analysis task started",
		"task_id", id,
		"cameras", len(req.Cameras),
		"from", start.Format(time.RFC3339),
		"to", end.Format(time.RFC3339),
	)
	p.PublishEvent(service.EventTypeAnalysisStarted, map[string]interface{}{
		"task_id": id,
		"cameras": req.Cameras,
	})

	p.group.Go(func(context.Context) {
		defer cancel()
		p.run(ctx, id, req)
	})
	return id, nil
}

// Progress returns the snapshot of a task
func (p *Pipeline) Progress(taskID string) (Progress, bool) {
	return p.ledger.snapshot(taskID)
}

// Cancel stops a running task; false if it is unknown or already finished
func (p *Pipeline) Cancel(taskID string) bool {
	ok := p.ledger.cancel(taskID)
	if ok {
		p.logger.Info("Analysis task cancellation requested", "task_id", taskID)
	}
	return ok
}

// ActiveTasks counts tasks that have not finished
func (p *Pipeline) ActiveTasks() int {
	return p.ledger.active()
}

func (p *Pipeline) run(ctx context.Context, id string, req Request) {
	status, message := p.process(ctx, id, req)
	p.ledger.update(id, func(pr *Progress) {
		pr.Status = status
		pr.Message = message
	})

	snap, _ := p.ledger.snapshot(id)
	p.logger.Info("Analysis task finished",
		"task_id", id,
		"status", string(status),
		"processed", snap.Processed,
		"total", snap.Total,
	)
	p.PublishEvent(service.EventTypeAnalysisFinished, map[string]interface{}{
		"task_id":   id,
		"status":    string(status),
		"processed": snap.Processed,
		"total":     snap.Total,
	})
}

func (p *Pipeline) process(ctx context.Context, id string, req Request) (TaskStatus, string) {
	queue, err := p.collect(ctx, req)
	if ctx.Err() != nil {
		return StatusCancelled, "Analysis cancelled"
	}
	if err != nil {
		p.logger.Error("Failed to collect events", "task_id", id, "error", err)
		return StatusError, fmt.Sprintf("Failed to collect events: %v", err)
	}
	if len(queue) == 0 {
		return StatusCompleted, "No events found in the specified time range"
	}

	p.ledger.update(id, func(pr *Progress) {
		pr.Total = len(queue)
		pr.Status = StatusProcessing
		pr.Message = fmt.Sprintf("Processing %d events", len(queue))
	})

	processed := 0
	for i, item := range queue {
		if ctx.Err() != nil {
			return StatusCancelled, fmt.Sprintf("Cancelled after processing %d events", processed)
		}
		p.ledger.update(id, func(pr *Progress) {
			pr.CurrentCamera = item.cameraID
			pr.Message = fmt.Sprintf("Analysing event %d of %d", i+1, len(queue))
		})

		done, err := p.processEvent(ctx, id, item)
		var exhausted *quota.QuotaExceededError
		switch {
		case errors.As(err, &exhausted):
			return StatusQuotaExceeded, fmt.Sprintf("Daily quota exhausted (%d/%d) after processing %d events",
				exhausted.Used, exhausted.Limit, processed)
		case ctx.Err() != nil:
			return StatusCancelled, fmt.Sprintf("Cancelled after processing %d events", processed)
		case err != nil:
			p.logger.Warn("Skipping event",
				"task_id", id,
				"event_id", item.event.ID,
				"camera", item.cameraID,
				"error", err,
			)
		}

		if done {
			processed++
			p.ledger.update(id, func(pr *Progress) { pr.Processed = processed })
		}
	}

	return StatusCompleted, fmt.Sprintf("Successfully processed %d events", processed)
}

// collect builds the work queue: events in the window and hour range that
// have no stored description yet
func (p *Pipeline) collect(ctx context.Context, req Request) ([]queueItem, error) {
	described, err := p.deps.Store.DescribedEventIDs(ctx)
	if err != nil {
		return nil, err
	}

	start, end := req.Window(p.loc)
	var queue []queueItem
	for _, uidd := range req.Cameras {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		loggerServer, ok := p.deps.Cameras.LoggerServer(ctx, uidd)
		if !ok {
			p.logger.Warn("No logger server for camera, skipping", "camera", uidd)
			continue
		}

		events, err := p.deps.Events.EventsPaged(ctx, loggerServer, uidd, start, end, p.cfg.EventSliceLength)
		if err != nil {
			p.logger.Warn("Failed to fetch events", "camera", uidd, "error", err)
			continue
		}

		added := 0
		for _, ev := range events {
			if ev.ID == "" {
				continue
			}
			if _, seen := described[ev.ID]; seen {
				continue
			}
			if !req.InHours(ev.Start(), p.loc) {
				continue
			}
			described[ev.ID] = struct{}{}
			queue = append(queue, queueItem{cameraID: uidd, loggerServer: loggerServer, event: ev})
			added++
		}
		p.logger.Debug("Collected events", "camera", uidd, "fetched", len(events), "queued", added)
	}
	return queue, nil
}

// processEvent describes one event; it reports whether a description was
// stored. A *quota.QuotaExceededError halts the task.
func (p *Pipeline) processEvent(ctx context.Context, taskID string, item queueItem) (bool, error) {
	eventID := item.event.ID
	if !p.claim(eventID) {
		return false, nil
	}
	defer p.release(eventID)

	if has, err := p.deps.Store.HasDescription(ctx, eventID); err == nil && has {
		return false, nil
	}

	var image []byte
	var text string
	err := p.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := p.waitForQuota(ctx, taskID); err != nil {
			return retry.Stop(err)
		}

		if image == nil {
			img, err := p.deps.Events.EventThumbnail(ctx, item.loggerServer, item.cameraID, eventID, p.deps.ThumbnailTimeout)
			if err != nil {
				return retry.Stop(fmt.Errorf("failed to download event thumbnail: %w", err))
			}
			image = img
		}

		out, err := p.deps.Describer.Describe(ctx, image)
		var rl *ai.RateLimitedError
		if errors.As(err, &rl) {
			p.deps.Metrics.ObserveVisionRequest("rate_limited")
			delay := p.deps.Quota.HandleRateLimited(rl.Body)
			p.logger.Warn("Vision request rate limited",
				"event_id", eventID,
				"attempt", attempt,
				"retry_delay_seconds", delay,
			)
			return err
		}
		if err != nil {
			p.deps.Metrics.ObserveVisionRequest("error")
			return retry.Stop(err)
		}

		p.deps.Metrics.ObserveVisionRequest("success")
		p.deps.Quota.RecordSuccess()
		text = out
		return nil
	})
	if err != nil {
		var rl *ai.RateLimitedError
		if errors.As(err, &rl) {
			return false, fmt.Errorf("rate limited after %d attempts", p.policy.MaxAttempts)
		}
		return false, err
	}

	description := ai.CleanDescription(text)
	if description == "" {
		return false, errors.New("empty description")
	}

	err = p.deps.Store.SaveDescription(ctx, state.EventDescription{
		EventID:      eventID,
		CameraID:     item.cameraID,
		LoggerServer: item.loggerServer,
		Description:  description,
		EventStart:   item.event.Start(),
	})
	if err != nil {
		return false, err
	}

	p.deps.Metrics.IncAnalysedEvents()
	p.logger.Debug("Event described", "event_id", eventID, "camera", item.cameraID)
	return true, nil
}

// waitForQuota blocks while the circuit breaker or minute window blocks
// vision calls
func (p *Pipeline) waitForQuota(ctx context.Context, taskID string) error {
	for {
		d := p.deps.Quota.Check()

		var wait time.Duration
		switch d.Kind {
		case quota.KindAllowed:
			return nil
		case quota.KindDailyQuota:
			st := p.deps.Quota.Status()
			return &quota.QuotaExceededError{Used: st.DailyRequests, Limit: st.DailyLimit}
		case quota.KindCircuitBreaker:
			wait = d.Wait + time.Second
		default:
			wait = p.cfg.MinuteLimitWait
		}

		p.logger.Info("Waiting for vision quota", "task_id", taskID, "reason", d.Reason, "wait", wait.String())
		p.ledger.update(taskID, func(pr *Progress) { pr.Message = d.Reason })
		if err := p.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (p *Pipeline) claim(eventID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[eventID]; busy {
		return false
	}
	p.inflight[eventID] = struct{}{}
	return true
}

func (p *Pipeline) release(eventID string) {
	p.mu.Lock()
	delete(p.inflight, eventID)
	p.mu.Unlock()
}

// Estimate counts the events a request would analyse and projects its cost
func (p *Pipeline) Estimate(ctx context.Context, req Request) (Estimate, error) {
	queue, err := p.collect(ctx, req)
	if err != nil {
		return Estimate{}, err
	}

	n := len(queue)
	minutes := n / eventsPerMinute
	if minutes < 1 {
		minutes = 1
	}
	return Estimate{
		EventCount:           n,
		EstimatedTokens:      n * tokensPerEvent,
		EstimatedTimeMinutes: minutes,
		CamerasCount:         len(req.Cameras),
		DateRange:            req.DateRange(),
		TimeRange:            req.TimeRange(),
	}, nil
}

// Search matches query case-insensitively against stored descriptions,
// newest first. ErrNoAnalysis means the store is empty.
func (p *Pipeline) Search(ctx context.Context, query string) ([]SearchResult, error) {
	count, err := p.deps.Store.CountDescriptions(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNoAnalysis
	}

	rows, err := p.deps.Store.SearchDescriptions(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, err
	}

	names := make(map[string]string)
	for _, cam := range p.deps.Cameras.GetCameras(ctx, false) {
		names[cam.UIDD] = cam.Name
	}

	results := make([]SearchResult, 0, len(rows))
	for _, row := range rows {
		name := names[row.CameraID]
		if name == "" {
			name = "Unknown Camera"
		}
		ts := row.EventStart.UnixMilli()
		results = append(results, SearchResult{
			EventID:     row.EventID,
			Description: row.Description,
			CameraName:  name,
			CameraID:    row.CameraID,
			Timestamp:   ts,
			Confidence:  searchConfidence,
			URL:         fmt.Sprintf(recordingURL, row.CameraID, ts),
			Thumbnail:   eventThumbnailPath + row.EventID,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp > results[j].Timestamp
	})
	return results, nil
}

// Clear removes every stored description
func (p *Pipeline) Clear(ctx context.Context) (int, error) {
	n, err := p.deps.Store.ClearDescriptions(ctx)
	if err != nil {
		return 0, err
	}
	p.logger.Info("Cleared event descriptions", "count", n)
	return n, nil
}
