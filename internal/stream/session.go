// Package stream keeps vendor live streams alive per camera and proxies
// their HLS playlists and segments.
package stream

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/vzahanych/videoloft-bridge/internal/config"
	"github.com/vzahanych/videoloft-bridge/internal/logger"
	"github.com/vzahanych/videoloft-bridge/internal/retry"
	"github.com/vzahanych/videoloft-bridge/internal/videoloft"
)

// State is the lifecycle state of a stream session
type State string

const (
	StateUninitialized State = "uninitialized"
	StateProbing       State = "probing"
	StateLive          State = "live"
	StateUnavailable   State = "unavailable"
)

var errNotLive = errors.New("stream not live yet")

// StatusSource talks to a camera's logger server
type StatusSource interface {
	CameraStatus(ctx context.Context, uidd, loggerServer string, timeout time.Duration) (*videoloft.CameraStatus, error)
	SendLiveCommand(ctx context.Context, uidd, loggerServer string, timeout time.Duration) error
	StreamURL(wowza, streamName string) string
}

// Snapshot is a read-only view of a session
type Snapshot struct {
	CameraID          string        `json:"camera_id"`
	State             State         `json:"state"`
	Live              bool          `json:"live"`
	URL               string        `json:"url,omitempty"`
	Wowza             string        `json:"wowza,omitempty"`
	StreamName        string        `json:"stream_name,omitempty"`
	LastKeepAlive     *time.Time    `json:"last_keepalive,omitempty"`
	LastStatus        *time.Time    `json:"last_status,omitempty"`
	LastError         string        `json:"last_error,omitempty"`
	Reinitializations int           `json:"reinitializations"`
	Playlist          *PlaylistInfo `json:"playlist,omitempty"`
}

// Session tracks the live stream of one camera. Keep-alive ticks and
// on-demand refreshes both write the current URL; the last write wins.
type Session struct {
	uidd         string
	loggerServer string
	cfg          config.StreamConfig
	source       StatusSource
	logger       *logger.Logger
	onChange     func(uidd string, live bool)
	enabled      func() bool

	mu            sync.RWMutex
	state         State
	url           string
	wowza         string
	streamName    string
	live          bool
	lastKeepAlive time.Time
	lastStatus    time.Time
	lastErr       string
	reinits       int
	playlist      *PlaylistInfo

	reinit chan struct{}
	now    func() time.Time
}

// NewSession creates a session in the uninitialized state. onChange is
// called on availability edges only.
func NewSession(uidd, loggerServer string, cfg config.StreamConfig, source StatusSource, log *logger.Logger, onChange func(string, bool)) *Session {
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = 30 * time.Second
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 10 * time.Second
	}
	return &Session{
		uidd:         uidd,
		loggerServer: loggerServer,
		cfg:          cfg,
		source:       source,
		logger:       log.With("camera", uidd),
		onChange:     onChange,
		state:        StateUninitialized,
		reinit:       make(chan struct{}, 1),
		now:          time.Now,
	}
}

// CameraID returns the camera uidd
func (s *Session) CameraID() string {
	return s.uidd
}

// CurrentURL returns the upstream playlist URL while the stream is live
func (s *Session) CurrentURL() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.live || s.url == "" {
		return "", false
	}
	return s.url, true
}

// IsLive reports the current availability
func (s *Session) IsLive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

// State returns the lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns a copy of the session state
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		CameraID:          s.uidd,
		State:             s.state,
		Live:              s.live,
		URL:               s.url,
		Wowza:             s.wowza,
		StreamName:        s.streamName,
		LastError:         s.lastErr,
		Reinitializations: s.reinits,
	}
	if !s.lastKeepAlive.IsZero() {
		t := s.lastKeepAlive
		snap.LastKeepAlive = &t
	}
	if !s.lastStatus.IsZero() {
		t := s.lastStatus
		snap.LastStatus = &t
	}
	if s.playlist != nil {
		p := *s.playlist
		snap.Playlist = &p
	}
	return snap
}

// SetPlaylist records the last inspected playlist
func (s *Session) SetPlaylist(info *PlaylistInfo) {
	s.mu.Lock()
	s.playlist = info
	s.mu.Unlock()
}

// Run drives the session until ctx is done: the keep-alive loop runs
// alongside initialization, and initialization repeats on Reinitialize
func (s *Session) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepAliveLoop(ctx)
	}()

	for {
		s.initialize(ctx)
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-s.reinit:
		}
	}
}

// initialize probes camera status until a usable stream appears
func (s *Session) initialize(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateLive {
		s.state = StateProbing
	}
	s.mu.Unlock()

	probe := retry.Policy{
		MaxAttempts: math.MaxInt32,
		Backoff:     retry.Constant(s.cfg.ProbeInterval),
	}
	err := probe.Do(ctx, func(ctx context.Context, attempt int) error {
		if s.UpdateStreamURL(ctx) {
			return nil
		}
		if attempt == 1 || attempt%10 == 0 {
			s.logger.Debug("Stream not live yet, probing", "attempt", attempt)
		}
		return errNotLive
	})
	if err == nil {
		s.logger.Info("Stream initialized", "wowza", s.Snapshot().Wowza)
	}
}

// Reinitialize marks the stream unavailable and schedules a new probe cycle
func (s *Session) Reinitialize() {
	s.mu.Lock()
	wasLive := s.live
	s.live = false
	s.state = StateProbing
	s.reinits++
	s.mu.Unlock()

	s.logger.Warn("Reinitializing stream")
	if wasLive {
		s.notify(false)
	}

	select {
	case s.reinit <- struct{}{}:
	default:
	}
}

// UpdateStreamURL performs one status refresh and reports whether a usable
// stream URL is now available
func (s *Session) UpdateStreamURL(ctx context.Context) bool {
	st, err := s.source.CameraStatus(ctx, s.uidd, s.loggerServer, s.cfg.StatusTimeout)
	if err != nil {
		s.recordError(err)
		if ctx.Err() == nil {
			s.logger.Warn("Camera status check failed", "error", err)
		}
		return false
	}
	return s.apply(st)
}

func (s *Session) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		s.keepAlive(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// keepAlive sends the live command and re-checks the stream topology.
// Failures are logged and retried on the next tick.
func (s *Session) keepAlive(ctx context.Context) {
	if s.enabled != nil && !s.enabled() {
		return
	}

	if err := s.source.SendLiveCommand(ctx, s.uidd, s.loggerServer, s.cfg.LiveCommandTimeout); err != nil {
		s.recordError(err)
		if ctx.Err() == nil {
			s.logger.Warn("Live command failed", "error", err)
		}
		return
	}

	s.mu.Lock()
	s.lastKeepAlive = s.now()
	s.mu.Unlock()
	s.logger.Debug("Live command sent")

	s.UpdateStreamURL(ctx)
}

// apply folds a status report into the session. A placeholder wowza host
// is never live.
func (s *Session) apply(st *videoloft.CameraStatus) bool {
	usable := st.Status == "live" && st.Live &&
		st.Wowza != "" && st.Wowza != s.cfg.PlaceholderHost &&
		st.LiveStreamName != ""

	s.mu.Lock()
	wasLive := s.live
	oldURL := s.url
	s.lastStatus = s.now()
	s.lastErr = ""
	if usable {
		s.url = s.source.StreamURL(st.Wowza, st.LiveStreamName)
		s.wowza = st.Wowza
		s.streamName = st.LiveStreamName
		s.live = true
		s.state = StateLive
	} else {
		s.live = false
		if s.state == StateLive {
			s.state = StateUnavailable
		}
	}
	newURL, live := s.url, s.live
	s.mu.Unlock()

	if live && oldURL != "" && newURL != oldURL {
		s.logger.Info("Stream URL changed", "wowza", st.Wowza, "stream", st.LiveStreamName)
	}
	if wasLive != live {
		if live {
			s.logger.Info("Stream became available")
		} else {
			s.logger.Info("Stream became unavailable", "status", st.Status)
		}
		s.notify(live)
	}
	return live
}

func (s *Session) recordError(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

func (s *Session) notify(live bool) {
	if s.onChange != nil {
		s.onChange(s.uidd, live)
	}
}
