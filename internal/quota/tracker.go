// Package quota governs the vision model budget: a daily request count, a
// sliding per-minute window and a circuit breaker tripped by provider
// rate-limit responses.
package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vzahanych/videoloft-bridge/internal/config"
	"github.com/vzahanych/videoloft-bridge/internal/logger"
)

const stateKey = "gemini_quota_state"

// Store persists the tracker state
type Store interface {
	LoadJSON(ctx context.Context, key string, v interface{}) (bool, error)
	SaveJSON(ctx context.Context, key string, v interface{}) error
}

// Kind classifies a quota decision
type Kind string

const (
	KindAllowed        Kind = "allowed"
	KindCircuitBreaker Kind = "circuit_breaker"
	KindDailyQuota     Kind = "daily_quota"
	KindMinuteLimit    Kind = "minute_limit"
)

// Decision is the outcome of a quota check
type Decision struct {
	Allowed bool
	Kind    Kind
	Reason  string
	Wait    time.Duration // time until the blocking condition clears, 0 for daily quota
}

// QuotaExceededError reports that the daily budget is spent
type QuotaExceededError struct {
	Used  int
	Limit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily quota exhausted (%d/%d)", e.Used, e.Limit)
}

// Status is the externally visible quota snapshot
type Status struct {
	DailyRequests           int     `json:"daily_requests"`
	DailyLimit              int     `json:"daily_limit"`
	DailyRemaining          int     `json:"daily_remaining"`
	MinuteRequests          int     `json:"minute_requests"`
	MinuteLimit             int     `json:"minute_limit"`
	MinuteRemaining         int     `json:"minute_remaining"`
	CircuitBreakerActive    bool    `json:"circuit_breaker_active"`
	CircuitBreakerRemaining float64 `json:"circuit_breaker_remaining"`
	DailyResetTime          *string `json:"daily_reset_time"`
}

type persistedState struct {
	DailyRequests       int         `json:"daily_requests"`
	DailyResetTime      *time.Time  `json:"daily_reset_time"`
	RecentRequests      []time.Time `json:"recent_requests"`
	CircuitBreakerUntil *time.Time  `json:"circuit_breaker_until"`
	LastUpdated         time.Time   `json:"last_updated"`
}

// Tracker is safe for concurrent use. Every mutation is persisted.
type Tracker struct {
	cfg    config.QuotaConfig
	store  Store
	logger *logger.Logger

	mu    sync.Mutex
	state persistedState
	now   func() time.Time
}

// NewTracker creates a tracker; call Load to restore persisted state
func NewTracker(cfg config.QuotaConfig, store Store, log *logger.Logger) *Tracker {
	return &Tracker{
		cfg:    cfg,
		store:  store,
		logger: log.Named("quota"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Load restores persisted state and applies an overdue daily reset
func (t *Tracker) Load(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var st persistedState
	found, err := t.store.LoadJSON(ctx, stateKey, &st)
	if err != nil {
		return fmt.Errorf("failed to load quota state: %w", err)
	}
	if found {
		t.state = st
	}
	t.expireLocked(t.now())

	t.logger.Info("Quota state loaded",
		"daily_requests", t.state.DailyRequests,
		"daily_limit", t.cfg.DailyLimit,
	)
	return nil
}

// Check decides whether a vision request may be sent now
func (t *Tracker) Check() Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	changed := t.expireLocked(now)
	defer func() {
		if changed {
			t.persistLocked()
		}
	}()

	if cb := t.state.CircuitBreakerUntil; cb != nil && now.Before(*cb) {
		remaining := cb.Sub(now)
		return Decision{
			Kind:   KindCircuitBreaker,
			Reason: fmt.Sprintf("Circuit breaker active for %.0f more seconds", remaining.Seconds()),
			Wait:   remaining,
		}
	}

	if t.state.DailyRequests >= t.cfg.DailyLimit {
		return Decision{
			Kind:   KindDailyQuota,
			Reason: fmt.Sprintf("Daily quota exhausted (%d/%d)", t.state.DailyRequests, t.cfg.DailyLimit),
		}
	}

	if len(t.state.RecentRequests) >= t.cfg.MinuteLimit {
		oldest := t.state.RecentRequests[0]
		wait := t.cfg.Window - now.Sub(oldest)
		if wait < 0 {
			wait = 0
		}
		return Decision{
			Kind:   KindMinuteLimit,
			Reason: fmt.Sprintf("Rate limit reached, wait %.1f seconds", wait.Seconds()),
			Wait:   wait,
		}
	}

	return Decision{Allowed: true, Kind: KindAllowed, Reason: "Request allowed"}
}

// CheckAllowed is Check reduced to (allowed, reason)
func (t *Tracker) CheckAllowed() (bool, string) {
	d := t.Check()
	return d.Allowed, d.Reason
}

// RecordSuccess counts one successful vision response
func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.expireLocked(now)

	t.state.RecentRequests = append(t.state.RecentRequests, now)
	t.state.DailyRequests++
	if t.state.DailyResetTime == nil {
		reset := nextUTCMidnight(now)
		t.state.DailyResetTime = &reset
	}
	t.persistLocked()
}

// HandleRateLimited trips the circuit breaker from a provider 429 body and
// returns the retry delay in seconds
func (t *Tracker) HandleRateLimited(body []byte) int {
	delay := ParseRetryDelay(body, int(t.cfg.DefaultRetryDelay.Seconds()))

	t.mu.Lock()
	defer t.mu.Unlock()

	until := t.now().Add(time.Duration(delay) * time.Second)
	t.state.CircuitBreakerUntil = &until
	t.persistLocked()

	t.logger.Warn("Vision provider rate limited, circuit breaker tripped", "retry_delay_seconds", delay)
	return delay
}

// Status returns the current quota snapshot
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.expireLocked(now)

	s := Status{
		DailyRequests:   t.state.DailyRequests,
		DailyLimit:      t.cfg.DailyLimit,
		DailyRemaining:  max(0, t.cfg.DailyLimit-t.state.DailyRequests),
		MinuteRequests:  len(t.state.RecentRequests),
		MinuteLimit:     t.cfg.MinuteLimit,
		MinuteRemaining: max(0, t.cfg.MinuteLimit-len(t.state.RecentRequests)),
	}
	if cb := t.state.CircuitBreakerUntil; cb != nil && now.Before(*cb) {
		s.CircuitBreakerActive = true
		s.CircuitBreakerRemaining = cb.Sub(now).Seconds()
	}
	if t.state.DailyResetTime != nil {
		formatted := t.state.DailyResetTime.Format(time.RFC3339)
		s.DailyResetTime = &formatted
	}
	return s
}

// ResetQuota clears every counter and the circuit breaker
func (t *Tracker) ResetQuota() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = persistedState{}
	t.persistLocked()
	t.logger.Info("Quota state reset")
}

// ResetCircuitBreaker clears the circuit breaker only
func (t *Tracker) ResetCircuitBreaker() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.CircuitBreakerUntil = nil
	t.persistLocked()
	t.logger.Info("Circuit breaker reset")
}

// expireLocked applies the daily reset, evicts window entries older than the
// window and clears an elapsed circuit breaker. It reports whether anything changed.
func (t *Tracker) expireLocked(now time.Time) bool {
	changed := false

	if r := t.state.DailyResetTime; r != nil && !now.Before(*r) {
		t.state.DailyRequests = 0
		t.state.DailyResetTime = nil
		changed = true
	}

	kept := t.state.RecentRequests[:0]
	for _, ts := range t.state.RecentRequests {
		if now.Sub(ts) < t.cfg.Window {
			kept = append(kept, ts)
		}
	}
	if len(kept) != len(t.state.RecentRequests) {
		changed = true
	}
	t.state.RecentRequests = kept

	if cb := t.state.CircuitBreakerUntil; cb != nil && !now.Before(*cb) {
		t.state.CircuitBreakerUntil = nil
		changed = true
	}

	return changed
}

func (t *Tracker) persistLocked() {
	t.state.LastUpdated = t.now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.store.SaveJSON(ctx, stateKey, t.state); err != nil {
		t.logger.Error("Failed to persist quota state", "error", err)
	}
}

func nextUTCMidnight(now time.Time) time.Time {
	y, m, d := now.UTC().AddDate(0, 0, 1).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// maxRetryDelaySeconds caps a provider-supplied delay at one day
const maxRetryDelaySeconds = 24 * 60 * 60

type rateLimitBody struct {
	Error struct {
		Details []struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
		} `json:"details"`
	} `json:"error"`
}

// ParseRetryDelay extracts the RetryInfo delay in whole seconds from a
// provider error body, returning fallback when it is absent, malformed or
// not positive. Delays above one day are clamped.
func ParseRetryDelay(body []byte, fallback int) int {
	if fallback <= 0 {
		fallback = 60
	}

	var parsed rateLimitBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fallback
	}

	delay := fallback
	for _, d := range parsed.Error.Details {
		if d.Type != "type.googleapis.com/google.rpc.RetryInfo" {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimSpace(d.RetryDelay), "s")
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || !(secs > 0) {
			continue
		}
		if secs > maxRetryDelaySeconds {
			secs = maxRetryDelaySeconds
		}
		delay = int(math.Ceil(secs))
	}
	return delay
}
