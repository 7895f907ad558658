package health

import (
	"context"
	"fmt"
	"time"
)

func newCheck(name string) Check {
	return Check{
		Name:      name,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// Pinger is a store that can be probed
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker checks database connectivity
type DatabaseChecker struct {
	db Pinger
}

func NewDatabaseChecker(db Pinger) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// TokenState reports the vendor session
type TokenState interface {
	Authenticated() bool
	ExpiresAt() time.Time
}

// AuthChecker reports whether the bridge holds a vendor session
type AuthChecker struct {
	tokens TokenState
}

func NewAuthChecker(tokens TokenState) *AuthChecker {
	return &AuthChecker{tokens: tokens}
}

func (c *AuthChecker) Name() string {
	return "videoloft_auth"
}

func (c *AuthChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	if !c.tokens.Authenticated() {
		check.Status = StatusUnhealthy
		check.Message = "Not authenticated with Videoloft"
		return check
	}

	expires := c.tokens.ExpiresAt()
	check.Details["expires_at"] = expires
	if time.Now().After(expires) {
		// refreshed on the next token request
		check.Status = StatusDegraded
		check.Message = "Token expired, refresh pending"
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Authenticated"
	return check
}

// RegistryState reports the device cache
type RegistryState interface {
	Count() int
	FetchedAt() time.Time
	LastError() error
}

// RegistryChecker checks that cameras were discovered
type RegistryChecker struct {
	registry RegistryState
}

func NewRegistryChecker(registry RegistryState) *RegistryChecker {
	return &RegistryChecker{registry: registry}
}

func (c *RegistryChecker) Name() string {
	return "devices"
}

func (c *RegistryChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	count := c.registry.Count()
	check.Details["cameras"] = count
	if at := c.registry.FetchedAt(); !at.IsZero() {
		check.Details["fetched_at"] = at
	}

	if count == 0 {
		check.Status = StatusUnhealthy
		check.Message = "No cameras discovered"
		if err := c.registry.LastError(); err != nil {
			check.Message = fmt.Sprintf("No cameras discovered: %v", err)
		}
		return check
	}

	if err := c.registry.LastError(); err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Serving cached devices, last refresh failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = fmt.Sprintf("%d cameras", count)
	return check
}

// StreamCounter reports stream session counts
type StreamCounter interface {
	LiveCount() (live, total int)
}

// StreamChecker reports how many camera streams are live
type StreamChecker struct {
	streams StreamCounter
}

func NewStreamChecker(streams StreamCounter) *StreamChecker {
	return &StreamChecker{streams: streams}
}

func (c *StreamChecker) Name() string {
	return "streams"
}

func (c *StreamChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	live, total := c.streams.LiveCount()
	check.Details["live"] = live
	check.Details["total"] = total

	// offline cameras are normal, so no live streams is only degraded
	if total > 0 && live == 0 {
		check.Status = StatusDegraded
		check.Message = "No live streams"
		return check
	}

	check.Status = StatusHealthy
	check.Message = fmt.Sprintf("%d/%d streams live", live, total)
	return check
}
