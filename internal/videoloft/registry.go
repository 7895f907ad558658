package videoloft

import (
	"context"
	"sync"
	"time"

	"github.com/vzahanych/videoloft-bridge/internal/logger"
)

// DeviceSource fetches the full device list
type DeviceSource interface {
	FetchDevices(ctx context.Context) ([]CameraDevice, error)
}

// DeviceRegistry caches the device tree. Snapshots are replaced wholesale
// on refresh; callers receive copies and never see a partial update.
type DeviceRegistry struct {
	source DeviceSource
	ttl    time.Duration
	logger *logger.Logger

	fetchMu sync.Mutex // serializes upstream fetches

	// failureBackoff spaces unforced fetches after a failed one
	failureBackoff time.Duration

	mu          sync.RWMutex
	devices     []CameraDevice
	byID        map[string]CameraDevice
	fetchedAt   time.Time
	attemptedAt time.Time
	lastErr     error
	now         func() time.Time
}

const defaultFailureBackoff = 30 * time.Second

// NewDeviceRegistry creates a registry with the given cache TTL
func NewDeviceRegistry(source DeviceSource, ttl time.Duration, log *logger.Logger) *DeviceRegistry {
	return &DeviceRegistry{
		source:         source,
		ttl:            ttl,
		logger:         log.Named("registry"),
		failureBackoff: defaultFailureBackoff,
		byID:           make(map[string]CameraDevice),
		now:            time.Now,
	}
}

// Refresh fetches the device tree and replaces the cache. Unlike GetCameras
// it reports the failure, which makes it suitable for startup.
func (r *DeviceRegistry) Refresh(ctx context.Context) error {
	r.fetchMu.Lock()
	defer r.fetchMu.Unlock()
	return r.fetchLocked(ctx)
}

func (r *DeviceRegistry) fetchLocked(ctx context.Context) error {
	devices, err := r.source.FetchDevices(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.attemptedAt = r.now()
	if err != nil {
		r.lastErr = err
		return err
	}

	byID := make(map[string]CameraDevice, len(devices))
	for _, d := range devices {
		byID[d.UIDD] = d
	}
	r.devices = devices
	r.byID = byID
	r.fetchedAt = r.now()
	r.lastErr = nil
	return nil
}

// GetCameras returns the cached cameras, fetching when nothing was fetched
// yet, the snapshot expired or forceRefresh is set. An empty account is
// cached like any other result. Fetch failures fall back to the previous
// snapshot, or an empty list when there is none, and unforced calls wait
// failureBackoff before trying again. While another fetch is running,
// unforced callers with a snapshot get it without waiting.
func (r *DeviceRegistry) GetCameras(ctx context.Context, forceRefresh bool) []CameraDevice {
	if !forceRefresh && !r.due() {
		return r.snapshot()
	}

	if forceRefresh || !r.loaded() {
		r.fetchMu.Lock()
	} else if !r.fetchMu.TryLock() {
		return r.snapshot()
	}
	if forceRefresh || r.due() {
		if err := r.fetchLocked(ctx); err != nil {
			r.logger.Warn("Device fetch failed, serving cached devices",
				"cached", len(r.snapshot()),
				"error", err,
			)
		}
	}
	r.fetchMu.Unlock()

	return r.snapshot()
}

// Camera looks up one camera, fetching the registry when it is due
func (r *DeviceRegistry) Camera(ctx context.Context, uidd string) (CameraDevice, bool) {
	r.ensureLoaded(ctx)

	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[uidd]
	return d, ok
}

// LoggerServer returns the logger host for a camera
func (r *DeviceRegistry) LoggerServer(ctx context.Context, uidd string) (string, bool) {
	d, ok := r.Camera(ctx, uidd)
	if !ok || d.LoggerServer == "" {
		return "", false
	}
	return d.LoggerServer, true
}

// FetchedAt returns when the current snapshot was fetched
func (r *DeviceRegistry) FetchedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fetchedAt
}

// LastError returns the error of the most recent failed fetch
func (r *DeviceRegistry) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Count returns the number of cached cameras
func (r *DeviceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

func (r *DeviceRegistry) ensureLoaded(ctx context.Context) {
	if r.due() {
		r.GetCameras(ctx, false)
	}
}

// due reports whether an unforced call should fetch
func (r *DeviceRegistry) due() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	if !r.fetchedAt.IsZero() && now.Sub(r.fetchedAt) < r.ttl {
		return false
	}
	if r.lastErr != nil && now.Sub(r.attemptedAt) < r.failureBackoff {
		return false
	}
	return true
}

func (r *DeviceRegistry) loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.fetchedAt.IsZero()
}

func (r *DeviceRegistry) snapshot() []CameraDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CameraDevice, len(r.devices))
	copy(out, r.devices)
	return out
}
