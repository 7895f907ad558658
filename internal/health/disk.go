package health

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// DiskUsage describes the filesystem holding the bridge data directory
type DiskUsage struct {
	TotalBytes     int64   `json:"total_bytes"`
	UsedBytes      int64   `json:"used_bytes"`
	AvailableBytes int64   `json:"available_bytes"`
	UsagePercent   float64 `json:"usage_percent"`
}

// DiskChecker reports free space where the SQLite state lives
type DiskChecker struct {
	path            string
	maxUsagePercent float64
	cacheDuration   time.Duration
	statfs          func(path string) (*DiskUsage, error)

	mu        sync.Mutex
	lastCheck time.Time
	cached    *DiskUsage
}

func NewDiskChecker(path string, maxUsagePercent float64) *DiskChecker {
	return &DiskChecker{
		path:            path,
		maxUsagePercent: maxUsagePercent,
		cacheDuration:   30 * time.Second,
		statfs:          statfsUsage,
	}
}

func (c *DiskChecker) Name() string {
	return "disk"
}

// Usage returns filesystem usage, cached for a short period
func (c *DiskChecker) Usage() (*DiskUsage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.lastCheck) < c.cacheDuration {
		usage := *c.cached
		return &usage, nil
	}

	usage, err := c.statfs(c.path)
	if err != nil {
		return nil, err
	}
	c.cached = usage
	c.lastCheck = time.Now()

	out := *usage
	return &out, nil
}

func (c *DiskChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["path"] = c.path

	usage, err := c.Usage()
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Disk usage unavailable: %v", err)
		return check
	}

	check.Details["usage_percent"] = usage.UsagePercent
	check.Details["available_bytes"] = usage.AvailableBytes

	if usage.UsagePercent >= c.maxUsagePercent {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Disk %.1f%% full (limit %.0f%%)", usage.UsagePercent, c.maxUsagePercent)
		return check
	}

	check.Status = StatusHealthy
	check.Message = fmt.Sprintf("Disk %.1f%% used", usage.UsagePercent)
	return check
}

func statfsUsage(path string) (*DiskUsage, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(absPath, &stat); err != nil {
		return nil, fmt.Errorf("failed to stat filesystem: %w", err)
	}

	total := int64(stat.Blocks) * int64(stat.Bsize)
	available := int64(stat.Bavail) * int64(stat.Bsize)
	used := total - available
	if total == 0 {
		return &DiskUsage{}, nil
	}

	return &DiskUsage{
		TotalBytes:     total,
		UsedBytes:      used,
		AvailableBytes: available,
		UsagePercent:   float64(used) / float64(total) * 100.0,
	}, nil
}
