package service

import (
	"sync"
	"time"
)

// Status represents a service lifecycle state
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// ServiceStatus tracks the lifecycle state of one service
type ServiceStatus struct {
	Name      string
	StartedAt time.Time

	mu      sync.RWMutex
	status  Status
	err     error
	changed time.Time
}

// StatusSnapshot is the serialisable view of a ServiceStatus
type StatusSnapshot struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Uptime    string    `json:"uptime"`
	ChangedAt time.Time `json:"changed_at"`
}

// NewServiceStatus creates a status tracker in the stopped state
func NewServiceStatus(name string) *ServiceStatus {
	return &ServiceStatus{
		Name:    name,
		status:  StatusStopped,
		changed: time.Now(),
	}
}

// SetStatus updates the state; entering running clears any error
func (s *ServiceStatus) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = status
	s.changed = time.Now()
	switch status {
	case StatusRunning:
		s.err = nil
		if s.StartedAt.IsZero() {
			s.StartedAt = time.Now()
		}
	case StatusStopped:
		s.StartedAt = time.Time{}
	}
}

// SetError records a failure and moves the service to the error state
func (s *ServiceStatus) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusError
	s.err = err
	s.changed = time.Now()
}

// GetStatus returns the current state
func (s *ServiceStatus) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// GetError returns the last recorded error
func (s *ServiceStatus) GetError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Snapshot returns a consistent copy of the status
func (s *ServiceStatus) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := StatusSnapshot{
		Name:      s.Name,
		Status:    s.status,
		Uptime:    "0s",
		ChangedAt: s.changed,
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	if s.status == StatusRunning && !s.StartedAt.IsZero() {
		snap.Uptime = time.Since(s.StartedAt).Round(time.Second).String()
	}
	return snap
}

// IsRunning reports whether the service is running
func (s *ServiceStatus) IsRunning() bool {
	return s.GetStatus() == StatusRunning
}

// GetUptime returns how long the service has been running
func (s *ServiceStatus) GetUptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != StatusRunning || s.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.StartedAt)
}
