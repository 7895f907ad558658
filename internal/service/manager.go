package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/videoloft-bridge/internal/logger"
)

// Service is a long-lived bridge component. Start must not block; loops
// belong in goroutines owned by the service and released by Stop.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// ServiceWithEvents is a service that publishes or consumes bus events
type ServiceWithEvents interface {
	Service
	SetEventBus(bus *EventBus)
}

type entry struct {
	svc      Service
	status   *ServiceStatus
	required bool
	started  bool
}

// Manager starts services in registration order and stops the started
// ones in reverse order.
type Manager struct {
	logger      *logger.Logger
	eventBus    *EventBus
	stopTimeout time.Duration

	mu          sync.RWMutex
	entries     []*entry
	byName      map[string]*entry
	monitorStop context.CancelFunc
}

// NewManager creates a service manager with its own event bus
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		logger:      log.Named("services"),
		eventBus:    NewEventBus(100),
		stopTimeout: 10 * time.Second,
		byName:      make(map[string]*entry),
	}
}

// GetEventBus returns the bus shared by registered services
func (m *Manager) GetEventBus() *EventBus {
	return m.eventBus
}

// Register adds an optional service. A start failure is recorded in its
// status and the remaining services still start.
func (m *Manager) Register(svc Service) {
	m.add(svc, false)
}

// RegisterRequired adds a service whose start failure aborts Start
func (m *Manager) RegisterRequired(svc Service) {
	m.add(svc, true)
}

func (m *Manager) add(svc Service, required bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &entry{svc: svc, status: NewServiceStatus(svc.Name()), required: required}
	m.entries = append(m.entries, e)
	m.byName[svc.Name()] = e

	if withEvents, ok := svc.(ServiceWithEvents); ok {
		withEvents.SetEventBus(m.eventBus)
	}
}

// Start starts every registered service. It returns the first failure of
// a required service; services started before it keep running until
// Shutdown.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Starting services", "count", len(m.entries))

	monitorCtx, cancel := context.WithCancel(context.Background())
	m.monitorStop = cancel
	m.logEvents(monitorCtx)

	for _, e := range m.entries {
		name := e.svc.Name()
		e.status.SetStatus(StatusStarting)

		if err := e.svc.Start(ctx); err != nil {
			e.status.SetError(err)
			m.emit(EventTypeServiceError, name, map[string]interface{}{"error": err.Error()})
			if e.required {
				return fmt.Errorf("service %s failed to start: %w", name, err)
			}
			m.logger.Error("Optional service failed to start", "service", name, "error", err)
			continue
		}

		e.started = true
		e.status.SetStatus(StatusRunning)
		m.logger.Info("Service started", "service", name)
		m.emit(EventTypeServiceStarted, name, nil)
	}

	return nil
}

// logEvents mirrors bus traffic to the debug log
func (m *Manager) logEvents(ctx context.Context) {
	ch := m.eventBus.SubscribeAll()
	go func() {
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				m.logger.Debug("Event", "type", ev.Type, "source", ev.Source)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Manager) emit(t EventType, source string, data map[string]interface{}) {
	m.eventBus.Publish(Event{Type: t, Source: source, Data: data})
}

// Shutdown stops started services in reverse order, each bounded by the
// manager stop timeout, and closes the event bus.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	defer func() {
		if m.monitorStop != nil {
			m.monitorStop()
		}
		m.eventBus.Close()
	}()

	m.logger.Info("Shutting down services", "count", len(m.entries))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(m.entries) - 1; i >= 0; i-- {
			e := m.entries[i]
			if !e.started {
				continue
			}
			m.stop(ctx, e)
		}
	}()

	select {
	case <-done:
		m.logger.Info("All services stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

func (m *Manager) stop(ctx context.Context, e *entry) {
	name := e.svc.Name()
	e.status.SetStatus(StatusStopping)

	stopCtx, cancel := context.WithTimeout(ctx, m.stopTimeout)
	defer cancel()

	if err := e.svc.Stop(stopCtx); err != nil {
		e.status.SetError(err)
		m.logger.Error("Error stopping service", "service", name, "error", err)
	} else {
		e.status.SetStatus(StatusStopped)
		m.logger.Info("Service stopped", "service", name)
	}
	e.started = false
	m.emit(EventTypeServiceStopped, name, nil)
}

// GetServiceCount returns the number of registered services
func (m *Manager) GetServiceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// GetServiceStatus returns the status of a service, or nil
func (m *Manager) GetServiceStatus(name string) *ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.byName[name]; ok {
		return e.status
	}
	return nil
}

// GetAllStatuses returns all service statuses keyed by name
func (m *Manager) GetAllStatuses() map[string]*ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*ServiceStatus, len(m.entries))
	for _, e := range m.entries {
		out[e.svc.Name()] = e.status
	}
	return out
}
