package service

import (
	"sync/atomic"

	"github.com/vzahanych/videoloft-bridge/internal/logger"
)

// ServiceBase carries the name, scoped logger, status and event bus that
// bridge services share. Embed it to satisfy Name and SetEventBus.
type ServiceBase struct {
	name   string
	log    *logger.Logger
	status *ServiceStatus
	bus    atomic.Pointer[EventBus]
}

// NewServiceBase creates a base whose log lines carry the service name
func NewServiceBase(name string, log *logger.Logger) *ServiceBase {
	return &ServiceBase{
		name:   name,
		log:    log.With("service", name),
		status: NewServiceStatus(name),
	}
}

func (sb *ServiceBase) Name() string {
	return sb.name
}

// SetEventBus is called by the Manager on registration
func (sb *ServiceBase) SetEventBus(bus *EventBus) {
	sb.bus.Store(bus)
}

// GetEventBus returns the bus, or nil when the service runs standalone
func (sb *ServiceBase) GetEventBus() *EventBus {
	return sb.bus.Load()
}

func (sb *ServiceBase) GetStatus() *ServiceStatus {
	return sb.status
}

// Logger returns the service scoped logger
func (sb *ServiceBase) Logger() *logger.Logger {
	return sb.log
}

// PublishEvent is a no-op until the service is registered with a Manager
func (sb *ServiceBase) PublishEvent(eventType EventType, data map[string]interface{}) {
	bus := sb.bus.Load()
	if bus == nil {
		return
	}
	bus.Publish(Event{Type: eventType, Source: sb.name, Data: data})
}

func (sb *ServiceBase) LogInfo(msg string, fields ...interface{}) {
	sb.log.Info(msg, fields...)
}

func (sb *ServiceBase) LogWarn(msg string, fields ...interface{}) {
	sb.log.Warn(msg, fields...)
}

// LogError logs msg with err attached under the "error" key
func (sb *ServiceBase) LogError(msg string, err error, fields ...interface{}) {
	sb.log.Error(msg, append([]interface{}{"error", err}, fields...)...)
}

func (sb *ServiceBase) LogDebug(msg string, fields ...interface{}) {
	sb.log.Debug(msg, fields...)
}
