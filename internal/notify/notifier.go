package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vzahanych/videoloft-bridge/internal/logger"
	"github.com/vzahanych/videoloft-bridge/internal/service"
)

// Publisher sends a payload to a topic
type Publisher interface {
	Publish(topic string, retained bool, payload []byte) error
}

// StatusTopic is the retained bridge availability topic
func StatusTopic(prefix string) string {
	return strings.TrimRight(prefix, "/") + "/status"
}

// StreamTopic is the retained availability topic of one camera
func StreamTopic(prefix, uidd string) string {
	return strings.TrimRight(prefix, "/") + "/stream/" + uidd
}

// LPRTopic carries licence plate matches
func LPRTopic(prefix string) string {
	return strings.TrimRight(prefix, "/") + "/lpr"
}

// Notifier forwards stream availability edges and LPR matches from the
// event bus to MQTT
type Notifier struct {
	*service.ServiceBase
	prefix    string
	publisher Publisher
	logger    *logger.Logger
	group     *service.TaskGroup
	events    <-chan service.Event
}

// NewNotifier creates a notifier publishing under prefix
func NewNotifier(prefix string, publisher Publisher, log *logger.Logger) *Notifier {
	log = log.Named("notify")
	return &Notifier{
		ServiceBase: service.NewServiceBase("notifier", log),
		prefix:      prefix,
		publisher:   publisher,
		logger:      log,
		group:       service.NewTaskGroup(context.Background()),
	}
}

// Start subscribes to the event bus and announces the bridge as online
func (n *Notifier) Start(ctx context.Context) error {
	bus := n.GetEventBus()
	if bus == nil {
		return fmt.Errorf("notifier requires an event bus")
	}
	n.GetStatus().SetStatus(service.StatusStarting)

	n.events = bus.SubscribeAll()
	n.group.Go(n.run)

	if err := n.publisher.Publish(StatusTopic(n.prefix), true, []byte("online")); err != nil {
		n.LogWarn("Failed to publish bridge status", "error", err)
	}
	n.GetStatus().SetStatus(service.StatusRunning)
	n.LogInfo("Notifier started", "prefix", n.prefix)
	return nil
}

// Stop announces the bridge as offline and ends forwarding
func (n *Notifier) Stop(ctx context.Context) error {
	n.GetStatus().SetStatus(service.StatusStopping)
	if err := n.publisher.Publish(StatusTopic(n.prefix), true, []byte("offline")); err != nil {
		n.LogWarn("Failed to publish bridge status", "error", err)
	}
	if bus := n.GetEventBus(); bus != nil && n.events != nil {
		bus.Unsubscribe("", n.events)
	}
	err := n.group.Stop(ctx)
	n.GetStatus().SetStatus(service.StatusStopped)
	return err
}

func (n *Notifier) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-n.events:
			if !ok {
				return
			}
			if err := n.Handle(ev); err != nil {
				n.logger.Warn("Failed to forward event", "type", string(ev.Type), "error", err)
			}
		}
	}
}

// Handle publishes one event; events without a topic are ignored
func (n *Notifier) Handle(ev service.Event) error {
	switch ev.Type {
	case service.EventTypeStreamAvailable, service.EventTypeStreamUnavailable:
		uidd, _ := ev.Data["camera_id"].(string)
		if uidd == "" {
			return fmt.Errorf("stream event without camera id")
		}
		state := "offline"
		if ev.Type == service.EventTypeStreamAvailable {
			state = "online"
		}
		return n.publisher.Publish(StreamTopic(n.prefix, uidd), true, []byte(state))

	case service.EventTypeLPRMatched:
		payload, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("marshal lpr match: %w", err)
		}
		return n.publisher.Publish(LPRTopic(n.prefix), false, payload)
	}
	return nil
}
