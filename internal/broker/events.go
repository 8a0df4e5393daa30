package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"shea-order-service/internal/models"
	"shea-order-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter publishes one keyed event
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventNotifier queues notifications on the broker for the notification worker
type EventNotifier struct {
	writer EventWriter
}

// NewEventNotifier creates a notifier backed by writer
func NewEventNotifier(writer EventWriter) *EventNotifier {
	return &EventNotifier{writer: writer}
}

// Notify publishes a notification event keyed by sale so one sale's messages stay ordered
func (en *EventNotifier) Notify(ctx context.Context, n models.Notification) error {
	event := &models.NotificationEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeNotification,
			Timestamp: time.Now().UTC(),
		},
		Notification: n,
	}
	return en.writer.PublishEvent(ctx, "sale-"+n.SaleID, event)
}

// EventHandler routes incoming messages by event type
type EventHandler struct {
	onNotification func(context.Context, *models.NotificationEvent) error
	logger         *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnNotification registers a handler for notification events
func (eh *EventHandler) OnNotification(handler func(context.Context, *models.NotificationEvent) error) {
	eh.onNotification = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeNotification:
		if eh.onNotification != nil {
			var event models.NotificationEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal notification event: %w", err)
			}
			return eh.onNotification(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
