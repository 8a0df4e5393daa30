package worker

import (
	"context"
	"fmt"

	"shea-order-service/internal/broker"
	"shea-order-service/internal/models"
	"shea-order-service/internal/notify"
	"shea-order-service/internal/util"

	"go.uber.org/zap"
)

// EventLog records which events were already handled
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// NotificationWorker delivers queued notifications at most once per event id
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	events       EventLog
	mailer       notify.Mailer
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, events EventLog, mailer notify.Mailer) *NotificationWorker {
	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		events:       events,
		mailer:       mailer,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnNotification(w.HandleNotification)
	return w
}

// HandleNotification sends one notification unless its event id was seen before
func (w *NotificationWorker) HandleNotification(ctx context.Context, event *models.NotificationEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationWorker.HandleNotification")
	defer span.End()

	processed, err := w.events.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		w.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	if err := w.mailer.Send(ctx, event.Notification); err != nil {
		util.NotificationsFailedTotal.WithLabelValues(event.Template).Inc()
		return fmt.Errorf("failed to send notification: %w", err)
	}

	if err := w.events.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}
