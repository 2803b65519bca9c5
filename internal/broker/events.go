package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"blindbox-service/internal/models"
	"blindbox-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter is satisfied by *Producer.
type EventWriter interface {
	PublishEvent(ctx context.Context, key, eventType string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	writer EventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(writer EventWriter) *EventPublisher {
	return &EventPublisher{writer: writer}
}

func boxEventKey(boxID int64) string { return fmt.Sprintf("box-%d", boxID) }

func (ep *EventPublisher) PublishBoxCreated(ctx context.Context, event *models.BoxCreatedEvent) error {
	return ep.writer.PublishEvent(ctx, boxEventKey(event.BoxID), event.EventType, event)
}

func (ep *EventPublisher) PublishBoxPurchased(ctx context.Context, event *models.BoxPurchasedEvent) error {
	return ep.writer.PublishEvent(ctx, boxEventKey(event.BoxID), event.EventType, event)
}

func (ep *EventPublisher) PublishBoxSoldOut(ctx context.Context, event *models.BoxSoldOutEvent) error {
	return ep.writer.PublishEvent(ctx, boxEventKey(event.BoxID), event.EventType, event)
}

func (ep *EventPublisher) PublishBoxDeleted(ctx context.Context, event *models.BoxDeletedEvent) error {
	return ep.writer.PublishEvent(ctx, boxEventKey(event.BoxID), event.EventType, event)
}

func (ep *EventPublisher) PublishBalanceRecharged(ctx context.Context, event *models.BalanceRechargedEvent) error {
	key := fmt.Sprintf("user-%d", event.UserID)
	return ep.writer.PublishEvent(ctx, key, event.EventType, event)
}

// EventHandler routes incoming events to registered callbacks by type.
type EventHandler struct {
	onBoxPurchased func(context.Context, *models.BoxPurchasedEvent) error
	onBoxSoldOut   func(context.Context, *models.BoxSoldOutEvent) error
	onBoxDeleted   func(context.Context, *models.BoxDeletedEvent) error
	logger         *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

func (eh *EventHandler) OnBoxPurchased(handler func(context.Context, *models.BoxPurchasedEvent) error) {
	eh.onBoxPurchased = handler
}

func (eh *EventHandler) OnBoxSoldOut(handler func(context.Context, *models.BoxSoldOutEvent) error) {
	eh.onBoxSoldOut = handler
}

func (eh *EventHandler) OnBoxDeleted(handler func(context.Context, *models.BoxDeletedEvent) error) {
	eh.onBoxDeleted = handler
}

// HandleMessage routes messages to appropriate handlers. Types without a
// registered handler are acknowledged and dropped.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeBoxPurchased:
		if eh.onBoxPurchased != nil {
			var event models.BoxPurchasedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal BoxPurchased event: %w", err)
			}
			return eh.onBoxPurchased(ctx, &event)
		}

	case models.EventTypeBoxSoldOut:
		if eh.onBoxSoldOut != nil {
			var event models.BoxSoldOutEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal BoxSoldOut event: %w", err)
			}
			return eh.onBoxSoldOut(ctx, &event)
		}

	case models.EventTypeBoxDeleted:
		if eh.onBoxDeleted != nil {
			var event models.BoxDeletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal BoxDeleted event: %w", err)
			}
			return eh.onBoxDeleted(ctx, &event)
		}
	}

	return nil
}
