package worker

import (
	"context"
	"fmt"

	"blindbox-service/internal/broker"
	"blindbox-service/internal/models"
	"blindbox-service/internal/util"

	"go.uber.org/zap"
)

// MessageSource is satisfied by *broker.Consumer.
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// BoxEvictor drops a cached box detail page. MarkBoxGone also blocks the box
// from being cached again for a while.
type BoxEvictor interface {
	DeleteBox(ctx context.Context, boxID int64) error
	MarkBoxGone(ctx context.Context, boxID int64) error
}

// ProcessedEvents records which events were already applied.
type ProcessedEvents interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// CacheWorker evicts cached boxes when other instances report that their
// stock changed or they were removed.
type CacheWorker struct {
	source  MessageSource
	handler *broker.EventHandler
	cache   BoxEvictor
	events  ProcessedEvents
	logger  *zap.Logger
}

// NewCacheWorker creates a new cache worker
func NewCacheWorker(source MessageSource, cache BoxEvictor, events ProcessedEvents) *CacheWorker {
	w := &CacheWorker{
		source:  source,
		handler: broker.NewEventHandler(),
		cache:   cache,
		events:  events,
		logger:  util.GetLogger(),
	}

	w.handler.OnBoxPurchased(func(ctx context.Context, e *models.BoxPurchasedEvent) error {
		return w.evictOnce(ctx, e.BaseEvent, e.BoxID, e.Remaining == 0)
	})
	w.handler.OnBoxSoldOut(func(ctx context.Context, e *models.BoxSoldOutEvent) error {
		return w.evictOnce(ctx, e.BaseEvent, e.BoxID, true)
	})
	w.handler.OnBoxDeleted(func(ctx context.Context, e *models.BoxDeletedEvent) error {
		return w.evictOnce(ctx, e.BaseEvent, e.BoxID, true)
	})

	return w
}

// Start blocks until ctx is cancelled.
func (w *CacheWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting cache worker")
	return w.source.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the worker
func (w *CacheWorker) Stop() error {
	w.logger.Info("Stopping cache worker")
	return w.source.Close()
}

func (w *CacheWorker) evictOnce(ctx context.Context, event models.BaseEvent, boxID int64, gone bool) error {
	ctx, span := util.StartSpan(ctx, "CacheWorker.Evict")
	defer span.End()

	if event.EventID != "" {
		done, err := w.events.IsEventProcessed(ctx, event.EventID)
		if err != nil {
			return util.SpanError(span, fmt.Errorf("failed to check event %s: %w", event.EventID, err))
		}
		if done {
			w.logger.Debug("Event already processed", zap.String("event_id", event.EventID))
			return nil
		}
	}

	evict := w.cache.DeleteBox
	if gone {
		evict = w.cache.MarkBoxGone
	}
	if err := evict(ctx, boxID); err != nil {
		return util.SpanError(span, fmt.Errorf("failed to evict box %d: %w", boxID, err))
	}

	if event.EventID != "" {
		if err := w.events.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
			// eviction already happened and is safe to repeat
			w.logger.Warn("Failed to mark event processed",
				zap.String("event_id", event.EventID), zap.Error(err))
		}
	}

	util.LoggerFromContext(ctx).Debug("Box evicted from cache",
		zap.Int64("box_id", boxID), zap.String("event_type", event.EventType))
	return nil
}
