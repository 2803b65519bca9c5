package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"blindbox-service/internal/models"
	"blindbox-service/internal/redisclient"
	"blindbox-service/internal/store"
	"blindbox-service/internal/util"

	"go.uber.org/zap"
)

// CreateBoxInput is a validated request to list a new box.
type CreateBoxInput struct {
	Name        string               `json:"name" binding:"required,max=128"`
	Description string               `json:"description" binding:"max=2000"`
	Avatar      string               `json:"avatar" binding:"omitempty,url"`
	Price       int64                `json:"price" binding:"min=0"`
	BoxNum      int                  `json:"box_num" binding:"required,min=1"`
	Items       []CreateBoxItemInput `json:"items" binding:"required,min=1,dive"`
}

type CreateBoxItemInput struct {
	Name     string `json:"name" binding:"required,max=128"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
}

// Validate checks the rules binding tags cannot express, and repeats the
// basic ones for callers that skip binding.
func (in CreateBoxInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidBox)
	}
	if in.Price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidBox)
	}
	if in.BoxNum < 1 {
		return fmt.Errorf("%w: box_num must be at least 1", ErrInvalidBox)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidBox)
	}

	total := 0
	for i, item := range in.Items {
		if strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("%w: item %d has no name", ErrInvalidBox, i)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item %q must have a positive quantity", ErrInvalidBox, item.Name)
		}
		total += item.Quantity
	}
	if in.BoxNum > total {
		return fmt.Errorf("%w: box_num %d exceeds total item quantity %d", ErrInvalidBox, in.BoxNum, total)
	}
	return nil
}

// BoxService manages the box catalogue.
type BoxService struct {
	store     Storage
	cache     BoxCache
	publisher EventPublisher
	cacheTTL  time.Duration
	logger    *zap.Logger
}

func NewBoxService(store Storage, cache BoxCache, publisher EventPublisher, cacheTTL time.Duration) *BoxService {
	return &BoxService{
		store:     store,
		cache:     cache,
		publisher: publisher,
		cacheTTL:  cacheTTL,
		logger:    util.GetLogger(),
	}
}

// CreateBox inserts a box and its items in one transaction.
func (s *BoxService) CreateBox(ctx context.Context, ownerID int64, in CreateBoxInput) (*models.Box, error) {
	ctx, span := util.StartSpan(ctx, "BoxService.CreateBox")
	defer span.End()

	if err := in.Validate(); err != nil {
		return nil, err
	}

	box := &models.Box{
		UserID:      ownerID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Avatar:      in.Avatar,
		Price:       in.Price,
		BoxNum:      in.BoxNum,
	}

	err := s.store.WithTx(ctx, func(repo store.Repository) error {
		if _, err := repo.GetUserByID(ctx, ownerID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrUserNotFound
			}
			return storageFailure("load owner", err)
		}

		if err := repo.CreateBox(ctx, box); err != nil {
			return storageFailure("create box", err)
		}

		box.Items = make([]models.BoxItem, 0, len(in.Items))
		for _, it := range in.Items {
			item := models.BoxItem{BoxID: box.ID, Name: strings.TrimSpace(it.Name), Quantity: it.Quantity}
			if err := repo.CreateBoxItem(ctx, &item); err != nil {
				return storageFailure("create box item", err)
			}
			box.Items = append(box.Items, item)
		}
		return nil
	})
	if err != nil {
		err = asStorageFailure("create box transaction", err)
		if errors.Is(err, ErrStorage) {
			s.logger.Error("Failed to create box", zap.Int64("owner_id", ownerID), zap.Error(err))
		}
		return nil, util.SpanError(span, err)
	}

	util.BoxesCreatedTotal.Inc()
	s.logger.Info("Box created", zap.Int64("box_id", box.ID), zap.Int64("owner_id", ownerID))

	event := &models.BoxCreatedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeBoxCreated),
		BoxID:     box.ID,
		OwnerID:   ownerID,
		Price:     box.Price,
		BoxNum:    box.BoxNum,
	}
	if err := s.publisher.PublishBoxCreated(ctx, event); err != nil {
		util.EventsPublishFailed.WithLabelValues(models.EventTypeBoxCreated).Inc()
		s.logger.Error("Failed to publish BoxCreated event", zap.Error(err))
	}

	return box, nil
}

// GetBox returns a box with its items, served from cache when possible.
func (s *BoxService) GetBox(ctx context.Context, boxID int64) (*models.Box, error) {
	ctx, span := util.StartSpan(ctx, "BoxService.GetBox")
	defer span.End()

	cached, err := s.cache.GetBox(ctx, boxID)
	if err == nil {
		util.BoxCacheRequests.WithLabelValues("hit").Inc()
		return cached, nil
	}
	switch {
	case errors.Is(err, redisclient.ErrBoxGone):
		util.BoxCacheRequests.WithLabelValues("gone").Inc()
		return nil, ErrBoxNotFound
	case errors.Is(err, redisclient.ErrCacheMiss):
		util.BoxCacheRequests.WithLabelValues("miss").Inc()
	default:
		util.BoxCacheRequests.WithLabelValues("error").Inc()
		s.logger.Warn("Box cache read failed", zap.Int64("box_id", boxID), zap.Error(err))
	}

	box, err := s.store.GetBox(ctx, boxID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrBoxNotFound
	}
	if err != nil {
		return nil, util.SpanError(span, storageFailure("load box", err))
	}

	box.Items, err = s.store.ListBoxItems(ctx, boxID)
	if err != nil {
		return nil, util.SpanError(span, storageFailure("load box items", err))
	}

	if s.cacheTTL > 0 {
		if err := s.cache.SetBox(ctx, box, s.cacheTTL); err != nil {
			s.logger.Warn("Box cache write failed", zap.Int64("box_id", boxID), zap.Error(err))
		}
	}
	return box, nil
}

// ListBoxes returns one page of boxes, without items.
func (s *BoxService) ListBoxes(ctx context.Context, filter models.BoxFilter) ([]models.Box, error) {
	ctx, span := util.StartSpan(ctx, "BoxService.ListBoxes")
	defer span.End()

	page := normalizePage(models.Page{Limit: filter.Limit, Offset: filter.Offset})
	filter.Limit, filter.Offset = page.Limit, page.Offset
	filter.Keyword = strings.TrimSpace(filter.Keyword)

	boxes, err := s.store.ListBoxes(ctx, filter)
	if err != nil {
		return nil, util.SpanError(span, storageFailure("list boxes", err))
	}
	return boxes, nil
}

// DeleteBox removes a box on behalf of its owner or an admin.
func (s *BoxService) DeleteBox(ctx context.Context, boxID, actorID int64, actorRole string) error {
	ctx, span := util.StartSpan(ctx, "BoxService.DeleteBox")
	defer span.End()

	box, err := s.store.GetBox(ctx, boxID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrBoxNotFound
	}
	if err != nil {
		return util.SpanError(span, storageFailure("load box", err))
	}

	if box.UserID != actorID && !models.RoleAtLeast(actorRole, models.RoleAdmin) {
		return ErrForbidden
	}

	if err := s.store.DeleteBox(ctx, boxID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrBoxNotFound
		}
		return util.SpanError(span, storageFailure("delete box", err))
	}

	s.logger.Info("Box deleted", zap.Int64("box_id", boxID), zap.Int64("actor_id", actorID))

	if err := s.cache.MarkBoxGone(ctx, boxID); err != nil {
		s.logger.Warn("Failed to tombstone box in cache", zap.Int64("box_id", boxID), zap.Error(err))
	}

	event := &models.BoxDeletedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeBoxDeleted),
		BoxID:     boxID,
		DeletedBy: actorID,
	}
	if err := s.publisher.PublishBoxDeleted(ctx, event); err != nil {
		util.EventsPublishFailed.WithLabelValues(models.EventTypeBoxDeleted).Inc()
		s.logger.Error("Failed to publish BoxDeleted event", zap.Error(err))
	}
	return nil
}
