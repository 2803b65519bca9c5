package service

import (
	"context"
	"time"

	"blindbox-service/internal/models"
	"blindbox-service/internal/store"
)

// Storage is the database as the services see it. *store.Store satisfies it.
type Storage interface {
	store.Repository
	WithTx(ctx context.Context, fn func(store.Repository) error) error
}

// BoxCache is a read-through cache for box detail pages. GetBox returns
// redisclient.ErrCacheMiss or redisclient.ErrBoxGone; SetBox must not write
// over a box marked gone.
type BoxCache interface {
	GetBox(ctx context.Context, boxID int64) (*models.Box, error)
	SetBox(ctx context.Context, box *models.Box, ttl time.Duration) error
	DeleteBox(ctx context.Context, boxID int64) error
	MarkBoxGone(ctx context.Context, boxID int64) error
}

type TokenRevoker interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
}

// PurchaseDeduper remembers purchase results by client idempotency key.
type PurchaseDeduper interface {
	GetPurchaseResult(ctx context.Context, buyerID int64, key string, dest interface{}) error
	SetPurchaseResult(ctx context.Context, buyerID int64, key string, result interface{}, ttl time.Duration) error
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// EventPublisher is satisfied by *broker.EventPublisher.
type EventPublisher interface {
	PublishBoxCreated(ctx context.Context, event *models.BoxCreatedEvent) error
	PublishBoxPurchased(ctx context.Context, event *models.BoxPurchasedEvent) error
	PublishBoxSoldOut(ctx context.Context, event *models.BoxSoldOutEvent) error
	PublishBoxDeleted(ctx context.Context, event *models.BoxDeletedEvent) error
	PublishBalanceRecharged(ctx context.Context, event *models.BalanceRechargedEvent) error
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func normalizePage(page models.Page) models.Page {
	if page.Limit <= 0 {
		page.Limit = defaultPageSize
	}
	if page.Limit > maxPageSize {
		page.Limit = maxPageSize
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	return page
}
