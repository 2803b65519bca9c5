package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"blindbox-service/internal/models"
	"blindbox-service/internal/store"
	"blindbox-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	purchaseResultTTL = 24 * time.Hour
	purchaseLockTTL   = 30 * time.Second
)

// Picker returns an index in [0, n).
type Picker func(n int) int

// PurchaseResult is what a buyer gets back from a draw.
type PurchaseResult struct {
	OrderID   int64          `json:"order_id"`
	BoxID     int64          `json:"box_id"`
	Item      models.BoxItem `json:"item"`
	Price     int64          `json:"price"`
	Remaining int            `json:"remaining"`
}

// PurchaseService runs the draw-and-pay transaction.
type PurchaseService struct {
	store     Storage
	cache     BoxCache
	dedupe    PurchaseDeduper
	publisher EventPublisher
	pick      Picker
	logger    *zap.Logger
}

// NewPurchaseService creates a purchase service that draws uniformly over
// the rows of a box that still have stock.
func NewPurchaseService(
	store Storage,
	cache BoxCache,
	dedupe PurchaseDeduper,
	publisher EventPublisher,
) *PurchaseService {
	return &PurchaseService{
		store:     store,
		cache:     cache,
		dedupe:    dedupe,
		publisher: publisher,
		pick:      rand.Intn,
		logger:    util.GetLogger(),
	}
}

// WithPicker replaces the random index source.
func (s *PurchaseService) WithPicker(p Picker) *PurchaseService {
	s.pick = p
	return s
}

// Purchase buys one draw from a box. Every mutation happens in one
// transaction; on any error nothing is changed.
func (s *PurchaseService) Purchase(ctx context.Context, boxID, buyerID int64) (*PurchaseResult, error) {
	ctx, span := util.StartSpan(ctx, "PurchaseService.Purchase",
		attribute.Int64("box_id", boxID),
		attribute.Int64("buyer_id", buyerID))
	defer span.End()

	start := time.Now()
	defer func() {
		util.PurchaseLatency.Observe(time.Since(start).Seconds())
	}()

	var (
		box    *models.Box
		result *PurchaseResult
	)

	err := s.store.WithTx(ctx, func(repo store.Repository) error {
		var err error
		box, err = repo.GetBox(ctx, boxID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrBoxNotFound
		}
		if err != nil {
			return storageFailure("load box", err)
		}

		balance, err := repo.GetUserBalance(ctx, buyerID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return storageFailure("load buyer balance", err)
		}
		if balance < box.Price {
			return ErrInsufficientFunds
		}

		items, err := repo.ListAvailableItems(ctx, boxID)
		if err != nil {
			return storageFailure("load available items", err)
		}
		if len(items) == 0 {
			return ErrOutOfStock
		}
		item := items[s.pick(len(items))]

		// The guarded updates below are checked at write time; a concurrent
		// buyer that drained the item or the box turns into OutOfStock here.
		ok, err := repo.DecrementItem(ctx, item.ID)
		if err != nil {
			return storageFailure("decrement item", err)
		}
		if !ok {
			return ErrOutOfStock
		}

		remaining, ok, err := repo.DecrementBox(ctx, boxID)
		if err != nil {
			return storageFailure("decrement box", err)
		}
		if !ok {
			return ErrOutOfStock
		}

		if err := transfer(ctx, repo, buyerID, box.UserID, box.Price); err != nil {
			return err
		}

		order := &models.Order{
			BoxID:    box.ID,
			SellerID: box.UserID,
			BuyerID:  buyerID,
			BoxName:  box.Name,
			ItemName: item.Name,
			Price:    box.Price,
		}
		if err := repo.CreateOrder(ctx, order); err != nil {
			return storageFailure("create order", err)
		}

		if remaining == 0 {
			if err := repo.DeleteBox(ctx, boxID); err != nil {
				return storageFailure("delete sold out box", err)
			}
		}

		item.Quantity--
		result = &PurchaseResult{
			OrderID:   order.ID,
			BoxID:     box.ID,
			Item:      item,
			Price:     box.Price,
			Remaining: remaining,
		}
		return nil
	})
	if err != nil {
		err = asStorageFailure("purchase transaction", err)
		s.recordFailure(ctx, boxID, buyerID, err)
		return nil, util.SpanError(span, err)
	}

	s.afterPurchase(ctx, box, buyerID, result)
	return result, nil
}

// transfer moves amount from buyer to seller. The two row updates run in
// ascending user id order so crossed purchases between the same two users
// lock rows in the same order and cannot deadlock.
func transfer(ctx context.Context, repo store.Repository, buyerID, sellerID, amount int64) error {
	debit := func() error {
		ok, err := repo.DebitUser(ctx, buyerID, amount)
		if err != nil {
			return storageFailure("debit buyer", err)
		}
		if !ok {
			return ErrInsufficientFunds
		}
		return nil
	}
	credit := func() error {
		if _, err := repo.CreditUser(ctx, sellerID, amount); err != nil {
			return storageFailure("credit seller", err)
		}
		return nil
	}

	first, second := debit, credit
	if sellerID < buyerID {
		first, second = credit, debit
	}
	if err := first(); err != nil {
		return err
	}
	return second()
}

// PurchaseOnce is Purchase keyed by a client idempotency key. A repeated key
// returns the stored result instead of drawing again; replayed reports that.
func (s *PurchaseService) PurchaseOnce(ctx context.Context, boxID, buyerID int64, key string) (result *PurchaseResult, replayed bool, err error) {
	if key == "" || s.dedupe == nil {
		result, err = s.Purchase(ctx, boxID, buyerID)
		return result, false, err
	}

	if cached, ok, err := s.storedResult(ctx, boxID, buyerID, key); ok || err != nil {
		return cached, ok, err
	}

	lockKey := fmt.Sprintf("purchase:%d:%s", buyerID, key)
	locked, err := s.dedupe.AcquireLock(ctx, lockKey, purchaseLockTTL)
	if err != nil {
		s.logger.Warn("Idempotency lock unavailable, purchasing without it", zap.Error(err))
	} else if !locked {
		return nil, false, ErrDuplicateRequest
	} else {
		defer func() {
			if err := s.dedupe.ReleaseLock(context.Background(), lockKey); err != nil {
				s.logger.Warn("Failed to release idempotency lock", zap.String("lock", lockKey), zap.Error(err))
			}
		}()
		if cached, ok, err := s.storedResult(ctx, boxID, buyerID, key); ok || err != nil {
			return cached, ok, err
		}
	}

	result, err = s.Purchase(ctx, boxID, buyerID)
	if err != nil {
		return nil, false, err
	}

	if err := s.dedupe.SetPurchaseResult(ctx, buyerID, key, result, purchaseResultTTL); err != nil {
		s.logger.Warn("Failed to store purchase result", zap.Int64("order_id", result.OrderID), zap.Error(err))
	}
	return result, false, nil
}

// storedResult looks up an earlier result for key. A result recorded for a
// different box is an error rather than a replay.
func (s *PurchaseService) storedResult(ctx context.Context, boxID, buyerID int64, key string) (*PurchaseResult, bool, error) {
	var cached PurchaseResult
	if err := s.dedupe.GetPurchaseResult(ctx, buyerID, key, &cached); err != nil {
		return nil, false, nil
	}
	if cached.BoxID != boxID {
		return nil, false, fmt.Errorf("%w: idempotency key already used for box %d", ErrInvalidInput, cached.BoxID)
	}
	return &cached, true, nil
}

// afterPurchase runs the side effects of a committed purchase. None of them
// can fail the purchase.
func (s *PurchaseService) afterPurchase(ctx context.Context, box *models.Box, buyerID int64, result *PurchaseResult) {
	util.PurchasesTotal.Inc()
	util.PurchaseRevenueTotal.Add(float64(result.Price))

	s.logger.Info("Box purchased",
		zap.Int64("order_id", result.OrderID),
		zap.Int64("box_id", box.ID),
		zap.Int64("buyer_id", buyerID),
		zap.String("item", result.Item.Name),
		zap.Int("remaining", result.Remaining))

	// a sold-out box is deleted, so it gets a tombstone rather than an evict
	if result.Remaining == 0 {
		if err := s.cache.MarkBoxGone(ctx, box.ID); err != nil {
			s.logger.Warn("Failed to tombstone box in cache", zap.Int64("box_id", box.ID), zap.Error(err))
		}
	} else if err := s.cache.DeleteBox(ctx, box.ID); err != nil {
		s.logger.Warn("Failed to evict box from cache", zap.Int64("box_id", box.ID), zap.Error(err))
	}

	purchased := &models.BoxPurchasedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeBoxPurchased),
		OrderID:   result.OrderID,
		BoxID:     box.ID,
		BuyerID:   buyerID,
		SellerID:  box.UserID,
		ItemName:  result.Item.Name,
		Price:     result.Price,
		Remaining: result.Remaining,
	}
	if err := s.publisher.PublishBoxPurchased(ctx, purchased); err != nil {
		util.EventsPublishFailed.WithLabelValues(models.EventTypeBoxPurchased).Inc()
		s.logger.Error("Failed to publish BoxPurchased event", zap.Error(err))
	}

	if result.Remaining == 0 {
		util.BoxesSoldOutTotal.Inc()
		soldOut := &models.BoxSoldOutEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeBoxSoldOut),
			BoxID:     box.ID,
			SellerID:  box.UserID,
		}
		if err := s.publisher.PublishBoxSoldOut(ctx, soldOut); err != nil {
			util.EventsPublishFailed.WithLabelValues(models.EventTypeBoxSoldOut).Inc()
			s.logger.Error("Failed to publish BoxSoldOut event", zap.Error(err))
		}
	}
}

func (s *PurchaseService) recordFailure(ctx context.Context, boxID, buyerID int64, err error) {
	reason := failureReason(err)
	util.PurchasesFailedTotal.WithLabelValues(reason).Inc()

	fields := []zap.Field{
		zap.Int64("box_id", boxID),
		zap.Int64("buyer_id", buyerID),
		zap.String("reason", reason),
	}
	if errors.Is(err, ErrStorage) {
		util.LoggerFromContext(ctx).Error("Purchase rolled back", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Info("Purchase rejected", fields...)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrBoxNotFound):
		return "not_found"
	case errors.Is(err, ErrUserNotFound):
		return "unknown_buyer"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	default:
		return "storage"
	}
}
