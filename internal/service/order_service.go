package service

import (
	"context"

	"blindbox-service/internal/models"
	"blindbox-service/internal/util"
)

// OrderService reads the purchase history. Orders are written only by
// PurchaseService.
type OrderService struct {
	store Storage
}

func NewOrderService(store Storage) *OrderService {
	return &OrderService{store: store}
}

// ListPurchases returns orders where the user was the buyer, newest first.
func (s *OrderService) ListPurchases(ctx context.Context, buyerID int64, page models.Page) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListPurchases")
	defer span.End()

	orders, err := s.store.ListOrdersByBuyer(ctx, buyerID, normalizePage(page))
	if err != nil {
		return nil, util.SpanError(span, storageFailure("list purchases", err))
	}
	return orders, nil
}

// ListSales returns orders for boxes the user sold.
func (s *OrderService) ListSales(ctx context.Context, sellerID int64, page models.Page) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListSales")
	defer span.End()

	orders, err := s.store.ListOrdersBySeller(ctx, sellerID, normalizePage(page))
	if err != nil {
		return nil, util.SpanError(span, storageFailure("list sales", err))
	}
	return orders, nil
}

func (s *OrderService) ListAll(ctx context.Context, page models.Page) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListAll")
	defer span.End()

	orders, err := s.store.ListOrders(ctx, normalizePage(page))
	if err != nil {
		return nil, util.SpanError(span, storageFailure("list orders", err))
	}
	return orders, nil
}
