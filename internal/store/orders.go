package store

import (
	"context"
	"fmt"

	"blindbox-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = "id, box_id, seller_id, buyer_id, box_name, item_name, price, created_at"

// CreateOrder appends an order row
func (q *Queries) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (box_id, seller_id, buyer_id, box_name, item_name, price)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := sqlx.GetContext(ctx, q.db, order, query,
		order.BoxID, order.SellerID, order.BuyerID, order.BoxName, order.ItemName, order.Price)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// ListOrdersByBuyer retrieves purchases made by a user
func (q *Queries) ListOrdersByBuyer(ctx context.Context, buyerID int64, page models.Page) ([]models.Order, error) {
	return q.listOrders(ctx, "WHERE buyer_id = $1", page, buyerID)
}

// ListOrdersBySeller retrieves sales of a user's boxes
func (q *Queries) ListOrdersBySeller(ctx context.Context, sellerID int64, page models.Page) ([]models.Order, error) {
	return q.listOrders(ctx, "WHERE seller_id = $1", page, sellerID)
}

func (q *Queries) ListOrders(ctx context.Context, page models.Page) ([]models.Order, error) {
	return q.listOrders(ctx, "", page)
}

func (q *Queries) listOrders(ctx context.Context, where string, page models.Page, args ...interface{}) ([]models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders"
	if where != "" {
		query += " " + where
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, page.Limit, page.Offset)

	orders := []models.Order{}
	if err := sqlx.SelectContext(ctx, q.db, &orders, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}
