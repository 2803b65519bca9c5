package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"blindbox-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const boxColumns = "id, user_id, name, description, avatar, price, box_num, created_at, updated_at"

// CreateBox inserts a box and fills in the generated id and timestamps.
func (q *Queries) CreateBox(ctx context.Context, box *models.Box) error {
	query := `
		INSERT INTO boxes (user_id, name, description, avatar, price, box_num)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := sqlx.GetContext(ctx, q.db, box, query,
		box.UserID, box.Name, box.Description, box.Avatar, box.Price, box.BoxNum)
	if err != nil {
		return fmt.Errorf("failed to create box: %w", err)
	}
	return nil
}

func (q *Queries) CreateBoxItem(ctx context.Context, item *models.BoxItem) error {
	err := sqlx.GetContext(ctx, q.db, &item.ID,
		"INSERT INTO box_items (box_id, name, quantity) VALUES ($1, $2, $3) RETURNING id",
		item.BoxID, item.Name, item.Quantity)
	if err != nil {
		return fmt.Errorf("failed to create box item: %w", err)
	}
	return nil
}

// GetBox retrieves a box by ID without its items.
func (q *Queries) GetBox(ctx context.Context, id int64) (*models.Box, error) {
	var box models.Box
	err := sqlx.GetContext(ctx, q.db, &box,
		"SELECT "+boxColumns+" FROM boxes WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get box %d: %w", id, err)
	}
	return &box, nil
}

// ListBoxes returns boxes newest first, optionally filtered by owner and a
// case-insensitive keyword over name and description.
func (q *Queries) ListBoxes(ctx context.Context, filter models.BoxFilter) ([]models.Box, error) {
	var (
		conds []string
		args  []interface{}
	)

	if filter.Keyword != "" {
		args = append(args, "%"+escapeLike(filter.Keyword)+"%")
		conds = append(conds, fmt.Sprintf(`(name ILIKE $%d ESCAPE '\' OR description ILIKE $%d ESCAPE '\')`, len(args), len(args)))
	}
	if filter.OwnerID != 0 {
		args = append(args, filter.OwnerID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}

	query := "SELECT " + boxColumns + " FROM boxes"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	boxes := []models.Box{}
	if err := sqlx.SelectContext(ctx, q.db, &boxes, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list boxes: %w", err)
	}
	return boxes, nil
}

func (q *Queries) ListBoxItems(ctx context.Context, boxID int64) ([]models.BoxItem, error) {
	items := []models.BoxItem{}
	err := sqlx.SelectContext(ctx, q.db, &items,
		"SELECT id, box_id, name, quantity FROM box_items WHERE box_id = $1 ORDER BY id", boxID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items of box %d: %w", boxID, err)
	}
	return items, nil
}

// ListAvailableItems returns the items of a box that still have stock.
func (q *Queries) ListAvailableItems(ctx context.Context, boxID int64) ([]models.BoxItem, error) {
	items := []models.BoxItem{}
	err := sqlx.SelectContext(ctx, q.db, &items,
		"SELECT id, box_id, name, quantity FROM box_items WHERE box_id = $1 AND quantity > 0 ORDER BY id", boxID)
	if err != nil {
		return nil, fmt.Errorf("failed to list available items of box %d: %w", boxID, err)
	}
	return items, nil
}

// DecrementItem takes one unit of stock from an item. The predicate is
// evaluated at write time, so false means another transaction drained it.
func (q *Queries) DecrementItem(ctx context.Context, itemID int64) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		"UPDATE box_items SET quantity = quantity - 1 WHERE id = $1 AND quantity > 0", itemID)
	if err != nil {
		return false, fmt.Errorf("failed to decrement item %d: %w", itemID, err)
	}
	return affectedOne(res)
}

// DecrementBox takes one draw from a box and returns the remaining count.
// ok is false when the box is gone or already at zero.
func (q *Queries) DecrementBox(ctx context.Context, boxID int64) (remaining int, ok bool, err error) {
	err = sqlx.GetContext(ctx, q.db, &remaining,
		"UPDATE boxes SET box_num = box_num - 1, updated_at = NOW() WHERE id = $1 AND box_num > 0 RETURNING box_num",
		boxID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to decrement box %d: %w", boxID, err)
	}
	return remaining, true, nil
}

// DeleteBox removes a box; its items go with it through the cascade.
func (q *Queries) DeleteBox(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM boxes WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete box %d: %w", id, err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes ILIKE treat the pattern characters of s literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
