package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"blindbox-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const userColumns = "id, username, password_hash, role, balance, created_at, updated_at"

// CreateUser inserts a user and fills in the generated id and timestamps.
func (q *Queries) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (username, password_hash, role, balance)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	err := sqlx.GetContext(ctx, q.db, user, query,
		user.Username, user.PasswordHash, user.Role, user.Balance)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID
func (q *Queries) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := sqlx.GetContext(ctx, q.db, &user,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return &user, nil
}

// GetUserByUsername retrieves a user by username
func (q *Queries) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := sqlx.GetContext(ctx, q.db, &user,
		"SELECT "+userColumns+" FROM users WHERE username = $1", username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %q: %w", username, err)
	}
	return &user, nil
}

func (q *Queries) GetUserBalance(ctx context.Context, id int64) (int64, error) {
	var balance int64
	err := sqlx.GetContext(ctx, q.db, &balance, "SELECT balance FROM users WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance for user %d: %w", id, err)
	}
	return balance, nil
}

// DebitUser subtracts amount from the balance only if the current balance
// covers it. It reports false when no row matched.
func (q *Queries) DebitUser(ctx context.Context, id, amount int64) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		"UPDATE users SET balance = balance - $1, updated_at = NOW() WHERE id = $2 AND balance >= $1",
		amount, id)
	if err != nil {
		return false, fmt.Errorf("failed to debit user %d: %w", id, err)
	}
	return affectedOne(res)
}

// CreditUser adds amount to the balance and returns the new balance.
func (q *Queries) CreditUser(ctx context.Context, id, amount int64) (int64, error) {
	var balance int64
	err := sqlx.GetContext(ctx, q.db, &balance,
		"UPDATE users SET balance = balance + $1, updated_at = NOW() WHERE id = $2 RETURNING balance",
		amount, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to credit user %d: %w", id, err)
	}
	return balance, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}
