package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"blindbox-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

//go:embed schema.sql
var schema string

// Repository is the set of queries available both on the pooled connection
// and inside a transaction.
type Repository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserBalance(ctx context.Context, id int64) (int64, error)
	DebitUser(ctx context.Context, id, amount int64) (bool, error)
	CreditUser(ctx context.Context, id, amount int64) (int64, error)

	CreateBox(ctx context.Context, box *models.Box) error
	CreateBoxItem(ctx context.Context, item *models.BoxItem) error
	GetBox(ctx context.Context, id int64) (*models.Box, error)
	ListBoxes(ctx context.Context, filter models.BoxFilter) ([]models.Box, error)
	ListBoxItems(ctx context.Context, boxID int64) ([]models.BoxItem, error)
	ListAvailableItems(ctx context.Context, boxID int64) ([]models.BoxItem, error)
	DecrementItem(ctx context.Context, itemID int64) (bool, error)
	DecrementBox(ctx context.Context, boxID int64) (int, bool, error)
	DeleteBox(ctx context.Context, id int64) error

	CreateOrder(ctx context.Context, order *models.Order) error
	ListOrdersByBuyer(ctx context.Context, buyerID int64, page models.Page) ([]models.Order, error)
	ListOrdersBySeller(ctx context.Context, sellerID int64, page models.Page) ([]models.Order, error)
	ListOrders(ctx context.Context, page models.Page) ([]models.Order, error)

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Queries runs statements against either *sqlx.DB or *sqlx.Tx.
type Queries struct {
	db sqlx.ExtContext
}

var _ Repository = (*Queries)(nil)

type Store struct {
	*Queries
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{Queries: &Queries{db: db}, db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates any missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// WithTx runs fn inside a single transaction. The transaction commits when fn
// returns nil and rolls back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(Repository) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Queries{db: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
