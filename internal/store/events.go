package store

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// IsEventProcessed checks if an event has been processed
func (q *Queries) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q.db, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (q *Queries) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
