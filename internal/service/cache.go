package service

import (
	"context"
	"sync"
	"time"

	"blindbox-service/internal/models"
	"blindbox-service/internal/redisclient"
)

// GuardedCache fronts a shared BoxCache with tombstones kept in process.
// A box deleted through this instance stays unreadable here even when the
// remote tombstone could not be written. Build one and share it between
// services.
type GuardedCache struct {
	remote BoxCache
	ttl    time.Duration

	mu   sync.Mutex
	gone map[int64]time.Time
}

func NewGuardedCache(remote BoxCache, tombstoneTTL time.Duration) *GuardedCache {
	return &GuardedCache{
		remote: remote,
		ttl:    tombstoneTTL,
		gone:   make(map[int64]time.Time),
	}
}

func (c *GuardedCache) isGone(boxID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.gone[boxID]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.gone, boxID)
		return false
	}
	return true
}

func (c *GuardedCache) GetBox(ctx context.Context, boxID int64) (*models.Box, error) {
	if c.isGone(boxID) {
		return nil, redisclient.ErrBoxGone
	}
	return c.remote.GetBox(ctx, boxID)
}

func (c *GuardedCache) SetBox(ctx context.Context, box *models.Box, ttl time.Duration) error {
	if c.isGone(box.ID) {
		return nil
	}
	return c.remote.SetBox(ctx, box, ttl)
}

func (c *GuardedCache) DeleteBox(ctx context.Context, boxID int64) error {
	return c.remote.DeleteBox(ctx, boxID)
}

// MarkBoxGone records the tombstone locally before trying the remote one.
func (c *GuardedCache) MarkBoxGone(ctx context.Context, boxID int64) error {
	now := time.Now()
	c.mu.Lock()
	for id, until := range c.gone {
		if now.After(until) {
			delete(c.gone, id)
		}
	}
	c.gone[boxID] = now.Add(c.ttl)
	c.mu.Unlock()
	return c.remote.MarkBoxGone(ctx, boxID)
}
