package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"blindbox-service/internal/models"
	"blindbox-service/internal/redisclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pausingStorage holds GetBox's read-through between loading the box row and
// loading its items.
type pausingStorage struct {
	*memStorage
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func (p *pausingStorage) ListBoxItems(ctx context.Context, boxID int64) ([]models.BoxItem, error) {
	p.once.Do(func() { close(p.reached) })
	<-p.release
	return p.memStorage.ListBoxItems(ctx, boxID)
}

func lastDrawFixture(m *memStorage) (buyer models.User, box models.Box) {
	seller := m.addUser("seller", 0)
	buyer = m.addUser("buyer", 50)
	box = m.addBox(seller.ID, 20, 1, map[string]int{"A": 1})
	return buyer, box
}

func TestReadThroughRacingLastDrawDoesNotRecache(t *testing.T) {
	m := newMemStorage()
	buyer, box := lastDrawFixture(m)
	cache := newMemCache()
	paused := &pausingStorage{memStorage: m, reached: make(chan struct{}), release: make(chan struct{})}

	boxes := NewBoxService(paused, cache, &recordingPublisher{}, time.Minute)
	purchases := NewPurchaseService(m, cache, newMemDeduper(), &recordingPublisher{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = boxes.GetBox(context.Background(), box.ID)
	}()

	<-paused.reached
	_, err := purchases.Purchase(context.Background(), box.ID, buyer.ID)
	require.NoError(t, err)
	close(paused.release)
	<-done

	assert.False(t, cache.cached(box.ID))
	_, err = boxes.GetBox(context.Background(), box.ID)
	assert.ErrorIs(t, err, ErrBoxNotFound)
}

func TestSoldOutBoxHiddenWhenRemoteTombstoneFails(t *testing.T) {
	m := newMemStorage()
	buyer, box := lastDrawFixture(m)
	remote := newMemCache()
	cache := NewGuardedCache(remote, time.Minute)

	boxes := NewBoxService(m, cache, &recordingPublisher{}, time.Minute)
	purchases := NewPurchaseService(m, cache, newMemDeduper(), &recordingPublisher{})

	_, err := boxes.GetBox(context.Background(), box.ID)
	require.NoError(t, err)
	require.True(t, remote.cached(box.ID))

	remote.markErr = errors.New("redis down")
	_, err = purchases.Purchase(context.Background(), box.ID, buyer.ID)
	require.NoError(t, err)

	// remote still holds the stale copy
	assert.True(t, remote.cached(box.ID))
	_, err = boxes.GetBox(context.Background(), box.ID)
	assert.ErrorIs(t, err, ErrBoxNotFound)
}

func TestDeletedBoxHiddenWhenRemoteTombstoneFails(t *testing.T) {
	m := newMemStorage()
	owner := m.addUser("owner", 0)
	box := m.addBox(owner.ID, 10, 1, map[string]int{"A": 1})
	remote := newMemCache()
	cache := NewGuardedCache(remote, time.Minute)
	boxes := NewBoxService(m, cache, &recordingPublisher{}, time.Minute)

	_, err := boxes.GetBox(context.Background(), box.ID)
	require.NoError(t, err)

	remote.markErr = errors.New("redis down")
	require.NoError(t, boxes.DeleteBox(context.Background(), box.ID, owner.ID, models.RoleUser))

	_, err = boxes.GetBox(context.Background(), box.ID)
	assert.ErrorIs(t, err, ErrBoxNotFound)
}

func TestGuardedCacheTombstoneExpires(t *testing.T) {
	remote := newMemCache()
	remote.markErr = errors.New("redis down")
	cache := NewGuardedCache(remote, -time.Second)

	assert.Error(t, cache.MarkBoxGone(context.Background(), 1))

	remote.markErr = nil
	require.NoError(t, cache.SetBox(context.Background(), &models.Box{ID: 1, Name: "back"}, time.Minute))
	got, err := cache.GetBox(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "back", got.Name)
}

func TestGuardedCacheRefusesSetAfterTombstone(t *testing.T) {
	remote := newMemCache()
	cache := NewGuardedCache(remote, time.Minute)

	require.NoError(t, cache.MarkBoxGone(context.Background(), 2))
	require.NoError(t, cache.SetBox(context.Background(), &models.Box{ID: 2}, time.Minute))

	assert.False(t, remote.cached(2))
	_, err := cache.GetBox(context.Background(), 2)
	assert.ErrorIs(t, err, redisclient.ErrBoxGone)
}

func TestGetBoxWithoutCacheTTLSkipsCache(t *testing.T) {
	m := newMemStorage()
	owner := m.addUser("owner", 0)
	box := m.addBox(owner.ID, 10, 1, map[string]int{"A": 1})
	cache := newMemCache()
	boxes := NewBoxService(m, cache, &recordingPublisher{}, 0)

	_, err := boxes.GetBox(context.Background(), box.ID)
	require.NoError(t, err)
	assert.False(t, cache.cached(box.ID))
}
