package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"blindbox-service/internal/models"

	"github.com/go-redis/redis/v8"
)

var (
	// ErrCacheMiss is returned when a key is absent.
	ErrCacheMiss = errors.New("cache miss")
	// ErrBoxGone is returned while a deleted box's tombstone is live.
	ErrBoxGone = errors.New("box is gone")
)

// BoxTombstoneTTL bounds how long a deleted box refuses to be re-cached. It
// must outlast any in-flight read-through of that box.
const BoxTombstoneTTL = 10 * time.Minute

// setBoxScript writes the box unless its tombstone exists.
var setBoxScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

type Client struct {
	rdb *redis.Client
}

// NewClient connects to Redis and verifies the connection
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func boxKey(boxID int64) string { return fmt.Sprintf("box:%d", boxID) }

func boxGoneKey(boxID int64) string { return fmt.Sprintf("box:%d:gone", boxID) }

func revokedKey(jti string) string { return fmt.Sprintf("revoked:%s", jti) }

func purchaseKey(buyerID int64, key string) string {
	return fmt.Sprintf("idempotency:purchase:%d:%s", buyerID, key)
}

// GetBox returns the cached box with its items, or ErrBoxGone if the box
// was deleted recently.
func (c *Client) GetBox(ctx context.Context, boxID int64) (*models.Box, error) {
	vals, err := c.rdb.MGet(ctx, boxKey(boxID), boxGoneKey(boxID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get cached box %d: %w", boxID, err)
	}
	if vals[1] != nil {
		return nil, ErrBoxGone
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, ErrCacheMiss
	}

	var box models.Box
	if err := json.Unmarshal([]byte(raw), &box); err != nil {
		return nil, fmt.Errorf("decode cached box %d: %w", boxID, err)
	}
	return &box, nil
}

// SetBox caches a box for ttl. It does nothing when ttl is not positive or
// the box has a tombstone.
func (c *Client) SetBox(ctx context.Context, box *models.Box, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(box)
	if err != nil {
		return fmt.Errorf("encode box %d: %w", box.ID, err)
	}
	err = setBoxScript.Run(ctx, c.rdb,
		[]string{boxKey(box.ID), boxGoneKey(box.ID)},
		raw, ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("set cached box %d: %w", box.ID, err)
	}
	return nil
}

// DeleteBox evicts a box; evicting a missing key is not an error.
func (c *Client) DeleteBox(ctx context.Context, boxID int64) error {
	return c.rdb.Del(ctx, boxKey(boxID)).Err()
}

// MarkBoxGone evicts a deleted box and leaves a tombstone so a concurrent
// read-through cannot put it back.
func (c *Client) MarkBoxGone(ctx context.Context, boxID int64) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, boxGoneKey(boxID), "1", BoxTombstoneTTL)
		pipe.Del(ctx, boxKey(boxID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark box %d gone: %w", boxID, err)
	}
	return nil
}

// RevokeToken denylists a token id until it would have expired anyway.
func (c *Client) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.rdb.Set(ctx, revokedKey(jti), "1", ttl).Err()
}

func (c *Client) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := c.rdb.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetPurchaseResult returns a result stored under a client idempotency key.
func (c *Client) GetPurchaseResult(ctx context.Context, buyerID int64, key string, dest interface{}) error {
	raw, err := c.rdb.Get(ctx, purchaseKey(buyerID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func (c *Client) SetPurchaseResult(ctx context.Context, buyerID int64, key string, result interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, purchaseKey(buyerID, key), raw, ttl).Err()
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
