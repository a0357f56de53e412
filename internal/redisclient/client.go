package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

// Client wraps go-redis with the keys the service coordinates on: sweeper
// locks, reminder claims and processed command ids
type Client struct {
	rdb           *redis.Client
	owner         string
	releaseScript *redis.Script
}

// NewClient creates a new Redis client and checks the connection
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

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing go-redis client. Locks taken through the
// returned Client are owned by it alone.
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		owner:         uuid.New().String(),
		releaseScript: redis.NewScript(releaseLockScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Ping checks that Redis answers
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

const keyPrefix = "rekber:"

func IdempotencyKey(key string) string { return keyPrefix + "idempotency:" + key }
func LockKey(key string) string        { return keyPrefix + "lock:" + key }
func OnceKey(key string) string        { return keyPrefix + "once:" + key }

// SetIdempotencyKey marks a command id as processed for ttl
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, IdempotencyKey(key), value, ttl).Err()
}

// CheckIdempotencyKey reports whether a command id was already processed
func (c *Client) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	result, err := c.rdb.Exists(ctx, IdempotencyKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return result > 0, nil
}

// AcquireLock takes lockKey for ttl on behalf of this client. It returns
// false while another owner holds it.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, LockKey(lockKey), c.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", lockKey, err)
	}
	return ok, nil
}

// ReleaseLock drops lockKey if this client still owns it. A lock that expired
// and was taken by someone else is left alone.
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	if err := c.releaseScript.Run(ctx, c.rdb, []string{LockKey(lockKey)}, c.owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lock %s: %w", lockKey, err)
	}
	return nil
}

// SetOnce claims key for ttl. It returns false when the key was already
// claimed, so callers act at most once per window.
func (c *Client) SetOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, OnceKey(key), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}
	return ok, nil
}

// ForgetOnce drops a claim taken with SetOnce
func (c *Client) ForgetOnce(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, OnceKey(key)).Err()
}
