package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyNamespaces(t *testing.T) {
	assert.Equal(t, "rekber:lock:sweeper", LockKey("sweeper"))
	assert.Equal(t, "rekber:idempotency:cmd-1", IdempotencyKey("cmd-1"))
	assert.Equal(t, "rekber:once:reminder:RB-1", OnceKey("reminder:RB-1"))
}

func TestClientsOwnTheirLocks(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer rdb.Close()

	a, b := NewFromRedis(rdb), NewFromRedis(rdb)
	assert.NotEqual(t, a.owner, b.owner)
	assert.Contains(t, releaseLockScript, "GET")
}

// Requires a running Redis, e.g. TEST_REDIS_ADDR=localhost:6379
func TestClientAgainstRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping integration test - TEST_REDIS_ADDR not set")
	}

	c := NewFromRedis(redis.NewClient(&redis.Options{Addr: addr}))
	defer c.Close()
	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	key := "test-" + time.Now().Format("150405.000000")
	defer c.ReleaseLock(ctx, key)
	defer c.ForgetOnce(ctx, key)
	defer c.GetClient().Del(ctx, IdempotencyKey(key))

	ok, err := c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	other := NewFromRedis(c.GetClient())
	require.NoError(t, other.ReleaseLock(ctx, key))
	ok, err = other.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a lock is only released by its owner")
	require.NoError(t, c.ReleaseLock(ctx, key))

	ok, err = c.SetOnce(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.SetOnce(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	seen, err := c.CheckIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.False(t, seen)
	require.NoError(t, c.SetIdempotencyKey(ctx, key, "done", time.Minute))
	seen, err = c.CheckIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.True(t, seen)
}
