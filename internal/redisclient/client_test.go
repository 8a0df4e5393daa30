package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires redis (set REDIS_TEST_ADDR)")
	}
	c, err := NewClient(addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLock_ReleaseRequiresOwnerToken(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := "checkout:test:" + uuid.New().String()

	token, ok, err := c.AcquireLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.AcquireLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, key, "someone-else"))
	_, ok, err = c.AcquireLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, key, token))
	_, ok, err = c.AcquireLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIdempotency_RoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := "test:" + uuid.New().String()

	_, found, err := c.GetIdempotent(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.SetIdempotent(ctx, key, `{"sale_id":"s1"}`, time.Minute))

	val, found, err := c.GetIdempotent(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"sale_id":"s1"}`, val)
}
