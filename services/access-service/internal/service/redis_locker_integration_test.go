//go:build integration

package service

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grigta/hotspot/pkg/testutil"
)

func TestRedisLocker(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	endpoint, err := testutil.StartRedisContainer(ctx, testutil.DefaultContainerConfig())
	require.NoError(t, err)
	defer endpoint.Close(context.Background())

	client := redis.NewClient(&redis.Options{Addr: endpoint.URI})
	defer client.Close()
	locker := NewRedisLocker(client)

	token, ok, err := locker.Acquire(ctx, "s-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.Acquire(ctx, "s-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder is refused")

	require.NoError(t, locker.Release(ctx, "s-1", "not-the-owner"))
	_, ok, _ = locker.Acquire(ctx, "s-1", time.Minute)
	assert.False(t, ok, "a foreign token does not release the lock")

	require.NoError(t, locker.Release(ctx, "s-1", token))
	_, ok, err = locker.Acquire(ctx, "s-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = locker.Acquire(ctx, "s-2", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(200 * time.Millisecond)
	_, ok, err = locker.Acquire(ctx, "s-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lease expires after ttl")
}
