//go:build integration

package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grigta/hotspot/pkg/testutil"
)

type snapshot struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

func TestRedisCache(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	endpoint, err := testutil.StartRedisContainer(ctx, testutil.DefaultContainerConfig())
	require.NoError(t, err)
	defer endpoint.Close(context.Background())

	port, err := strconv.Atoi(endpoint.Port)
	require.NoError(t, err)

	c, err := NewRedisCache(Options{Host: endpoint.Host, Port: port, Namespace: "test:"})
	require.NoError(t, err)
	defer c.Close()

	var got snapshot
	assert.ErrorIs(t, c.GetJSON(ctx, "s-1", &got), ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "s-1", snapshot{SessionID: "s-1", State: "polling"}, time.Minute))
	require.NoError(t, c.GetJSON(ctx, "s-1", &got))
	assert.Equal(t, "polling", got.State)

	require.NoError(t, c.Set(ctx, "raw", "not json", time.Minute))
	assert.ErrorIs(t, c.GetJSON(ctx, "raw", &got), ErrInvalidValue)

	assert.ErrorIs(t, c.Set(ctx, "", "x", time.Minute), ErrInvalidKey)

	require.NoError(t, c.Delete(ctx, "s-1", "raw"))
	assert.ErrorIs(t, c.GetJSON(ctx, "s-1", &got), ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "short", "x", 100*time.Millisecond))
	time.Sleep(300 * time.Millisecond)
	var s string
	assert.ErrorIs(t, c.GetJSON(ctx, "short", &s), ErrCacheMiss)
}
