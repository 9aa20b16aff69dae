//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seatreserve/internal/shared/testutil"
	"seatreserve/pkg/cache"
)

type cachedEvent struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func TestRedisCache(t *testing.T) {
	client := testutil.StartRedis(t)
	svc := cache.NewService(client)
	ctx := context.Background()

	require.NoError(t, svc.Ping(ctx))

	var got cachedEvent
	assert.ErrorIs(t, svc.Get(ctx, cache.EventDetailKey("e1"), &got), cache.ErrCacheMiss)

	require.NoError(t, svc.Set(ctx, cache.EventDetailKey("e1"), cachedEvent{ID: "e1", Title: "Opening Night"}, time.Minute))
	require.NoError(t, svc.Get(ctx, cache.EventDetailKey("e1"), &got))
	assert.Equal(t, "Opening Night", got.Title)

	for page := 1; page <= 250; page++ {
		require.NoError(t, svc.Set(ctx, cache.EventListKey(page, 20, "", "", "", "", ""), []cachedEvent{}, time.Minute))
	}
	require.NoError(t, svc.DeletePattern(ctx, cache.EventListPattern()))

	keys, err := client.Keys(ctx, cache.EventListPattern()).Result()
	require.NoError(t, err)
	assert.Empty(t, keys)

	// detail entries are not list entries
	require.NoError(t, svc.Get(ctx, cache.EventDetailKey("e1"), &got))

	require.NoError(t, svc.Delete(ctx, cache.EventDetailKey("e1")))
	assert.ErrorIs(t, svc.Get(ctx, cache.EventDetailKey("e1"), &got), cache.ErrCacheMiss)
}
