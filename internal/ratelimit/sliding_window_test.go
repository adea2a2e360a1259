package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*SlidingWindow, *time.Time) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewSlidingWindow(rdb, limit, window)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestSlidingWindowAllowsWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "org-1")
		require.NoError(t, err)
		assert.True(t, ok, "event %d should be within limit", i+1)
	}

	ok, err := l.Allow(ctx, "org-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSlidingWindowKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	ok, err := l.Allow(ctx, "org-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "org-2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "org-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSlidingWindowSlides(t *testing.T) {
	l, now := newTestLimiter(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.Allow(ctx, "org-1")
	}

	// Half a window later the old events still count.
	*now = now.Add(30 * time.Second)
	ok, err := l.Allow(ctx, "org-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// A full window past the burst everything has expired.
	*now = now.Add(2 * time.Minute)
	ok, err = l.Allow(ctx, "org-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSlidingWindowRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewSlidingWindow(rdb, 1, time.Minute)
	mr.Close()

	_, err := l.Allow(context.Background(), "org-1")
	assert.Error(t, err)
}
