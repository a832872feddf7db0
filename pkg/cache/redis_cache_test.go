package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(mr.Close)

	rc := NewRedisCache(mr.Addr(), "", 0, 30*time.Second)
	t.Cleanup(func() { _ = rc.Close() })
	require.NoError(t, rc.Ping(ctx))

	_, ok, err := rc.Get(ctx, "tavily:search:abc")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, rc.Set(ctx, "tavily:search:abc", []byte(`{"answer":"42"}`), 0))
	got, ok, err := rc.Get(ctx, "tavily:search:abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"answer":"42"}`, string(got))
	require.Equal(t, 30*time.Second, mr.TTL("tavily:search:abc"))
}

func TestRedisCacheExpires(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(mr.Close)

	rc := NewRedisCache(mr.Addr(), "", 0, time.Minute)
	t.Cleanup(func() { _ = rc.Close() })

	require.NoError(t, rc.Set(ctx, "k", []byte("v"), 5*time.Second))
	mr.FastForward(6 * time.Second)

	_, ok, err := rc.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCacheGetWithTTL(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(mr.Close)

	rc := NewRedisCache(mr.Addr(), "", 0, time.Minute)
	t.Cleanup(func() { _ = rc.Close() })

	_, _, ok, err := rc.GetWithTTL(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, rc.Set(ctx, "k", []byte("v"), 10*time.Second))
	mr.FastForward(4 * time.Second)
	got, remaining, ok, err := rc.GetWithTTL(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), got)
	require.Equal(t, 6*time.Second, remaining)

	require.NoError(t, mr.Set("persistent", "p"))
	_, remaining, ok, err = rc.GetWithTTL(ctx, "persistent")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Minute, remaining)
}
