package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/couchcryptid/hazard-alert-service/internal/cache"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKV(t *testing.T) (*KV, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewKV(client, "hazard:"), mr
}

func TestKV_SetGet(t *testing.T) {
	ctx := context.Background()
	kv, mr := newTestKV(t)

	require.NoError(t, kv.Set(ctx, "risk:a", `{"confidence":0.4}`, time.Minute))

	got, err := kv.Get(ctx, "risk:a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"confidence":0.4}`, got)
	assert.True(t, mr.Exists("hazard:risk:a"))
}

func TestKV_Miss(t *testing.T) {
	kv, _ := newTestKV(t)
	_, err := kv.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestKV_Expiry(t *testing.T) {
	ctx := context.Background()
	kv, mr := newTestKV(t)

	require.NoError(t, kv.Set(ctx, "k", "v", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := kv.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestKV_ServerDown(t *testing.T) {
	kv, mr := newTestKV(t)
	mr.Close()

	_, err := kv.Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, cache.ErrCacheMiss)
	assert.Error(t, kv.CheckReadiness(context.Background()))
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), mr.Addr())
	require.NoError(t, err)
	assert.NoError(t, client.Close())

	_, err = NewClient(context.Background(), "127.0.0.1:1")
	assert.Error(t, err)
}
