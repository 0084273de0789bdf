package realtime

import (
	"context"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercisePresence(t *testing.T, p Presence) {
	ctx := context.Background()

	first, err := p.StaffConnected(ctx, 1)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = p.StaffConnected(ctx, 1)
	require.NoError(t, err)
	assert.False(t, first, "second tab is not a new arrival")

	_, err = p.StaffConnected(ctx, 2)
	require.NoError(t, err)

	online, err := p.OnlineStaff(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, online)

	last, err := p.StaffDisconnected(ctx, 1)
	require.NoError(t, err)
	assert.False(t, last)

	last, err = p.StaffDisconnected(ctx, 1)
	require.NoError(t, err)
	assert.True(t, last)

	online, err = p.OnlineStaff(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, online)
}

func TestMemoryPresence(t *testing.T) {
	p := NewMemoryPresence()
	exercisePresence(t, p)

	last, err := p.StaffDisconnected(context.Background(), 99)
	require.NoError(t, err)
	assert.False(t, last, "unknown staff never reports offline")
}

// newRedis returns a client for TEST_REDIS_ADDR, or for an in-process
// miniredis when the variable is unset.
func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = miniredis.RunT(t).Addr()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisPresence(t *testing.T) {
	client := newRedis(t)

	key := "test:presence:" + t.Name()
	require.NoError(t, client.Del(context.Background(), key).Err())
	t.Cleanup(func() { client.Del(context.Background(), key) })

	exercisePresence(t, NewRedisPresence(client, key))

	fields, err := client.HGetAll(context.Background(), key).Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"2": "1"}, fields, "offline staff leave no counter behind")

	last, err := NewRedisPresence(client, key).StaffDisconnected(context.Background(), 99)
	require.NoError(t, err)
	assert.False(t, last, "unknown staff never reports offline")
}

func TestRedisPresence_SharedAcrossInstances(t *testing.T) {
	client := newRedis(t)
	key := "test:presence:" + t.Name()
	t.Cleanup(func() { client.Del(context.Background(), key) })
	ctx := context.Background()

	east := NewRedisPresence(client, key)
	west := NewRedisPresence(client, key)

	first, err := east.StaffConnected(ctx, 5)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = west.StaffConnected(ctx, 5)
	require.NoError(t, err)
	assert.False(t, first, "a tab on another instance is not a new arrival")

	last, err := east.StaffDisconnected(ctx, 5)
	require.NoError(t, err)
	assert.False(t, last)

	online, err := west.OnlineStaff(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, online)
}
