package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, ttl)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestRedisStore_Claim(t *testing.T) {
	store, mr := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	first, err := store.Claim(ctx, "delivery:abc")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := store.Claim(ctx, "delivery:abc")
	require.NoError(t, err)
	assert.False(t, again)

	assert.True(t, mr.Exists(DefaultKeyPrefix+"delivery:abc"))
	assert.Equal(t, time.Hour, mr.TTL(DefaultKeyPrefix+"delivery:abc"))
}

func TestRedisStore_ConcurrentClaim(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Hour)

	const n = 50
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Claim(context.Background(), "same")
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	store, mr := newTestRedisStore(t, time.Minute)
	ctx := context.Background()

	first, err := store.Claim(ctx, "k")
	require.NoError(t, err)
	require.True(t, first)

	mr.FastForward(2 * time.Minute)

	seen, err := store.Seen(ctx, "k")
	require.NoError(t, err)
	assert.False(t, seen)

	reclaimed, err := store.Claim(ctx, "k")
	require.NoError(t, err)
	assert.True(t, reclaimed)
}

func TestRedisStore_SeenRecord(t *testing.T) {
	store, _ := newTestRedisStore(t, 0)
	ctx := context.Background()

	seen, err := store.Seen(ctx, "k")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.Record(ctx, "k"))

	seen, err = store.Seen(ctx, "k")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestRedisStore_WithPrefix(t *testing.T) {
	store, mr := newTestRedisStore(t, 0)
	scoped := store.WithPrefix("tenant:")

	ok, err := scoped.Claim(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("tenant:k"))
	assert.False(t, mr.Exists(DefaultKeyPrefix+"k"))

	ok, err = store.Claim(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok, "prefixes are independent")
}

func TestRedisStore_Unavailable(t *testing.T) {
	store, mr := newTestRedisStore(t, 0)
	mr.Close()

	_, err := store.Claim(context.Background(), "k")
	assert.Error(t, err)
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := DialRedis(context.Background(), "redis://"+mr.Addr()+"/0", time.Minute)
	require.NoError(t, err)
	defer store.Close()

	ok, err := store.Claim(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = DialRedis(context.Background(), "not a url", time.Minute)
	assert.Error(t, err)
}

func TestRedisStore_WithTTLZeroNeverExpires(t *testing.T) {
	store, mr := newTestRedisStore(t, time.Minute)
	marks := store.WithPrefix(DefaultKeyPrefix + MarkSuffix).WithTTL(0)
	ctx := context.Background()

	first, err := marks.Claim(ctx, "opened:1:abc")
	require.NoError(t, err)
	assert.True(t, first)

	mr.FastForward(24 * time.Hour)

	again, err := marks.Claim(ctx, "opened:1:abc")
	require.NoError(t, err)
	assert.False(t, again)
	assert.Equal(t, time.Duration(0), mr.TTL(DefaultKeyPrefix+MarkSuffix+"opened:1:abc"))
}
