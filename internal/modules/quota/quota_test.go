package quota

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisBacked(t *testing.T, limit int) (*Service, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewService(NewRedisStore(client, "test"), limit, zerolog.Nop()), mr
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestService_Key(t *testing.T) {
	svc := NewService(NewMemoryStore(), 5, zerolog.Nop())
	svc.SetClock(fixedClock(time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC)))

	assert.Equal(t, "quota:client-1:2026-03-02", svc.Key("client-1"))
}

func TestService_EmptyClientAlwaysAllowed(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), 0, zerolog.Nop())

	allowed, err := svc.Allow(ctx, "")
	require.NoError(t, err)
	assert.True(t, allowed)

	ok, _, err := svc.TryConsume(ctx, "")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := svc.Increment(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_DeniesAfterDailyLimit(t *testing.T) {
	backends := map[string]func(t *testing.T) *Service{
		"memory": func(t *testing.T) *Service { return NewService(NewMemoryStore(), 3, zerolog.Nop()) },
		"redis": func(t *testing.T) *Service {
			svc, _ := newRedisBacked(t, 3)
			return svc
		},
	}

	for name, build := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc := build(t)

			for i := 1; i <= 3; i++ {
				ok, usage, err := svc.TryConsume(ctx, "client-1")
				require.NoError(t, err)
				assert.True(t, ok, "call %d should be allowed", i)
				assert.Equal(t, int64(i), usage.RequestsUsedToday)
				assert.Equal(t, int64(3-i), usage.RequestsRemaining)
			}

			ok, usage, err := svc.TryConsume(ctx, "client-1")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, int64(3), usage.RequestsUsedToday)
			assert.Equal(t, int64(0), usage.RequestsRemaining)

			allowed, err := svc.Allow(ctx, "client-1")
			require.NoError(t, err)
			assert.False(t, allowed)

			// Rolled back: the counter stays at the cap
			usage, err = svc.Usage(ctx, "client-1")
			require.NoError(t, err)
			assert.Equal(t, Usage{ClientID: "client-1", RequestsUsedToday: 3, DailyLimit: 3, RequestsRemaining: 0}, usage)

			// Other clients are unaffected
			allowed, err = svc.Allow(ctx, "client-2")
			require.NoError(t, err)
			assert.True(t, allowed)
		})
	}
}

func TestService_AllowThenIncrement(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), 2, zerolog.Nop())

	for i := 0; i < 2; i++ {
		allowed, err := svc.Allow(ctx, "c")
		require.NoError(t, err)
		require.True(t, allowed)
		_, err = svc.Increment(ctx, "c")
		require.NoError(t, err)
	}

	allowed, err := svc.Allow(ctx, "c")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestService_ConcurrentConsumeNeverExceedsLimit(t *testing.T) {
	ctx := context.Background()
	svc, _ := newRedisBacked(t, 5)

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := svc.TryConsume(ctx, "burst")
			if err == nil && ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), granted.Load())

	usage, err := svc.Usage(ctx, "burst")
	require.NoError(t, err)
	assert.Equal(t, int64(5), usage.RequestsUsedToday)
}

func TestService_NewDayResetsCounter(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), 1, zerolog.Nop())

	day1 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	svc.SetClock(fixedClock(day1))

	ok, _, err := svc.TryConsume(ctx, "c")
	require.NoError(t, err)
	require.True(t, ok)
	ok, _, err = svc.TryConsume(ctx, "c")
	require.NoError(t, err)
	require.False(t, ok)

	svc.SetClock(fixedClock(day1.Add(24 * time.Hour)))
	ok, _, err = svc.TryConsume(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStore_SetsTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, "test")
	n, err := store.Incr(ctx, "quota:c:2026-03-02", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 24*time.Hour, mr.TTL("test:quota:c:2026-03-02"))

	mr.FastForward(25 * time.Hour)
	count, err := store.Count(ctx, "quota:c:2026-03-02")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemoryStore_ExpiresCounters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_, err := store.Incr(ctx, "k", time.Hour)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	count, err := store.Count(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, count)

	n, err := store.Incr(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestService_StoreFailure(t *testing.T) {
	svc, mr := newRedisBacked(t, 5)
	mr.Close()

	_, _, err := svc.TryConsume(context.Background(), "c")
	assert.Error(t, err)
}
