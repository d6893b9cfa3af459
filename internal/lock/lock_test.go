package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseMutualExclusion(t *testing.T, l Locker) {
	t.Helper()

	var (
		wg         sync.WaitGroup
		inside     atomic.Int32
		violations atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), Key("w1", "TESTNET"))
			if !assert.NoError(t, err) {
				return
			}
			if inside.Add(1) > 1 {
				violations.Add(1)
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Zero(t, violations.Load())
}

func TestLocal(t *testing.T) {
	t.Run("mutual exclusion", func(t *testing.T) {
		exerciseMutualExclusion(t, NewLocal())
	})

	t.Run("different keys do not block", func(t *testing.T) {
		l := NewLocal()
		unlockA, err := l.Lock(context.Background(), "a")
		require.NoError(t, err)
		defer unlockA()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		unlockB, err := l.Lock(ctx, "b")
		require.NoError(t, err)
		unlockB()
	})

	t.Run("context cancellation", func(t *testing.T) {
		l := NewLocal()
		unlock, err := l.Lock(context.Background(), "a")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = l.Lock(ctx, "a")
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		unlock()
		unlock()

		again, err := l.Lock(context.Background(), "a")
		require.NoError(t, err)
		again()

		l.mu.Lock()
		assert.Empty(t, l.locks)
		l.mu.Unlock()
	})
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	exerciseMutualExclusion(t, NewRedis(client, 5*time.Second))
}

func TestTTLFor(t *testing.T) {
	tests := []struct {
		name        string
		callTimeout time.Duration
		want        time.Duration
	}{
		{name: "default gateway timeout", callTimeout: 20 * time.Second, want: 50 * time.Second},
		{name: "short timeout", callTimeout: 2 * time.Second, want: 14 * time.Second},
		{name: "unset", callTimeout: 0, want: 50 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TTLFor(tt.callTimeout)
			assert.Equal(t, tt.want, got)
			if tt.callTimeout > 0 {
				assert.Greater(t, got, 2*tt.callTimeout)
			}
		})
	}

	t.Run("zero ttl outlives two default calls", func(t *testing.T) {
		r := NewRedis(nil, 0)
		assert.Greater(t, r.ttl, 2*defaultCallTimeout)
	})
}
