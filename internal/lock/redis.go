package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/better-wallet/ledger-custody/internal/logger"
)

const (
	defaultRetryDelay = 50 * time.Millisecond
	redisKeyPrefix    = "custody:lock:"

	// heldCalls is the number of sequential gateway calls a prepare makes
	// while holding the lock: account load and base fee.
	heldCalls = 2
	ttlMargin = 10 * time.Second
	// defaultCallTimeout matches the gateway client's default.
	defaultCallTimeout = 20 * time.Second
)

var defaultRedisTTL = TTLFor(defaultCallTimeout)

// TTLFor returns a lock TTL that outlives a prepare whose gateway calls each
// run up to callTimeout.
func TTLFor(callTimeout time.Duration) time.Duration {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return heldCalls*callTimeout + ttlMargin
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Redis is a Locker shared by every instance using the same Redis.
type Redis struct {
	client     redis.UniversalClient
	ttl        time.Duration
	retryDelay time.Duration
}

// NewRedis creates a Redis locker. The TTL bounds how long a crashed holder
// can block others; it must exceed the longest prepare, see TTLFor. Zero
// selects the TTL for the default gateway timeout.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &Redis{client: client, ttl: ttl, retryDelay: defaultRetryDelay}
}

// Lock polls SET NX until it wins or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	redisKey := redisKeyPrefix + key

	ticker := time.NewTicker(r.retryDelay)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil {
			logger.Warn(releaseCtx, "failed to release lock", "key", key, "error", err)
		}
	}, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
