package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tair/roomsync/internal/inventory/domain"
	"github.com/tair/roomsync/pkg/logger"
)

// Compare-and-delete: only the holder of the current token may remove the key.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// Compare-and-pexpire: only the holder may push the expiry out.
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`)

// RedisManager implements Manager on a Redis key/value store.
type RedisManager struct {
	client *redis.Client
}

// NewRedisManager creates a new Redis-backed lock manager
func NewRedisManager(client *redis.Client) *RedisManager {
	return &RedisManager{client: client}
}

// Acquire sets the key if absent and returns the fencing token.
func (m *RedisManager) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := newToken()

	ok, err := m.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("lock acquire %s: %w", key, err)
	}
	if !ok {
		return "", fmt.Errorf("lock acquire %s: %w", key, domain.ErrLockBusy)
	}

	logger.Debug(ctx).
		Str("lock_key", key).
		Dur("ttl", ttl).
		Msg("Lock acquired")

	return token, nil
}

// Release deletes the key only when the token still matches.
func (m *RedisManager) Release(ctx context.Context, key, token string) error {
	deleted, err := releaseScript.Run(ctx, m.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("lock release %s: %w", key, err)
	}
	if deleted == 0 {
		// Expired and possibly taken over; releasing is a no-op.
		logger.Debug(ctx).
			Str("lock_key", key).
			Msg("Lock release ignored, token mismatch or expired")
	}
	return nil
}

// Extend pushes the expiry out by additional while the token still matches.
func (m *RedisManager) Extend(ctx context.Context, key, token string, additional time.Duration) error {
	extended, err := extendScript.Run(ctx, m.client, []string{key}, token, additional.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("lock extend %s: %w", key, err)
	}
	if extended == 0 {
		return fmt.Errorf("lock extend %s: %w", key, domain.ErrLockLost)
	}
	return nil
}

// newToken builds an opaque fencing token: epoch millis plus random hex.
func newToken() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), hex.EncodeToString(buf))
}
