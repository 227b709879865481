package locks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL applies when callers pass a non-positive lease duration.
const DefaultTTL = 30 * time.Second

const defaultPrefix = "pawmart:lease:"

// ErrKeyRequired is returned when Acquire is called without a key.
var ErrKeyRequired = errors.New("locks: key is required")

// unlockScript deletes the lease only while it still carries the holder's token.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisGuard shares leases between API instances.
type RedisGuard struct {
	client redis.UniversalClient
	prefix string
	logf   func(format string, args ...any)
}

// RedisGuardOption customises RedisGuard.
type RedisGuardOption func(*RedisGuard)

// WithPrefix overrides the key namespace.
func WithPrefix(prefix string) RedisGuardOption {
	return func(g *RedisGuard) {
		if strings.TrimSpace(prefix) != "" {
			g.prefix = prefix
		}
	}
}

// WithReleaseLogger receives failures from the release callback, which has no error return.
func WithReleaseLogger(logf func(format string, args ...any)) RedisGuardOption {
	return func(g *RedisGuard) {
		g.logf = logf
	}
}

// NewRedisGuard wraps an existing client.
func NewRedisGuard(client redis.UniversalClient, opts ...RedisGuardOption) (*RedisGuard, error) {
	if client == nil {
		return nil, errors.New("locks: redis client is required")
	}
	guard := &RedisGuard{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(guard)
		}
	}
	return guard, nil
}

// Acquire sets the lease with SET NX PX. The returned release is a no-op once the lease expired
// and was taken by someone else.
func (g *RedisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, ErrKeyRequired
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}

	redisKey := g.prefix + key
	ok, err := g.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("locks: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) {
		if err := unlockScript.Run(ctx, g.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) && g.logf != nil {
			g.logf("locks: release %s: %v", key, err)
		}
	}
	return release, true, nil
}

// Held reports whether a lease exists for key.
func (g *RedisGuard) Held(ctx context.Context, key string) (bool, error) {
	n, err := g.client.Exists(ctx, g.prefix+strings.TrimSpace(key)).Result()
	if err != nil {
		return false, fmt.Errorf("locks: held %s: %w", key, err)
	}
	return n > 0, nil
}

func newToken() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("locks: token: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
