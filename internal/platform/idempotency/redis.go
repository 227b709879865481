package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "pawmart:idem:"
	claimAttempts      = 3
)

// completeScript stores the response unless the key is held by another request.
var completeScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current and cjson.decode(current).fingerprint ~= ARGV[1] then
  return redis.error_reply('key_reused')
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// abandonScript deletes the key only while it still carries the caller's fingerprint.
var abandonScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current and cjson.decode(current).fingerprint == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore shares claims between API instances. Expiry is left to key TTLs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// RedisOption customises RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the namespace prepended to every key.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	s := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Claim implements Store.
func (s *RedisStore) Claim(ctx context.Context, key, fingerprint string, hold time.Duration) (Claim, error) {
	if hold <= 0 {
		hold = DefaultHold
	}
	pending, err := json.Marshal(entry{Fingerprint: fingerprint})
	if err != nil {
		return Claim{}, fmt.Errorf("idempotency: encode claim: %w", err)
	}
	for attempt := 0; attempt < claimAttempts; attempt++ {
		created, err := s.client.SetNX(ctx, s.prefix+key, pending, hold).Result()
		if err != nil {
			return Claim{}, fmt.Errorf("idempotency: claim: %w", err)
		}
		if created {
			return Claim{State: ClaimAcquired}, nil
		}
		raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Claim{}, fmt.Errorf("idempotency: load: %w", err)
		}
		var existing entry
		if err := json.Unmarshal(raw, &existing); err != nil {
			return Claim{}, fmt.Errorf("idempotency: decode: %w", err)
		}
		return existing.claim(fingerprint)
	}
	return Claim{}, errors.New("idempotency: claim expired while being read")
}

// Complete implements Store.
func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, snap Snapshot, keep time.Duration) error {
	if keep <= 0 {
		keep = DefaultTTL
	}
	payload, err := json.Marshal(entry{Fingerprint: fingerprint, Done: true, Snapshot: snap})
	if err != nil {
		return fmt.Errorf("idempotency: encode response: %w", err)
	}
	err = completeScript.Run(ctx, s.client, []string{s.prefix + key}, fingerprint, payload, keep.Milliseconds()).Err()
	switch {
	case err == nil:
		return nil
	case strings.Contains(err.Error(), "key_reused"):
		return ErrKeyReused
	default:
		return fmt.Errorf("idempotency: complete: %w", err)
	}
}

// Abandon implements Store.
func (s *RedisStore) Abandon(ctx context.Context, key, fingerprint string) error {
	if err := abandonScript.Run(ctx, s.client, []string{s.prefix + key}, fingerprint).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("idempotency: abandon: %w", err)
	}
	return nil
}
