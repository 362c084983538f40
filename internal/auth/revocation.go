package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xiaofeng19920506/microservice/internal/logging"
	"go.uber.org/zap"
)

// RevocationStore answers whether a token id has been explicitly revoked.
// The store is externally owned state (the gateway holds no mutable session
// maps of its own), so revocation survives restarts and scales horizontally.
type RevocationStore interface {
	// IsRevoked reports whether the token id is on the revocation list.
	IsRevoked(ctx context.Context, tokenID string) (bool, error)

	// Revoke adds the token id to the revocation list until ttl elapses.
	// The ttl should match the token's remaining lifetime.
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
}

// NoopRevocationStore never reports a token as revoked. It is the default
// when no Redis connection is configured, preserving the stateless
// verify-only behavior.
type NoopRevocationStore struct{}

func (NoopRevocationStore) IsRevoked(context.Context, string) (bool, error) { return false, nil }
func (NoopRevocationStore) Revoke(context.Context, string, time.Duration) error {
	return nil
}

// RedisRevocationStore keeps revoked token ids in Redis with a TTL.
type RedisRevocationStore struct {
	client *redis.Client
	prefix string
}

// NewRedisRevocationStore creates a Redis-backed revocation store.
func NewRedisRevocationStore(client *redis.Client, prefix string) *RedisRevocationStore {
	if prefix == "" {
		prefix = "gw:revoked:"
	}
	return &RedisRevocationStore{client: client, prefix: prefix}
}

// IsRevoked checks Redis for the token id. Lookups are bounded so a slow
// Redis cannot stall request handling; on error the check fails open and the
// error is surfaced for the caller to log.
func (s *RedisRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	n, err := s.client.Exists(ctx, s.prefix+tokenID).Result()
	if err != nil {
		logging.Warn("revocation store unavailable, failing open", zap.Error(err))
		return false, err
	}
	return n > 0, nil
}

// Revoke marks the token id revoked for the given ttl.
func (s *RedisRevocationStore) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return s.client.Set(ctx, s.prefix+tokenID, "1", ttl).Err()
}
