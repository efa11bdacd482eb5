package blacklist

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// minTTL keeps already expired tokens around briefly so a revoke never
// turns into a no-op SET with a zero expiry
const minTTL = time.Second

// RedisStore keeps revoked tokens as keys that expire with the token
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a store on client using keys under prefix
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "blacklist:"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// NewRedisStoreFromURL parses a redis:// URL and pings the server
func NewRedisStoreFromURL(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return NewRedisStore(client, prefix), nil
}

func (s *RedisStore) key(token string) string {
	return s.prefix + hashToken(token)
}

// Revoke sets the key with a TTL equal to the token's remaining lifetime.
// A zero expiresAt keeps the key until purged.
func (s *RedisStore) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	var ttl time.Duration
	if !expiresAt.IsZero() {
		ttl = expiresAt.Sub(s.now())
		if ttl < minTTL {
			ttl = minTTL
		}
	}

	if err := s.client.Set(ctx, s.key(token), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: revoke: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// IsRevoked checks whether the key exists
func (s *RedisStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(token)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: lookup: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// PurgeAll scans the prefix and deletes every key found
func (s *RedisStore) PurgeAll(ctx context.Context) (int64, error) {
	var (
		cursor uint64
		total  int64
	)

	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 1000).Result()
		if err != nil {
			return total, fmt.Errorf("%w: purge: %v", ErrStoreUnavailable, err)
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				return total, fmt.Errorf("%w: purge: %v", ErrStoreUnavailable, err)
			}
			total += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return total, nil
}

// Close releases the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
