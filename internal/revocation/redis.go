package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "revoked:"

// RedisList stores one key per revoked token with a TTL equal to the
// token's remaining lifetime, so every instance sees the same set.
type RedisList struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisList(rdb *redis.Client) *RedisList {
	return &RedisList{rdb: rdb, now: time.Now}
}

func (l *RedisList) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(l.now())
	if ttl <= 0 {
		return nil
	}

	// EX has second precision; round up so the key never expires before the token does.
	ttl = ttl.Truncate(time.Second) + time.Second

	if err := l.rdb.Set(ctx, keyPrefix+fingerprint(token), 1, ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (l *RedisList) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := l.rdb.Exists(ctx, keyPrefix+fingerprint(token)).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}
