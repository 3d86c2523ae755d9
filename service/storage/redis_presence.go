package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the presence mirror connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// presence key: im:presence:<user>
// Value: gateway id; the TTL bounds the online validity window, renewed on
// heartbeat.
func presenceKey(user string) string { return "im:presence:" + user }

// RedisPresence mirrors online/offline transitions into Redis so peers can
// resolve which gateway holds a user. Implements chat.PresenceMirror.
type RedisPresence struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisPresence(ctx context.Context, cfg RedisConfig, ttl time.Duration) (*RedisPresence, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "redis ping")
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisPresence{rdb: rdb, ttl: ttl}, nil
}

// Online marks the user online on this gateway and renews the TTL.
func (p *RedisPresence) Online(ctx context.Context, userID, gatewayID string) error {
	return errors.Wrap(p.rdb.Set(ctx, presenceKey(userID), gatewayID, p.ttl).Err(), "presence online")
}

// Offline deletes the presence key.
func (p *RedisPresence) Offline(ctx context.Context, userID string) error {
	return errors.Wrap(p.rdb.Del(ctx, presenceKey(userID)).Err(), "presence offline")
}

// Lookup reports whether the user is online anywhere and on which gateway.
func (p *RedisPresence) Lookup(ctx context.Context, userID string) (gatewayID string, online bool, err error) {
	val, err := p.rdb.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "presence lookup")
	}
	return val, true, nil
}

// Close releases the underlying client.
func (p *RedisPresence) Close() error {
	return p.rdb.Close()
}
