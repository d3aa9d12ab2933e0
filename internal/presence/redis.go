package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onlineSetKey      = "online:users"
	DefaultMirrorTTL  = 30 * time.Second
	onlineKeyTemplate = "user:online:%s"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL of the per-user key. Heartbeats refresh it.
	TTL time.Duration
}

// RedisMirror keeps online:users and user:online:<id> in sync for other services.
type RedisMirror struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisMirror(ctx context.Context, cfg RedisConfig) (*RedisMirror, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return newRedisMirror(rdb, cfg.TTL), nil
}

func newRedisMirror(rdb *redis.Client, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = DefaultMirrorTTL
	}
	return &RedisMirror{rdb: rdb, ttl: ttl}
}

func onlineKey(userID string) string {
	return fmt.Sprintf(onlineKeyTemplate, userID)
}

func (m *RedisMirror) SetOnline(ctx context.Context, userID string) error {
	_, err := m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, onlineSetKey, userID)
		p.Set(ctx, onlineKey(userID), "1", m.ttl)
		return nil
	})
	return err
}

func (m *RedisMirror) SetOffline(ctx context.Context, userID string) error {
	_, err := m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, onlineSetKey, userID)
		p.Del(ctx, onlineKey(userID))
		return nil
	})
	return err
}

func (m *RedisMirror) Refresh(ctx context.Context, userID string) error {
	return m.rdb.Expire(ctx, onlineKey(userID), m.ttl).Err()
}

// isOnline reads the mirrored state.
func (m *RedisMirror) isOnline(ctx context.Context, userID string) (bool, error) {
	n, err := m.rdb.Exists(ctx, onlineKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (m *RedisMirror) Close() error {
	return m.rdb.Close()
}
