package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hubwire/hubwire/pkg/config"
)

// RedisStore keeps negotiated connections in Redis so a connection can be
// negotiated on one node and claimed on another. Record expiry maps onto
// key TTLs, so no cleanup pass is needed.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisStore creates a Redis-backed connection store.
func NewRedisStore(cfg config.RedisConfig, logger *zap.Logger) *RedisStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "hubwire:conn:"
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		keyPrefix: prefix,
		logger:    logger.Named("redis_store"),
	}
}

// Ping verifies the Redis connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) key(id string) string {
	return r.keyPrefix + id
}

func (r *RedisStore) Put(ctx context.Context, rec *ConnectionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return ErrConnectionNotFound
	}

	ok, err := r.client.SetNX(ctx, r.key(rec.ID), data, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrConnectionExists
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*ConnectionRecord, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec ConnectionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.Expired(time.Now()) {
		return nil, ErrConnectionNotFound
	}
	return &rec, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id)).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
