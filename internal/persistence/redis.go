package persistence

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/guest-messaging/internal/config"
)

var errRedisDisabled = errors.New("redis disabled: REDIS_ADDR is empty")

// Redis carries the shared client used by the realtime relay, staff presence
// and send rate limits. Client is nil when REDIS_ADDR is empty.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds the client. An unreachable server is only logged, since
// go-redis reconnects on demand and readiness reports the outage.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *Redis {
	if cfg.Addr == "" {
		logger.Info("shared state: REDIS_ADDR empty, presence and rate limits are per instance")
		return &Redis{}
	}

	r := &Redis{Client: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}

	if err := r.Ping(ctx); err != nil {
		logger.Warn("shared state: redis not answering yet", zap.String("addr", cfg.Addr), zap.Error(err))
	} else {
		logger.Info("shared state: redis ready", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	}
	return r
}

// Enabled is false for a nil receiver too.
func (r *Redis) Enabled() bool {
	return r != nil && r.Client != nil
}

func (r *Redis) Close() {
	if !r.Enabled() {
		return
	}
	_ = r.Client.Close()
}

// Ping backs the readiness check.
func (r *Redis) Ping(ctx context.Context) error {
	if !r.Enabled() {
		return errRedisDisabled
	}
	return r.Client.Ping(ctx).Err()
}
