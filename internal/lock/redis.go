package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"go_forum/internal/config"
	"go_forum/internal/logger"
)

const keyPrefix = "go_forum:lock:"

// 仅在持有者一致时删除
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// Redis 基于 SET NX 的分布式锁，多实例部署时使用
type Redis struct {
	client *redis.Client
}

// NewRedis 创建分布式锁并检查连通性
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Redis{client: client}, nil
}

// TryLock 加锁，ttl 到期后锁自动失效
func (r *Redis) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	key := keyPrefix + name
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.client.Eval(releaseCtx, releaseScript, []string{key}, token).Err(); err != nil {
			logger.L().Warnf("Failed to release lock %s: %v", name, err)
		}
	}, nil
}

// Close 关闭连接
func (r *Redis) Close() error {
	return r.client.Close()
}
