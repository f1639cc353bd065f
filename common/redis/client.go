package redis

import (
	"context"

	"github.com/fungus-wine/calvin-instinctus/common/config"

	"github.com/go-redis/redis/v8"
)

// Client Redis 客户端类型别名
type Client = redis.Client

// DefaultPoolSize 只有中继 goroutine 使用连接
const DefaultPoolSize = 2

// Options 由配置生成客户端参数
//
// 读写超时与中继的输出端超时一致，超时后直接失败，不在同一个周期内重试。
func Options(cfg *config.RedisConfig) *redis.Options {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: -1,
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if cfg.Timeout > 0 {
		opts.DialTimeout = cfg.Timeout
		opts.ReadTimeout = cfg.Timeout
		opts.WriteTimeout = cfg.Timeout
		opts.PoolTimeout = cfg.Timeout
	}
	return opts
}

// NewRedisClient 创建 Redis 客户端
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(Options(cfg))
}

// Ping 测试 Redis 连接
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func Close(client *redis.Client) error {
	return client.Close()
}
