// Package redis 提供 Redis 访问：模板二级缓存与文档绑定存储
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"letter-stream-engine/internal/config"
	"letter-stream-engine/pkg/tracer"
)

var redisTracer = otel.Tracer("redis")

// Client Redis 客户端
type Client struct {
	rdb *redis.Client
}

// NewClient 创建客户端并验证连通性
func NewClient(cfg *config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", rdb.Options().Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Redis 底层客户端，供 Streams 使用
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Close 关闭连接
func (c *Client) Close() error {
	return c.rdb.Close()
}

// HealthCheck 健康检查
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.traced(ctx, "redis.HealthCheck", nil, func(ctx context.Context) error {
		if err := c.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		return nil
	})
}

// Get 读取字符串值，键不存在时返回 redis.Nil
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := c.traced(ctx, "redis.Get", []attribute.KeyValue{attribute.String("redis.key", key)},
		func(ctx context.Context) error {
			var err error
			val, err = c.rdb.Get(ctx, key).Result()
			return err
		})
	return val, err
}

// Set 写入值，expiration 为 0 表示不过期
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.traced(ctx, "redis.Set", []attribute.KeyValue{
		attribute.String("redis.key", key),
		attribute.Int64("redis.ttl_ms", expiration.Milliseconds()),
	}, func(ctx context.Context) error {
		return c.rdb.Set(ctx, key, value, expiration).Err()
	})
}

// Del 删除键
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.traced(ctx, "redis.Del", []attribute.KeyValue{attribute.Int("redis.key_count", len(keys))},
		func(ctx context.Context) error {
			return c.rdb.Del(ctx, keys...).Err()
		})
}

// traced 在 span 中执行操作；redis.Nil 不记为失败
func (c *Client) traced(ctx context.Context, name string, attrs []attribute.KeyValue, op func(context.Context) error) error {
	ctx, span := redisTracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...))
	defer span.End()

	err := op(ctx)
	if err != nil && !IsNil(err) {
		tracer.Fail(span, err)
	}
	return err
}

// IsNil 是否为键不存在
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
