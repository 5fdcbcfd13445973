package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// scanBatch 每批 SCAN/UNLINK 的键数
const scanBatch = 100

// Cache 以 JSON 编码存取值
type Cache struct {
	client *Client
}

// NewCache 创建缓存
func NewCache(client *Client) *Cache {
	return &Cache{client: client}
}

// GetJSON 读取并解码到 dest，第一个返回值表示是否命中
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := c.client.Get(ctx, key)
	switch {
	case IsNil(err):
		return false, nil
	case err != nil:
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON 编码后写入
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.client.Set(ctx, key, raw, ttl)
}

// Delete 删除键
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...)
}

// InvalidatePattern 扫描匹配 pattern 的键并分批 UNLINK
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) error {
	attrs := []attribute.KeyValue{attribute.String("redis.pattern", pattern)}
	return c.client.traced(ctx, "redis.InvalidatePattern", attrs, func(ctx context.Context) error {
		iter := c.client.rdb.Scan(ctx, 0, pattern, scanBatch).Iterator()
		batch := make([]string, 0, scanBatch)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			err := c.client.rdb.Unlink(ctx, batch...).Err()
			batch = batch[:0]
			return err
		}
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == scanBatch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
		return flush()
	})
}
