package redis

import (
	"context"
	"time"

	"letter-stream-engine/internal/domain/entity"
)

const defaultTemplateKeyPrefix = "tpl:"

// TemplateStore 模板二级缓存，多实例共享
// 只保存已通过校验的模板；读取方仍需再次校验
type TemplateStore struct {
	cache  *Cache
	prefix string
	ttl    time.Duration
}

// NewTemplateStore 创建模板二级缓存
func NewTemplateStore(cache *Cache, prefix string, ttl time.Duration) *TemplateStore {
	if prefix == "" {
		prefix = defaultTemplateKeyPrefix
	}
	return &TemplateStore{cache: cache, prefix: prefix, ttl: ttl}
}

func (s *TemplateStore) key(id string) string {
	return s.prefix + id
}

// Get 读取模板
func (s *TemplateStore) Get(ctx context.Context, id string) (entity.TemplateRecord, bool, error) {
	var rec entity.TemplateRecord
	ok, err := s.cache.GetJSON(ctx, s.key(id), &rec)
	if err != nil || !ok {
		return entity.TemplateRecord{}, false, err
	}
	return rec, true, nil
}

// Set 写入模板
func (s *TemplateStore) Set(ctx context.Context, rec entity.TemplateRecord) error {
	return s.cache.SetJSON(ctx, s.key(rec.ID), rec, s.ttl)
}

// Delete 删除单个模板
func (s *TemplateStore) Delete(ctx context.Context, id string) error {
	return s.cache.Delete(ctx, s.key(id))
}

// Clear 删除前缀下全部模板
func (s *TemplateStore) Clear(ctx context.Context) error {
	return s.cache.InvalidatePattern(ctx, s.prefix+"*")
}
