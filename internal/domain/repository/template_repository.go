package repository

import (
	"context"

	"letter-stream-engine/internal/domain/entity"
)

// TemplateSource 模板来源
// 返回未经校验的原始 JSON；模板不存在时返回 errors.ErrTemplateNotFound
type TemplateSource interface {
	FetchTemplate(ctx context.Context, id string) ([]byte, error)
}

// TemplateStore 跨进程共享的模板缓存（二级缓存）
type TemplateStore interface {
	// Get 命中返回 (record, true, nil)，未命中返回 (_, false, nil)
	Get(ctx context.Context, id string) (entity.TemplateRecord, bool, error)

	// Set 写入已校验的模板
	Set(ctx context.Context, rec entity.TemplateRecord) error

	// Delete 删除单个模板
	Delete(ctx context.Context, id string) error

	// Clear 删除全部模板
	Clear(ctx context.Context) error
}
