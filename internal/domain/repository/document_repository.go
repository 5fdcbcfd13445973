package repository

import (
	"context"

	"letter-stream-engine/internal/domain/entity"
)

// DocumentStore 后端文档（信件）存储
type DocumentStore interface {
	// CreateDocument 创建文档，返回后端分配的 ID
	CreateDocument(ctx context.Context, content string, meta entity.DocumentMetadata) (string, error)

	// UpdateDocument 更新已存在的文档
	UpdateDocument(ctx context.Context, id, content string, meta entity.DocumentMetadata) error
}

// BindingStore 目标与后端文档 ID 的绑定关系
type BindingStore interface {
	// Get 未绑定时返回 ("", false, nil)
	Get(ctx context.Context, targetID string) (string, bool, error)

	// Set 绑定后端文档 ID
	Set(ctx context.Context, targetID, documentID string) error

	// Delete 解除绑定
	Delete(ctx context.Context, targetID string) error
}
