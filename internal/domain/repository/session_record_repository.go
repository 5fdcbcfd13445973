package repository

import (
	"context"

	"letter-stream-engine/internal/domain/entity"
)

// SessionRecordRepository 生成会话审计仓储
type SessionRecordRepository interface {
	// Create 写入一条终止会话记录
	Create(ctx context.Context, rec *entity.SessionRecord) error

	// ListByTarget 获取目标的会话记录（按开始时间倒序）
	ListByTarget(ctx context.Context, targetID string, pagination Pagination) (*PagedResult[*entity.SessionRecord], error)

	// CountCreates 统计目标的 create 持久化次数
	CountCreates(ctx context.Context, targetID string) (int64, error)
}
