package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"letter-stream-engine/internal/domain/entity"
	"letter-stream-engine/internal/domain/repository"
	"letter-stream-engine/pkg/tracer"
)

// SessionRecordRepository 会话审计仓储实现
type SessionRecordRepository struct {
	client *Client
}

// NewSessionRecordRepository 创建会话审计仓储
func NewSessionRecordRepository(client *Client) *SessionRecordRepository {
	return &SessionRecordRepository{client: client}
}

// Create 写入会话记录
func (r *SessionRecordRepository) Create(ctx context.Context, rec *entity.SessionRecord) error {
	ctx, span := pgTracer.Start(ctx, "postgres.SessionRecordRepository.Create")
	defer span.End()

	if err := r.client.db.WithContext(ctx).Create(rec).Error; err != nil {
		tracer.Fail(span, err)
		return fmt.Errorf("failed to create session record: %w", err)
	}
	return nil
}

// ListByTarget 按开始时间倒序列出目标的会话记录
func (r *SessionRecordRepository) ListByTarget(ctx context.Context, targetID string, pagination repository.Pagination) (*repository.PagedResult[*entity.SessionRecord], error) {
	ctx, span := pgTracer.Start(ctx, "postgres.SessionRecordRepository.ListByTarget")
	defer span.End()

	db := r.client.db.WithContext(ctx).Model(&entity.SessionRecord{}).
		Where("target_id = ?", targetID).
		Session(&gorm.Session{})

	var total int64
	if err := db.Count(&total).Error; err != nil {
		tracer.Fail(span, err)
		return nil, fmt.Errorf("failed to count session records: %w", err)
	}

	var recs []*entity.SessionRecord
	if err := db.Order("started_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&recs).Error; err != nil {
		tracer.Fail(span, err)
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}

	return repository.NewPagedResult(recs, total, pagination), nil
}

// CountCreates 统计目标成功的 create 次数
func (r *SessionRecordRepository) CountCreates(ctx context.Context, targetID string) (int64, error) {
	ctx, span := pgTracer.Start(ctx, "postgres.SessionRecordRepository.CountCreates")
	defer span.End()

	var n int64
	err := r.client.db.WithContext(ctx).Model(&entity.SessionRecord{}).
		Where("target_id = ? AND persist_op = ? AND state = ?",
			targetID, entity.PersistOpCreate, entity.SessionStateDone).
		Count(&n).Error
	if err != nil {
		tracer.Fail(span, err)
		return 0, fmt.Errorf("failed to count creates: %w", err)
	}
	return n, nil
}
