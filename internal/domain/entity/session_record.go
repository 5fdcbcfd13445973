package entity

import (
	"time"

	"github.com/lib/pq"
)

// PersistOp 持久化操作类型
type PersistOp string

const (
	PersistOpNone   PersistOp = ""
	PersistOpCreate PersistOp = "create"
	PersistOpUpdate PersistOp = "update"
)

// SessionRecord 生成会话审计记录
type SessionRecord struct {
	ID              string         `json:"id" gorm:"primaryKey;type:varchar(64)"`
	SessionID       string         `json:"session_id" gorm:"index;type:varchar(64);not null"`
	TargetID        string         `json:"target_id" gorm:"index;type:varchar(128);not null"`
	TemplateID      string         `json:"template_id" gorm:"type:varchar(128);not null"`
	TemplateVersion int            `json:"template_version"`
	VariableNames   pq.StringArray `json:"variable_names" gorm:"type:text[]"`
	State           SessionState   `json:"state" gorm:"type:varchar(32);not null"`
	ErrorCode       string         `json:"error_code,omitempty" gorm:"type:varchar(16)"`
	ErrorMessage    string         `json:"error_message,omitempty" gorm:"type:text"`
	DocumentID      string         `json:"document_id,omitempty" gorm:"type:varchar(128)"`
	PersistOp       PersistOp      `json:"persist_op,omitempty" gorm:"type:varchar(16)"`
	FragmentCount   int            `json:"fragment_count"`
	CharCount       int            `json:"char_count"`
	DurationMs      int64          `json:"duration_ms"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     time.Time      `json:"completed_at"`
}

// TableName 表名
func (SessionRecord) TableName() string {
	return "generation_sessions"
}
