package dto

import (
	"time"

	"letter-stream-engine/internal/domain/entity"
	"letter-stream-engine/pkg/errors"
)

// GenerateRequest 启动生成请求
type GenerateRequest struct {
	TemplateID string            `json:"template_id" binding:"required"`
	Variables  map[string]string `json:"variables"`
}

// BindingRequest 绑定已有文档请求
type BindingRequest struct {
	DocumentID string `json:"document_id" binding:"required"`
}

// SnapshotEvent SSE snapshot 事件
type SnapshotEvent struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Final     bool   `json:"final"`
}

// TerminalEvent SSE terminal 事件
type TerminalEvent struct {
	SessionID  string `json:"session_id"`
	TargetID   string `json:"target_id"`
	State      string `json:"state"`
	DocumentID string `json:"document_id,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ToSnapshotEvent 转换快照
func ToSnapshotEvent(s entity.Snapshot) SnapshotEvent {
	return SnapshotEvent{SessionID: s.SessionID, Text: s.Text, Final: s.Final}
}

// ToTerminalEvent 转换终止通知
func ToTerminalEvent(t entity.Terminal) TerminalEvent {
	ev := TerminalEvent{
		SessionID:  t.SessionID,
		TargetID:   t.TargetID,
		State:      string(t.State),
		DocumentID: t.DocumentID,
	}
	if t.Err != nil {
		appErr := errors.AsAppError(t.Err)
		ev.ErrorCode = string(appErr.Code)
		ev.Error = appErr.Message
	}
	return ev
}

// TemplateResponse 模板响应
type TemplateResponse struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	InstructionBody string   `json:"instruction_body"`
	RoleText        string   `json:"role_text"`
	Temperature     float64  `json:"temperature"`
	MaxTokens       int      `json:"max_tokens"`
	Version         int      `json:"version"`
	Placeholders    []string `json:"placeholders"`
}

// SessionRecordResponse 会话审计记录响应
type SessionRecordResponse struct {
	SessionID       string   `json:"session_id"`
	TemplateID      string   `json:"template_id"`
	TemplateVersion int      `json:"template_version"`
	VariableNames   []string `json:"variable_names"`
	State           string   `json:"state"`
	ErrorCode       string   `json:"error_code,omitempty"`
	DocumentID      string   `json:"document_id,omitempty"`
	PersistOp       string   `json:"persist_op,omitempty"`
	CharCount       int      `json:"char_count"`
	DurationMs      int64    `json:"duration_ms"`
	StartedAt       string   `json:"started_at"`
}

// ToSessionRecordResponse 转换审计记录
func ToSessionRecordResponse(rec *entity.SessionRecord) *SessionRecordResponse {
	return &SessionRecordResponse{
		SessionID:       rec.SessionID,
		TemplateID:      rec.TemplateID,
		TemplateVersion: rec.TemplateVersion,
		VariableNames:   rec.VariableNames,
		State:           string(rec.State),
		ErrorCode:       rec.ErrorCode,
		DocumentID:      rec.DocumentID,
		PersistOp:       string(rec.PersistOp),
		CharCount:       rec.CharCount,
		DurationMs:      rec.DurationMs,
		StartedAt:       rec.StartedAt.Format(time.RFC3339),
	}
}

// SessionHistoryResponse 目标的会话历史
type SessionHistoryResponse struct {
	Sessions    []*SessionRecordResponse `json:"sessions"`
	CreateCount int64                    `json:"create_count"`
}
