package entity

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// SessionState 生成会话状态
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateStarting   SessionState = "starting"
	SessionStateStreaming  SessionState = "streaming"
	SessionStatePersisting SessionState = "persisting"
	SessionStateDone       SessionState = "done"
	SessionStateFailed     SessionState = "failed"
	SessionStateCancelled  SessionState = "cancelled"
)

// IsTerminal 是否为终止状态
func (s SessionState) IsTerminal() bool {
	switch s {
	case SessionStateDone, SessionStateFailed, SessionStateCancelled:
		return true
	default:
		return false
	}
}

// GenerationRequest 一次生成尝试的输入
// 构造后不可修改；Variables 在构造时复制
type GenerationRequest struct {
	targetID   string
	templateID string
	variables  map[string]string
}

// NewGenerationRequest 创建生成请求
func NewGenerationRequest(targetID, templateID string, variables map[string]string) (GenerationRequest, error) {
	targetID = strings.TrimSpace(targetID)
	templateID = strings.TrimSpace(templateID)
	if targetID == "" {
		return GenerationRequest{}, fmt.Errorf("target id is required")
	}
	if templateID == "" {
		return GenerationRequest{}, fmt.Errorf("template id is required")
	}
	vars := make(map[string]string, len(variables))
	maps.Copy(vars, variables)
	return GenerationRequest{
		targetID:   targetID,
		templateID: templateID,
		variables:  vars,
	}, nil
}

// TargetID 目标文档
func (r GenerationRequest) TargetID() string { return r.targetID }

// TemplateID 模板 ID
func (r GenerationRequest) TemplateID() string { return r.templateID }

// Variables 返回变量副本
func (r GenerationRequest) Variables() map[string]string {
	return maps.Clone(r.variables)
}

// StreamRequest 发往生成后端的出站请求
type StreamRequest struct {
	SessionID       string
	TargetID        string
	TemplateID      string
	TemplateVersion int
	Instruction     string
	RoleText        string
	Temperature     float64
	MaxTokens       int
	Metadata        map[string]string
}

// Snapshot 推送给 UI 的累积文本快照
type Snapshot struct {
	SessionID string
	TargetID  string
	Text      string
	Final     bool
}

// Terminal 推送给 UI 的终止通知
type Terminal struct {
	SessionID  string
	TargetID   string
	State      SessionState
	DocumentID string
	Err        error
}

// DocumentMetadata 持久化时附带的元数据
type DocumentMetadata struct {
	TargetID        string            `json:"targetId"`
	SessionID       string            `json:"sessionId"`
	TemplateID      string            `json:"templateId"`
	TemplateVersion int               `json:"templateVersion"`
	Variables       map[string]string `json:"variables,omitempty"`
	GeneratedAt     time.Time         `json:"generatedAt"`
}

// SessionStatus 会话结束后保留的对外状态
type SessionStatus struct {
	SessionID  string       `json:"session_id"`
	TargetID   string       `json:"target_id"`
	TemplateID string       `json:"template_id"`
	State      SessionState `json:"state"`
	Text       string       `json:"text,omitempty"`
	DocumentID string       `json:"document_id,omitempty"`
	ErrorCode  string       `json:"error_code,omitempty"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	EndedAt    *time.Time   `json:"ended_at,omitempty"`
}

// LetterPersisted 信件持久化成功事件
type LetterPersisted struct {
	TargetID    string    `json:"target_id"`
	DocumentID  string    `json:"document_id"`
	SessionID   string    `json:"session_id"`
	TemplateID  string    `json:"template_id"`
	Op          PersistOp `json:"op"`
	CharCount   int       `json:"char_count"`
	PersistedAt time.Time `json:"persisted_at"`
}
