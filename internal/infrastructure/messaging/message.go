// Package messaging 基于 Redis Streams 的事件收发：
// letter_persisted 事件供下游订阅，template_changed 事件驱动各实例失效模板缓存
package messaging

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"
)

// Stream 流名称
type Stream string

const (
	StreamLetterEvents   Stream = "stream:letter:events"
	StreamTemplateEvents Stream = "stream:template:events"
)

// DLQStream 对应的死信流
func (s Stream) DLQStream() string {
	return "dlq:" + string(s)
}

// ConsumerGroup 消费者组
type ConsumerGroup string

const (
	ConsumerGroupTemplateWatcher ConsumerGroup = "cg-template-watcher"
)

// 消息类型
const (
	TypeLetterPersisted = "letter_persisted"
	TypeTemplateChanged = "template_changed"
)

// Message 流中 data 字段承载的消息
type Message struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	TargetID  string            `json:"target_id,omitempty"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewMessage 创建消息
func NewMessage(id, msgType, targetID string, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	return &Message{
		ID:        id,
		Type:      msgType,
		TargetID:  targetID,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// SetMetadata 设置元数据
func (m *Message) SetMetadata(key, value string) {
	if value == "" {
		return
	}
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
}

// GetMetadata 读取元数据
func (m *Message) GetMetadata(key string) string {
	return m.Metadata[key]
}

// UnmarshalPayload 解析载荷
func (m *Message) UnmarshalPayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("message %s has empty payload", m.ID)
	}
	return json.Unmarshal(m.Payload, v)
}

// BackoffConfig 重试退避
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoffConfig 默认退避：1s 起，每次翻倍，最长 1min
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    time.Second,
		Max:        time.Minute,
		Multiplier: 2,
	}
}

// CalculateBackoff 第 deliveries 次投递后的等待时长
func (c BackoffConfig) CalculateBackoff(deliveries int) time.Duration {
	if deliveries <= 0 || c.Multiplier <= 1 {
		return c.Initial
	}
	d := float64(c.Initial) * math.Pow(c.Multiplier, float64(deliveries))
	if c.Max > 0 && d > float64(c.Max) {
		return c.Max
	}
	return time.Duration(d)
}

// DefaultConsumerName 以主机名和进程号区分同组成员
func DefaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "letter-engine"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
