package messaging

import (
	"context"
	"fmt"
	"strings"

	"letter-stream-engine/pkg/logger"
)

// TemplateNotifier 接收模板版本变更
type TemplateNotifier interface {
	NotifyVersion(ctx context.Context, id string, version int) bool
}

// TemplateChangedHandler 处理 template_changed 消息，使过期的缓存模板失效
func TemplateChangedHandler(n TemplateNotifier) MessageHandler {
	return func(ctx context.Context, msg *Message) error {
		var change TemplateChangedMessage
		if err := msg.UnmarshalPayload(&change); err != nil {
			return fmt.Errorf("decode template_changed payload: %w", err)
		}
		id := strings.TrimSpace(change.TemplateID)
		if id == "" {
			// 无法重试成功，直接确认
			logger.Warn(ctx, "template_changed message without template id", "message_id", msg.ID)
			return nil
		}
		if n.NotifyVersion(ctx, id, change.Version) {
			logger.Info(ctx, "cached template invalidated by version change",
				"template_id", id, "version", change.Version)
		}
		return nil
	}
}
