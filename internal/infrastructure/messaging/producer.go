package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"letter-stream-engine/internal/domain/entity"
	"letter-stream-engine/pkg/logger"
	"letter-stream-engine/pkg/tracer"
)

const defaultMaxLen = 100000

var streamTracer = otel.Tracer("messaging")

// TemplateChangedMessage template_changed 载荷
type TemplateChangedMessage struct {
	TemplateID string `json:"template_id"`
	Version    int    `json:"version"`
}

// Producer 写入 Redis Streams，流长度按 maxLen 近似裁剪
type Producer struct {
	client *redis.Client
	maxLen int64
}

func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &Producer{client: client, maxLen: maxLen}
}

// Publish 以 data 字段写入 JSON 编码的消息，返回流条目 ID
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := streamTracer.Start(ctx, "producer.Publish", trace.WithAttributes(
		attribute.String("stream", string(stream)),
		attribute.String("message.type", msg.Type),
	))
	defer span.End()

	// 跨进程传递日志关联字段
	msg.SetMetadata("request_id", contextString(ctx, logger.RequestIDKey))
	msg.SetMetadata("trace_id", tracer.TraceID(ctx))

	data, err := json.Marshal(msg)
	if err != nil {
		tracer.Fail(span, err)
		return "", fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	}).Result()
	if err != nil {
		tracer.Fail(span, err)
		return "", fmt.Errorf("publish to %s: %w", stream, err)
	}
	span.SetAttributes(attribute.String("stream.entry_id", id))
	return id, nil
}

// PublishLetterPersisted 通知下游信件已写入后端
func (p *Producer) PublishLetterPersisted(ctx context.Context, evt entity.LetterPersisted) error {
	msg, err := NewMessage(uuid.NewString(), TypeLetterPersisted, evt.TargetID, evt)
	if err != nil {
		return err
	}
	msg.SetMetadata("document_id", evt.DocumentID)
	msg.SetMetadata("op", string(evt.Op))
	_, err = p.Publish(ctx, StreamLetterEvents, msg)
	return err
}

// PublishTemplateChanged 通知各实例失效模板缓存
func (p *Producer) PublishTemplateChanged(ctx context.Context, change TemplateChangedMessage) (string, error) {
	msg, err := NewMessage(uuid.NewString(), TypeTemplateChanged, "", change)
	if err != nil {
		return "", err
	}
	msg.SetMetadata("template_id", change.TemplateID)
	return p.Publish(ctx, StreamTemplateEvents, msg)
}

func contextString(ctx context.Context, key logger.ContextKey) string {
	s, _ := ctx.Value(key).(string)
	return s
}
