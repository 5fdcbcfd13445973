package stream

import (
	"context"
	"errors"
	"io"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"letter-stream-engine/internal/domain/entity"
	einoobs "letter-stream-engine/internal/observability/eino"
	apperrors "letter-stream-engine/pkg/errors"
	"letter-stream-engine/pkg/logger"
)

const transportDirect = "direct"

// ChatModelProvider 按名称提供 ChatModel
type ChatModelProvider interface {
	Get(ctx context.Context, name string) (model.BaseChatModel, error)
}

// EinoTransport 直接从 ChatModel 流式生成（不经过后端事件流）
type EinoTransport struct {
	models   ChatModelProvider
	provider string
}

// NewEinoTransport 创建直连传输
func NewEinoTransport(models ChatModelProvider, provider string) *EinoTransport {
	return &EinoTransport{models: models, provider: provider}
}

// Open 实现 Transport
func (t *EinoTransport) Open(ctx context.Context, req entity.StreamRequest, obs Observer) Handle {
	ctx, cancel := context.WithCancel(ctx)
	d := newDispatcher(obs, transportDirect, cancel)
	go t.run(ctx, d, req)
	return d
}

func (t *EinoTransport) run(ctx context.Context, d *dispatcher, req entity.StreamRequest) {
	ctx, span := tracer.Start(ctx, "stream.direct",
		trace.WithAttributes(
			attribute.String("session.id", req.SessionID),
			attribute.String("llm.provider", t.provider),
		))
	defer span.End()
	defer d.cancel()

	fail := func(err error) {
		if d.closed() {
			return
		}
		span.RecordError(err)
		logger.Warn(ctx, "direct generation failed", "session_id", req.SessionID, "error", err)
		d.fail(err)
	}

	ctx = einoobs.WithProvider(ctx, t.provider)
	chatModel, err := t.models.Get(ctx, t.provider)
	if err != nil {
		fail(apperrors.Wrap(err, apperrors.CodeTransportError, "chat model unavailable"))
		return
	}

	msgs := make([]*schema.Message, 0, 2)
	if req.RoleText != "" {
		msgs = append(msgs, schema.SystemMessage(req.RoleText))
	}
	msgs = append(msgs, schema.UserMessage(req.Instruction))

	opts := []model.Option{model.WithTemperature(float32(req.Temperature))}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}

	reader, err := chatModel.Stream(ctx, msgs, opts...)
	if err != nil {
		fail(apperrors.Wrap(err, apperrors.CodeTransportError, "open model stream"))
		return
	}
	defer reader.Close()

	for {
		msg, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			if !d.closed() {
				d.complete()
			}
			return
		}
		if err != nil {
			fail(apperrors.Wrap(err, apperrors.CodeTransportError, "read model stream"))
			return
		}
		if d.closed() {
			return
		}
		if msg != nil && msg.Content != "" {
			d.fragment(msg.Content)
		}
	}
}
