// Package eino 为直连模式的模型调用挂载 Eino 全局回调：指标、token 用量与 span
package eino

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	cbtemplate "github.com/cloudwego/eino/utils/callbacks"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"letter-stream-engine/pkg/metrics"
	"letter-stream-engine/pkg/tracer"
)

var (
	initOnce  sync.Once
	llmTracer = otel.Tracer("eino")
)

// Init 注册全局回调，重复调用无效
func Init() {
	initOnce.Do(func() {
		einocb.AppendGlobalHandlers(cbtemplate.NewHandlerHelper().ChatModel(chatModelHandler()).Handler())
	})
}

type callKey struct{}

// call 一次模型调用的打点状态，OnStart 放入 ctx
type call struct {
	provider string
	model    string
	start    time.Time
	span     trace.Span
}

func callFrom(ctx context.Context) *call {
	c, _ := ctx.Value(callKey{}).(*call)
	return c
}

func (c *call) finish(usage *model.TokenUsage, err error) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		tracer.Fail(c.span, err)
	}
	metrics.LLMCallTotal.WithLabelValues(c.provider, c.model, status).Inc()
	metrics.LLMCallDuration.WithLabelValues(c.provider, c.model).Observe(time.Since(c.start).Seconds())
	if usage != nil {
		metrics.LLMTokensUsed.WithLabelValues(c.provider, c.model, "prompt").Add(float64(usage.PromptTokens))
		metrics.LLMTokensUsed.WithLabelValues(c.provider, c.model, "completion").Add(float64(usage.CompletionTokens))
		c.span.SetAttributes(
			attribute.Int("llm.prompt_tokens", usage.PromptTokens),
			attribute.Int("llm.completion_tokens", usage.CompletionTokens),
		)
	}
	c.span.End()
}

func (c *call) observeModel(cfg *model.Config) {
	if c != nil && cfg != nil && cfg.Model != "" {
		c.model = cfg.Model
	}
}

func chatModelHandler() *cbtemplate.ModelCallbackHandler {
	return &cbtemplate.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, in *model.CallbackInput) context.Context {
			c := &call{provider: ProviderFromContext(ctx), start: time.Now()}
			if in != nil {
				c.observeModel(in.Config)
			}
			attrs := []attribute.KeyValue{
				attribute.String("llm.provider", c.provider),
				attribute.String("llm.model", c.model),
			}
			if info != nil {
				attrs = append(attrs, attribute.String("eino.component", info.Name))
			}
			ctx, c.span = llmTracer.Start(ctx, "llm.stream", trace.WithAttributes(attrs...))
			return context.WithValue(ctx, callKey{}, c)
		},

		OnEnd: func(ctx context.Context, _ *einocb.RunInfo, out *model.CallbackOutput) context.Context {
			c := callFrom(ctx)
			var usage *model.TokenUsage
			if out != nil {
				c.observeModel(out.Config)
				usage = out.TokenUsage
			}
			c.finish(usage, nil)
			return ctx
		},

		// 流式输出的回调副本需读完，usage 通常只出现在最后一块
		OnEndWithStreamOutput: func(ctx context.Context, _ *einocb.RunInfo, out *schema.StreamReader[*model.CallbackOutput]) context.Context {
			c := callFrom(ctx)
			go func() {
				defer out.Close()
				var usage *model.TokenUsage
				for {
					chunk, err := out.Recv()
					if errors.Is(err, io.EOF) {
						c.finish(usage, nil)
						return
					}
					if err != nil {
						c.finish(usage, err)
						return
					}
					if chunk == nil {
						continue
					}
					c.observeModel(chunk.Config)
					if chunk.TokenUsage != nil {
						usage = chunk.TokenUsage
					}
				}
			}()
			return ctx
		},

		OnError: func(ctx context.Context, _ *einocb.RunInfo, err error) context.Context {
			callFrom(ctx).finish(nil, err)
			return ctx
		},
	}
}
