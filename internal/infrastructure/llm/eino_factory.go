// Package llm 直连模式下按 provider 构造 Eino ChatModel
package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"golang.org/x/sync/singleflight"

	"letter-stream-engine/internal/config"
)

// EinoFactory 惰性构造并缓存 ChatModel；同一 provider 的并发首次请求只构造一次
type EinoFactory struct {
	cfg   config.LLMConfig
	group singleflight.Group

	mu     sync.RWMutex
	models map[string]model.BaseChatModel
}

func NewEinoFactory(cfg *config.Config) *EinoFactory {
	return &EinoFactory{cfg: cfg.LLM, models: make(map[string]model.BaseChatModel)}
}

// Resolve 空名称取 default_provider
func (f *EinoFactory) Resolve(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return f.cfg.DefaultProvider
}

// Get 返回 provider 对应的 ChatModel
func (f *EinoFactory) Get(ctx context.Context, name string) (model.BaseChatModel, error) {
	name = f.Resolve(name)
	f.mu.RLock()
	m, ok := f.models[name]
	f.mu.RUnlock()
	if ok {
		return m, nil
	}

	v, err, _ := f.group.Do(name, func() (any, error) {
		m, err := f.build(context.WithoutCancel(ctx), name)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.models[name] = m
		f.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(model.BaseChatModel), nil
}

// build provider 的 max_tokens、temperature 仅作缺省值，调用时的 model.Option 覆盖它们
func (f *EinoFactory) build(ctx context.Context, name string) (model.BaseChatModel, error) {
	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("llm provider %q not configured", name)
	}
	mc := &openai.ChatModelConfig{
		APIKey:  pc.APIKey,
		BaseURL: pc.BaseURL,
		Model:   pc.Model,
		Timeout: pc.Timeout,
	}
	if pc.MaxTokens > 0 {
		mc.MaxTokens = &pc.MaxTokens
	}
	if pc.Temperature > 0 {
		t := float32(pc.Temperature)
		mc.Temperature = &t
	}
	cm, err := openai.NewChatModel(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("create chat model for %s: %w", name, err)
	}
	return cm, nil
}
