//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"github.com/google/wire"

	"letter-stream-engine/internal/config"
	"letter-stream-engine/internal/infrastructure/llm"
	"letter-stream-engine/internal/interfaces/http/handler"
	"letter-stream-engine/internal/interfaces/http/router"
)

// InitializeApp 初始化整个应用
func InitializeApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	wire.Build(
		DataSet,
		TemplateSet,
		GenerationSet,
		RouterSet,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}

// DataSet 存储与消息依赖
var DataSet = wire.NewSet(
	ProvidePostgresClient,
	ProvideRedisClient,
	ProvideSessionRecordRepository,
	ProvideBindingStore,
	ProvideEventSink,
)

// TemplateSet 模板缓存依赖
var TemplateSet = wire.NewSet(
	ProvideTokenSource,
	ProvideBackendClient,
	ProvideTemplateStore,
	ProvideTemplateCache,
	ProvideTemplateWatcher,
)

// GenerationSet 生成会话依赖
var GenerationSet = wire.NewSet(
	llm.NewEinoFactory,
	ProvideTransport,
	ProvideGenerationManager,
)

// RouterSet 路由器提供者集合
var RouterSet = wire.NewSet(
	ProvideAuthConfig,
	handler.NewHealthHandler,
	handler.NewGenerationHandler,
	handler.NewTemplateHandler,
	wire.Struct(new(router.Handlers), "*"),
	router.New,
)
