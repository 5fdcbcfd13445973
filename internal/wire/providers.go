package wire

import (
	"context"
	"fmt"

	"letter-stream-engine/internal/application/generation"
	"letter-stream-engine/internal/application/template"
	"letter-stream-engine/internal/config"
	"letter-stream-engine/internal/domain/repository"
	"letter-stream-engine/internal/infrastructure/backend"
	"letter-stream-engine/internal/infrastructure/llm"
	"letter-stream-engine/internal/infrastructure/messaging"
	"letter-stream-engine/internal/infrastructure/persistence/postgres"
	"letter-stream-engine/internal/infrastructure/persistence/redis"
	"letter-stream-engine/internal/infrastructure/stream"
	"letter-stream-engine/internal/interfaces/http/middleware"
	"letter-stream-engine/internal/interfaces/http/router"
	"letter-stream-engine/pkg/logger"
	"letter-stream-engine/pkg/utils"
)

// App 应用依赖容器
type App struct {
	Router    *router.Router
	Manager   *generation.Manager
	Templates *template.Cache
	// Watcher 未启用模板版本监听时为 nil
	Watcher *messaging.Consumer
}

// Start 启动后台消费者
func (a *App) Start(ctx context.Context) error {
	if a.Watcher == nil {
		return nil
	}
	if err := a.Watcher.Start(ctx); err != nil {
		return fmt.Errorf("start template watcher: %w", err)
	}
	go a.Watcher.MonitorDLQ(ctx, 100)
	return nil
}

// ProvidePostgresClient 提供 PostgreSQL 客户端；未启用会话审计时为 nil
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	if !cfg.Generation.AuditEnabled {
		return nil, func() {}, nil
	}
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClient 提供 Redis 客户端；未启用时为 nil
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.Cache.Redis.Enabled {
		return nil, func() {}, nil
	}
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		client.Close()
	}
	return client, cleanup, nil
}

// ProvideSessionRecordRepository 提供会话审计仓储
func ProvideSessionRecordRepository(pg *postgres.Client) repository.SessionRecordRepository {
	if pg == nil {
		return nil
	}
	return postgres.NewSessionRecordRepository(pg)
}

// ProvideTokenSource 调用方 token 优先，其次服务凭证
func ProvideTokenSource(cfg *config.Config) utils.TokenSource {
	return utils.ForwardedToken{Fallback: cfg.Backend.ServiceToken}
}

// ProvideBackendClient 提供后端 API 客户端
func ProvideBackendClient(cfg *config.Config, creds utils.TokenSource) (*backend.Client, error) {
	return backend.NewClient(backend.Config{
		BaseURL:        cfg.Backend.BaseURL,
		TemplatePath:   cfg.Backend.TemplatePath,
		DocumentPath:   cfg.Backend.DocumentPath,
		RequestTimeout: cfg.Backend.RequestTimeout,
		Credentials:    creds,
	})
}

// ProvideTemplateStore 提供模板二级缓存；未启用时为 nil
func ProvideTemplateStore(cfg *config.Config, redisClient *redis.Client) repository.TemplateStore {
	if !cfg.TemplateCache.SharedEnabled || redisClient == nil {
		return nil
	}
	return redis.NewTemplateStore(redis.NewCache(redisClient), cfg.TemplateCache.KeyPrefix, cfg.TemplateCache.SharedTTL)
}

// ProvideTemplateCache 提供模板缓存
func ProvideTemplateCache(cfg *config.Config, remote *backend.Client, shared repository.TemplateStore) (*template.Cache, func(), error) {
	cache, err := template.NewCache(template.Options{
		Mode:   template.SourceMode(cfg.TemplateCache.SourceMode),
		Remote: remote,
		Shared: shared,
	})
	if err != nil {
		return nil, nil, err
	}
	return cache, cache.Close, nil
}

// ProvideBindingStore 提供文档绑定存储
func ProvideBindingStore(cfg *config.Config, redisClient *redis.Client) (repository.BindingStore, error) {
	switch cfg.Generation.BindingStore {
	case config.BindingStoreRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis binding store requires redis client")
		}
		return redis.NewBindingStore(redisClient), nil
	default:
		return generation.NewMemoryBindingStore(), nil
	}
}

// ProvideEventSink 提供 letter_persisted 事件发布；未启用时为 nil
func ProvideEventSink(cfg *config.Config, redisClient *redis.Client) generation.EventSink {
	if !cfg.Generation.PublishEvents || redisClient == nil {
		return nil
	}
	return messaging.NewProducer(redisClient.Redis(), int64(cfg.Messaging.RedisStream.MaxLen))
}

// ProvideTransport 按传输模式提供生成流
func ProvideTransport(cfg *config.Config, creds utils.TokenSource, models *llm.EinoFactory) stream.Transport {
	if cfg.Generation.TransportMode == config.TransportModeDirect {
		provider := models.Resolve(cfg.Generation.DirectProvider)
		logger.Info(context.Background(), "using direct chat model transport", "provider", provider)
		return stream.NewEinoTransport(models, provider)
	}
	return stream.NewSSETransport(stream.SSEConfig{
		BaseURL:               cfg.Backend.BaseURL,
		StreamPath:            cfg.Backend.StreamPath,
		ResponseHeaderTimeout: cfg.Backend.RequestTimeout,
		Credentials:           creds,
	})
}

// ProvideGenerationManager 提供生成会话管理器
func ProvideGenerationManager(
	cfg *config.Config,
	templates *template.Cache,
	transport stream.Transport,
	documents *backend.Client,
	bindings repository.BindingStore,
	records repository.SessionRecordRepository,
	events generation.EventSink,
) (*generation.Manager, func(), error) {
	m, err := generation.NewManager(generation.Options{
		Templates:      templates,
		Transport:      transport,
		Documents:      documents,
		Bindings:       bindings,
		Records:        records,
		Events:         events,
		MinChars:       cfg.Generation.MinChars,
		PersistTimeout: cfg.Generation.PersistTimeout,
		RetainTTL:      cfg.Generation.RetainTTL,
		RetainLimit:    cfg.Generation.RetainLimit,
	})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		m.Close(context.Background())
	}
	return m, cleanup, nil
}

// ProvideTemplateWatcher 提供模板版本变更消费者；未启用时为 nil
func ProvideTemplateWatcher(cfg *config.Config, redisClient *redis.Client, cache *template.Cache) (*messaging.Consumer, func()) {
	if !cfg.TemplateCache.WatchVersions || redisClient == nil {
		return nil, func() {}
	}
	rs := cfg.Messaging.RedisStream
	consumer := messaging.NewConsumer(redisClient.Redis(), messaging.ConsumerConfig{
		Stream:        messaging.StreamTemplateEvents,
		Group:         messaging.ConsumerGroupTemplateWatcher,
		ConsumerName:  rs.ConsumerName,
		BlockTimeout:  rs.BlockTimeout,
		ClaimInterval: rs.ClaimInterval,
		RetryLimit:    rs.RetryLimit,
		Backoff: messaging.BackoffConfig{
			Initial:    rs.RetryBackoff.Initial,
			Max:        rs.RetryBackoff.Max,
			Multiplier: rs.RetryBackoff.Multiplier,
		},
	})
	consumer.RegisterHandler(messaging.TypeTemplateChanged, messaging.TemplateChangedHandler(cache))
	return consumer, consumer.Stop
}

// ProvideAuthConfig 提供凭证中间件配置
// 没有服务凭证兜底时，backend 模式要求调用方携带 token
func ProvideAuthConfig(cfg *config.Config) middleware.AuthConfig {
	return middleware.AuthConfig{
		Required:  cfg.Backend.ServiceToken == "" && cfg.Generation.TransportMode == config.TransportModeBackend,
		SkipPaths: middleware.DefaultSkipPaths,
	}
}
