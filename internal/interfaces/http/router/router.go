// Package router 组装 HTTP 路由与中间件
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"letter-stream-engine/internal/config"
	"letter-stream-engine/internal/interfaces/http/handler"
	"letter-stream-engine/internal/interfaces/http/middleware"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Health     *handler.HealthHandler
	Generation *handler.GenerationHandler
	Template   *handler.TemplateHandler
}

// Router HTTP 路由
type Router struct {
	engine *gin.Engine
}

// New 按配置挂载中间件与路由
func New(cfg *config.Config, h Handlers, auth middleware.AuthConfig) *Router {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	chain := []gin.HandlerFunc{middleware.Recovery(), middleware.RequestID()}
	if cfg.Observability.Tracing.Enabled {
		chain = append(chain, middleware.Tracing(cfg.App.Name)...)
	}
	chain = append(chain, middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: cfg.Security.CORS.AllowedOrigins,
		AllowedMethods: cfg.Security.CORS.AllowedMethods,
		AllowedHeaders: cfg.Security.CORS.AllowedHeaders,
	}))
	if cfg.Observability.Metrics.Enabled {
		chain = append(chain, middleware.Metrics())
	}
	engine.Use(chain...)

	engine.GET("/health", h.Health.Health)
	engine.GET("/ready", h.Health.Ready)
	engine.GET("/live", h.Health.Live)
	if m := cfg.Observability.Metrics; m.Enabled {
		path := m.Path
		if path == "" {
			path = "/metrics"
		}
		engine.GET(path, gin.WrapH(promhttp.Handler()))
	}

	v1 := engine.Group("/v1", middleware.Auth(auth))

	targets := v1.Group("/targets/:tid")
	targets.GET("", h.Generation.Status)
	targets.GET("/sessions", h.Generation.History)
	targets.POST("/generate", h.Generation.Generate)
	targets.POST("/regenerate", h.Generation.Regenerate)
	targets.DELETE("/generation", h.Generation.Cancel)
	targets.POST("/persist", h.Generation.RetryPersist)
	targets.PUT("/binding", h.Generation.Bind)
	targets.DELETE("/binding", h.Generation.Unbind)

	templates := v1.Group("/templates")
	templates.GET("/:id", h.Template.GetTemplate)
	templates.DELETE("/:id", h.Template.InvalidateTemplate)
	templates.DELETE("", h.Template.InvalidateAll)

	return &Router{engine: engine}
}

// Engine gin 引擎
func (r *Router) Engine() *gin.Engine {
	return r.engine
}
