package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"letter-stream-engine/internal/config"
	"letter-stream-engine/internal/infrastructure/persistence/postgres"
	"letter-stream-engine/internal/infrastructure/persistence/redis"
)

const readyTimeout = 2 * time.Second

// dependency 就绪检查项；check 为 nil 表示未启用
type dependency struct {
	name  string
	check func(context.Context) error
}

// HealthHandler 存活与就绪探针
// postgres、redis 为可选依赖，未启用时报告 disabled 且不影响就绪
type HealthHandler struct {
	version string
	deps    []dependency
}

func NewHealthHandler(cfg *config.Config, pg *postgres.Client, redisClient *redis.Client) *HealthHandler {
	h := &HealthHandler{version: cfg.App.Version}
	pgDep := dependency{name: "postgres"}
	if pg != nil {
		pgDep.check = pg.HealthCheck
	}
	redisDep := dependency{name: "redis"}
	if redisClient != nil {
		redisDep.check = redisClient.HealthCheck
	}
	h.deps = []dependency{pgDep, redisDep}
	return h
}

// HealthResponse 探针响应
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type checkResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

type readinessResponse struct {
	Status string                  `json:"status"`
	Checks map[string]*checkResult `json:"checks"`
}

// Health 服务健康
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: h.version})
}

// Live 进程存活
// @Tags System
// @Success 200 {object} HealthResponse
// @Router /live [get]
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready 并发检查已启用的依赖，任一失败返回 503
// @Tags System
// @Produce json
// @Success 200 {object} readinessResponse
// @Failure 503 {object} readinessResponse
// @Router /ready [get]
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	var (
		mu   sync.Mutex
		resp = readinessResponse{Status: "ok", Checks: make(map[string]*checkResult, len(h.deps))}
	)
	var g errgroup.Group
	for _, dep := range h.deps {
		if dep.check == nil {
			resp.Checks[dep.name] = &checkResult{Status: "disabled"}
			continue
		}
		g.Go(func() error {
			start := time.Now()
			err := dep.check(ctx)
			res := &checkResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status, res.Error = "error", err.Error()
			}
			mu.Lock()
			resp.Checks[dep.name] = res
			if err != nil {
				resp.Status = "not_ready"
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
