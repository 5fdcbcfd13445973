// Package metrics Prometheus 指标，注册到默认 registry
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "letter_engine"

func counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

func histogramVec(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets,
	}, labels)
}

// HTTP；path 取路由模板
var (
	HTTPRequestsTotal = counterVec("http", "requests_total",
		"HTTP requests by route and status", "method", "path", "status")
	HTTPRequestDuration = histogramVec("http", "request_duration_seconds",
		"HTTP request latency; for streaming routes the whole push duration",
		[]float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120}, "method", "path")
)

// 生成会话
var (
	GenerationSessionsTotal = counterVec("generation", "sessions_total",
		"Sessions reaching a terminal state", "state", "error_code")
	GenerationSessionDuration = histogramVec("generation", "session_duration_seconds",
		"Time from session start to terminal state",
		[]float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300}, "state")
	GenerationFragmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "generation", Name: "fragments_total",
		Help: "Text fragments appended to session buffers",
	})
	GenerationActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "generation", Name: "active_sessions",
		Help: "Sessions not yet terminal",
	})
	// op: create/update
	GenerationPersistTotal = counterVec("generation", "persist_total",
		"Backend document writes", "op", "status")
)

// 模板缓存
var (
	// result: hit/shared_hit/miss/invalid/not_found/error
	TemplateCacheRequests = counterVec("template_cache", "requests_total",
		"Template lookups by result", "result")
	// reason: explicit/all/version
	TemplateCacheInvalidations = counterVec("template_cache", "invalidations_total",
		"Template cache evictions by reason", "reason")
)

// StreamFramesTotal kind: fragment/complete/error/keepalive/coalesced
var StreamFramesTotal = counterVec("stream", "frames_total",
	"Frames seen per transport", "transport", "kind")

// direct 模式下的模型调用
var (
	LLMCallTotal = counterVec("llm", "call_total",
		"Chat model calls", "provider", "model", "status")
	LLMCallDuration = histogramVec("llm", "call_duration_seconds",
		"Chat model call latency", []float64{1, 5, 10, 30, 60, 120}, "provider", "model")
	// type: prompt/completion
	LLMTokensUsed = counterVec("llm", "tokens_used_total",
		"Tokens reported by the chat model", "provider", "model", "type")
)

// RedisStreamProcessed status: success/error/skipped/malformed/dlq
var RedisStreamProcessed = counterVec("redis", "stream_processed_total",
	"Redis stream entries handled by consumers", "stream", "status")
