package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"letter-stream-engine/pkg/logger"
)

const (
	RequestIDHeader = "X-Request-ID"
	TraceIDHeader   = "X-Trace-ID"
)

// RequestID 沿用调用方的 X-Request-ID，没有则生成；同时写入日志上下文与响应头
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(string(logger.RequestIDKey), id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(
			logger.WithContext(c.Request.Context(), logger.RequestIDKey, id))
		c.Next()
	}
}

// Tracing otelgin 建立服务端 span 后，把 trace/span ID 暴露给日志与响应
// 放在 RequestID 之后，使 span 与 request_id 落在同一条日志里
func Tracing(service string) []gin.HandlerFunc {
	return []gin.HandlerFunc{otelgin.Middleware(service), traceIDs}
}

func traceIDs(c *gin.Context) {
	sc := trace.SpanContextFromContext(c.Request.Context())
	if !sc.IsValid() {
		c.Next()
		return
	}
	traceID := sc.TraceID().String()
	c.Set(string(logger.TraceIDKey), traceID)
	c.Header(TraceIDHeader, traceID)

	ctx := logger.WithContext(c.Request.Context(), logger.TraceIDKey, traceID)
	ctx = logger.WithContext(ctx, logger.SpanIDKey, sc.SpanID().String())
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}
