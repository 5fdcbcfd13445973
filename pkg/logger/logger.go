// Package logger 基于 slog 的结构化日志；context 中的关联字段自动写入每条日志
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// ContextKey 日志关联字段的 context 键
type ContextKey string

const (
	TraceIDKey    ContextKey = "trace_id"
	SpanIDKey     ContextKey = "span_id"
	RequestIDKey  ContextKey = "request_id"
	TargetIDKey   ContextKey = "target_id"
	SessionIDKey  ContextKey = "session_id"
	TemplateIDKey ContextKey = "template_id"
	ConsumerKey   ContextKey = "consumer"
)

// contextKeys 写入顺序
var contextKeys = [...]ContextKey{
	TraceIDKey, SpanIDKey, RequestIDKey,
	TargetIDKey, SessionIDKey, TemplateIDKey, ConsumerKey,
}

var current atomic.Pointer[slog.Logger]

// contextHandler 在 Handle 时从 ctx 取出关联字段
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		for _, key := range contextKeys {
			if v := ctx.Value(key); v != nil {
				r.AddAttrs(slog.Any(string(key), v))
			}
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}

// Init 按级别与格式（json|text）安装全局日志器；debug 级别附带源码位置
func Init(level, format string) {
	initTo(os.Stdout, level, format)
}

func initTo(w io.Writer, level, format string) {
	lv := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lv, AddSource: lv <= slog.LevelDebug}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	}
	SetDefault(slog.New(h))
}

// SetDefault 替换全局日志器，测试中用于捕获输出
func SetDefault(l *slog.Logger) {
	wrapped := slog.New(contextHandler{l.Handler()})
	current.Store(wrapped)
	slog.SetDefault(wrapped)
}

// parseLevel 无法识别时取 info
func parseLevel(level string) slog.Level {
	s := strings.ToLower(strings.TrimSpace(level))
	if s == "warning" {
		s = "warn"
	}
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lv
}

func get() *slog.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	Init("info", "json")
	return current.Load()
}

// WithContext 把关联字段放入 context
func WithContext(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}

func Debug(ctx context.Context, msg string, args ...any) { get().DebugContext(ctx, msg, args...) }

func Info(ctx context.Context, msg string, args ...any) { get().InfoContext(ctx, msg, args...) }

func Warn(ctx context.Context, msg string, args ...any) { get().WarnContext(ctx, msg, args...) }

// Error err 为 nil 时不附加 error 字段
func Error(ctx context.Context, msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	get().ErrorContext(ctx, msg, args...)
}

// Fatal 记录错误后退出进程
func Fatal(ctx context.Context, msg string, err error, args ...any) {
	Error(ctx, msg, err, args...)
	os.Exit(1)
}
