package eino

import (
	"context"
	"strings"
)

type providerKey struct{}

// WithProvider 标记本次调用的 provider 名，空值忽略
func WithProvider(ctx context.Context, provider string) context.Context {
	if p := strings.TrimSpace(provider); p != "" {
		return context.WithValue(ctx, providerKey{}, p)
	}
	return ctx
}

// ProviderFromContext 未标记时为 unknown
func ProviderFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(providerKey{}).(string); ok {
		return p
	}
	return "unknown"
}
