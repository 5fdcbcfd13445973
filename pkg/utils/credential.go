package utils

import (
	"context"
	"strings"
)

type tokenCtxKey struct{}

// WithToken 将调用方的访问 token 写入 context，供出站请求转发
func WithToken(ctx context.Context, token string) context.Context {
	token = strings.TrimSpace(token)
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenCtxKey{}, token)
}

// TokenFromContext 读取 context 中的访问 token
func TokenFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(tokenCtxKey{}).(string)
	return s
}

// TokenSource 访问凭证来源
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ForwardedToken 优先使用 context 中转发的 token，缺失时使用 Fallback（服务凭证）
type ForwardedToken struct {
	Fallback string
}

// Token 实现 TokenSource
func (f ForwardedToken) Token(ctx context.Context) (string, error) {
	if t := TokenFromContext(ctx); t != "" {
		return t, nil
	}
	if t := strings.TrimSpace(f.Fallback); t != "" {
		return t, nil
	}
	return "", ErrMissingToken
}
