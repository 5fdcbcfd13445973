// Package utils 提供通用工具函数
package utils

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("token missing")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims 访问令牌中引擎关心的声明
// 签名由后端校验，这里只读取声明用于前置检查
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// BearerToken 从 Authorization 头中提取 Bearer token
func BearerToken(header string) string {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// InspectToken 检查 token 是否可用于打开生成流
// 非 JWT 形式的不透明 token 视为可用；JWT 形式则要求可解析且未过期
func InspectToken(token string, now time.Time) (*Claims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}
	if strings.Count(token, ".") != 2 {
		return nil, nil
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return claims, ErrExpiredToken
	}
	return claims, nil
}
