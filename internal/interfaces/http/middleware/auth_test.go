package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"letter-stream-engine/pkg/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func signedToken(t *testing.T, userID string, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, utils.Claims{
		UserID:           userID,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
	}).SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

type authResult struct {
	status int
	body   string
	token  string
	userID string
}

func runAuth(t *testing.T, cfg AuthConfig, path, header string) authResult {
	t.Helper()
	cfg.Now = func() time.Time { return testNow }

	var res authResult
	r := gin.New()
	r.Use(Auth(cfg))
	r.Any("/*path", func(c *gin.Context) {
		res.token = utils.TokenFromContext(c.Request.Context())
		res.userID = c.GetString("user_id")
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	res.status = w.Code
	res.body = w.Body.String()
	return res
}

func TestAuthMissingToken(t *testing.T) {
	res := runAuth(t, AuthConfig{Required: true, SkipPaths: DefaultSkipPaths}, "/v1/targets/T", "")
	if res.status != http.StatusUnauthorized || !strings.Contains(res.body, "missing authorization header") {
		t.Fatalf("status=%d body=%s", res.status, res.body)
	}

	res = runAuth(t, AuthConfig{}, "/v1/targets/T", "")
	if res.status != http.StatusOK || res.token != "" {
		t.Fatalf("optional auth: status=%d token=%q", res.status, res.token)
	}
}

func TestAuthSkipPaths(t *testing.T) {
	res := runAuth(t, AuthConfig{Required: true, SkipPaths: DefaultSkipPaths}, "/health", "")
	if res.status != http.StatusOK {
		t.Fatalf("status = %d, want 200 for skipped path", res.status)
	}
}

func TestAuthForwardsOpaqueToken(t *testing.T) {
	res := runAuth(t, AuthConfig{Required: true}, "/v1/targets/T", "Bearer opaque-session-token")
	if res.status != http.StatusOK || res.token != "opaque-session-token" {
		t.Fatalf("status=%d token=%q", res.status, res.token)
	}
}

func TestAuthInspectsJWT(t *testing.T) {
	valid := signedToken(t, "user-7", testNow.Add(time.Hour))
	res := runAuth(t, AuthConfig{Required: true}, "/v1/targets/T", "bearer "+valid)
	if res.status != http.StatusOK || res.token != valid || res.userID != "user-7" {
		t.Fatalf("status=%d token=%q user=%q", res.status, res.token, res.userID)
	}

	expired := signedToken(t, "user-7", testNow.Add(-time.Minute))
	res = runAuth(t, AuthConfig{}, "/v1/targets/T", "Bearer "+expired)
	if res.status != http.StatusUnauthorized || !strings.Contains(res.body, "token expired") {
		t.Fatalf("expired: status=%d body=%s", res.status, res.body)
	}

	res = runAuth(t, AuthConfig{}, "/v1/targets/T", "Bearer not.a.jwt")
	if res.status != http.StatusUnauthorized || !strings.Contains(res.body, "invalid token") {
		t.Fatalf("malformed: status=%d body=%s", res.status, res.body)
	}
}
