package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	apperrors "letter-stream-engine/pkg/errors"
	"letter-stream-engine/pkg/logger"
)

// Recovery 捕获 panic 并返回 500
// 流已开始写出时只能中断连接，不再追加 JSON
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Error(c.Request.Context(), "panic recovered", fmt.Errorf("%v", rec),
				"route", c.FullPath(),
				"method", c.Request.Method,
				"stack", string(debug.Stack()))

			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":       http.StatusInternalServerError,
				"error_code": apperrors.CodeInternalError,
				"message":    "internal server error",
				"trace_id":   c.GetString(string(logger.TraceIDKey)),
			})
		}()
		c.Next()
	}
}
