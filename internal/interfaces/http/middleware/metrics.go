package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"letter-stream-engine/pkg/metrics"
)

// Metrics 记录请求数与耗时；路由未匹配时以 unmatched 归类，避免路径基数膨胀
// 流式接口的耗时即整个推送时长
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		metrics.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
