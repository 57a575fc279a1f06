package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RequestLogger logs each request with its request_id. Successful probes of
// skipPaths are logged at debug level.
func RequestLogger(skipPaths ...string) gin.HandlerFunc {
	quiet := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		quiet[p] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := GetRequestLogger(c).WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    SanitizePath(c.Request.URL.Path),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
		if policy, ok := c.Get(RateLimitPolicyKey); ok {
			entry = entry.WithField("ratelimit_policy", policy)
		}
		_, skip := quiet[c.FullPath()]
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Warn("handled request")
		case skip:
			entry.Debug("handled request")
		default:
			entry.Info("handled request")
		}
	}
}
