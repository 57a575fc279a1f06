package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/metrics"
)

// unmatchedRoute labels panics on requests that matched no route.
const unmatchedRoute = "unmatched"

// Recovery turns a handler panic into a 500 carrying the request id, so the
// caller can quote it when reporting the failure. verbose adds the stack and
// the sanitized request headers to the log entry.
func Recovery(verbose bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			route := c.FullPath()
			if route == "" {
				route = unmatchedRoute
			}
			metrics.IncHTTPPanic(route)

			fields := logrus.Fields{
				"panic":  fmt.Sprint(r),
				"method": c.Request.Method,
				"route":  route,
				"path":   SanitizePath(c.Request.URL.Path),
			}
			if policy := c.GetString(RateLimitPolicyKey); policy != "" {
				fields["ratelimit_policy"] = policy
			}
			if verbose {
				fields["headers"] = SanitizeHeaders(c.Request.Header)
				fields["stack"] = string(debug.Stack())
			}
			GetRequestLogger(c).WithFields(fields).Error("handler panicked")

			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":      "internal server error",
				"request_id": c.GetString(RequestIDKey),
			})
		}()
		c.Next()
	}
}
