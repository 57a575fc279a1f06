package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/services"
)

const RateLimitPolicyKey = "rateLimitPolicy"

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// RateLimitChecker is satisfied by services.RateLimiter.
type RateLimitChecker interface {
	Check(ctx context.Context, policyName, identifier string, meta services.RequestMeta) services.RateLimitResult
}

// IdentifierFunc picks the counter identity for a request.
type IdentifierFunc func(c *gin.Context) string

// ByClientIP keys the counter on the resolved client address.
func ByClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// ByHeader keys the counter on a request header, falling back to the client address.
func ByHeader(name string) IdentifierFunc {
	return func(c *gin.Context) string {
		if v := c.GetHeader(name); v != "" {
			return v
		}
		return c.ClientIP()
	}
}

// RateLimit rejects requests over policy with 429. Fail-open results pass
// through without rate-limit headers.
func RateLimit(limiter RateLimitChecker, policy string, identify IdentifierFunc) gin.HandlerFunc {
	if identify == nil {
		identify = ByClientIP
	}
	return func(c *gin.Context) {
		c.Set(RateLimitPolicyKey, policy)
		res := limiter.Check(c.Request.Context(), policy, identify(c), services.RequestMeta{
			SourceIP:  c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Extra:     map[string]string{"route": c.FullPath()},
		})
		if res.FailOpen {
			c.Next()
			return
		}
		WriteRateLimitHeaders(c, res)
		if !res.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":    "rate limit exceeded",
				"policy":   res.Policy,
				"reset_at": res.ResetAt,
			})
			return
		}
		c.Next()
	}
}

// WriteRateLimitHeaders sets the X-RateLimit-* headers, plus Retry-After on denial.
func WriteRateLimitHeaders(c *gin.Context, res services.RateLimitResult) {
	c.Header(HeaderRateLimitLimit, strconv.Itoa(res.Limit))
	c.Header(HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))
	c.Header(HeaderRateLimitReset, strconv.FormatInt(res.ResetAt.Unix(), 10))
	if !res.Allowed {
		wait := time.Until(res.ResetAt)
		secs := int64(wait / time.Second)
		if wait%time.Second != 0 {
			secs++
		}
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.FormatInt(secs, 10))
	}
}
