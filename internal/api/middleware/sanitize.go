package middleware

import (
	"net/http"
	"strings"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/util"
)

var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"cookie":              {},
	"set-cookie":          {},
	"proxy-authorization": {},
	"x-api-key":           {},
	"x-api-token":         {},
	"x-access-token":      {},
	"x-auth-token":        {},
	"x-api-secret":        {},
	"x-forwarded-for":     {},
	"x-real-ip":           {},
}

// SanitizeHeaders returns header values safe for logging. Credentials and
// forwarded addresses are redacted; other values are sanitized and truncated.
func SanitizeHeaders(h http.Header) map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string, len(h))
	for k, vals := range h {
		if _, ok := sensitiveHeaders[strings.ToLower(k)]; ok {
			out[k] = []string{"<redacted>"}
			continue
		}
		clean := make([]string, 0, len(vals))
		for _, v := range vals {
			clean = append(clean, util.TruncateForLog(util.SanitizeForLog(v), 200))
		}
		out[k] = clean
	}
	return out
}

// SanitizePath prepares a request path for logging. Query parameters are dropped.
func SanitizePath(p string) string {
	if i := strings.Index(p, "?"); i != -1 {
		p = p[:i]
	}
	return util.TruncateForLog(util.SanitizeForLog(p), 200)
}
