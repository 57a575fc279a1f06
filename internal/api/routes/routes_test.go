package routes

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/api/middleware"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/config"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/metrics"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/services"
)

func setupRouter(t *testing.T, cfg config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()

	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	if len(cfg.Policies.List()) == 0 {
		cfg.Policies = config.DefaultPolicies()
	}
	cfg.Patterns = config.DefaultPatterns()
	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	require.NoError(t, Register(router, db, cfg, services.NewGuard(db, cfg), reg))
	return router
}

func TestRegister(t *testing.T) {
	router := setupRouter(t, config.Config{})

	paths := map[string]bool{}
	for _, r := range router.Routes() {
		paths[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /api/v1/health",
		"GET /metrics",
		"POST /api/v1/ratelimit/check",
		"POST /api/v1/activity",
		"GET /api/v1/incidents",
		"GET /api/v1/incidents/:id",
		"POST /api/v1/incidents/:id/resolve",
		"POST /api/v1/incidents/rescan",
		"GET /api/v1/suspicion/:ip",
		"POST /api/v1/sweep",
		"GET /api/v1/policies",
		"GET /api/v1/audit",
	} {
		assert.True(t, paths[want], "missing route %s", want)
	}
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	router := setupRouter(t, config.Config{OperatorSecret: "s3cret"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/incidents", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := middleware.IssueOperatorToken("s3cret", "ops", middleware.RoleOperator, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Service tokens do not open operator routes.
	serviceToken, err := middleware.IssueOperatorToken("s3cret", "crm-api", middleware.RoleService, time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/incidents", nil)
	req.Header.Set("Authorization", "Bearer "+serviceToken)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWriteRoutesRequireServiceToken(t *testing.T) {
	router := setupRouter(t, config.Config{OperatorSecret: "s3cret"})
	operatorToken, err := middleware.IssueOperatorToken("s3cret", "ops", middleware.RoleOperator, time.Minute)
	require.NoError(t, err)
	serviceToken, err := middleware.IssueOperatorToken("s3cret", "crm-api", middleware.RoleService, time.Minute)
	require.NoError(t, err)

	send := func(path, body, token string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	check := `{"policy":"login","identifier":"victim@example.com","source_ip":"203.0.113.9"}`
	activity := `{"client_id":"c","actor_id":"a","action_type":"login"}`

	assert.Equal(t, http.StatusUnauthorized, send("/api/v1/ratelimit/check", check, ""))
	assert.Equal(t, http.StatusUnauthorized, send("/api/v1/activity", activity, ""))
	assert.Equal(t, http.StatusUnauthorized, send("/api/v1/activity", activity, "not-a-token"))
	assert.Equal(t, http.StatusForbidden, send("/api/v1/ratelimit/check", check, operatorToken))
	assert.Equal(t, http.StatusForbidden, send("/api/v1/activity", activity, operatorToken))

	assert.Equal(t, http.StatusOK, send("/api/v1/ratelimit/check", check, serviceToken))
	assert.Equal(t, http.StatusAccepted, send("/api/v1/activity", activity, serviceToken))
}

func TestActivityEndpointIsRateLimited(t *testing.T) {
	policies, err := config.NewPolicies([]config.RateLimitPolicy{{Name: ActivityIngestPolicy, Limit: 1, Window: time.Minute}})
	require.NoError(t, err)
	router := setupRouter(t, config.Config{Policies: policies})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/activity", strings.NewReader(`{"client_id":"c","action_type":"login"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.7:1111"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}
	assert.Equal(t, http.StatusAccepted, send().Code)
	w := send()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get(middleware.HeaderRateLimitLimit))
}

func TestMetricsEndpoint(t *testing.T) {
	router := setupRouter(t, config.Config{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/ratelimit/check",
		strings.NewReader(`{"policy":"login","identifier":"a"}`)))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "guard_ratelimit_checks_total")
}
