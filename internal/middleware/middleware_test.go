package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-progress-api/internal/models"
	appErrors "github.com/noah-isme/sma-progress-api/pkg/errors"
)

type stubValidator map[string]*models.JWTClaims

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

type countingObserver struct {
	paths []string
}

func (o *countingObserver) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.paths = append(o.paths, path)
}

func newTestEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/resource/:id", handlers...)
	return r
}

func perform(r http.Handler, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

var tokens = stubValidator{
	"admin":   {UserID: "u-admin", Role: models.RoleAdmin},
	"teacher": {UserID: "u-teacher", Role: models.RoleTeacher},
	"parent":  {UserID: "u-parent", Role: models.RoleParent},
}

func TestJWT(t *testing.T) {
	r := newTestEngine(JWT(tokens))

	assert.Equal(t, http.StatusUnauthorized, perform(r, "/resource/1", "").Code)
	assert.Equal(t, http.StatusUnauthorized, perform(r, "/resource/1", "forged").Code)
	assert.Equal(t, http.StatusOK, perform(r, "/resource/1", "teacher").Code)
	assert.Equal(t, http.StatusOK, perform(r, "/resource/1?access_token=parent", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/resource/1", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRoles(t *testing.T) {
	r := newTestEngine(JWT(tokens), RequireRoles(models.RoleAdmin, models.RoleTeacher))

	assert.Equal(t, http.StatusOK, perform(r, "/resource/1", "admin").Code)
	assert.Equal(t, http.StatusOK, perform(r, "/resource/1", "teacher").Code)
	assert.Equal(t, http.StatusForbidden, perform(r, "/resource/1", "parent").Code)

	bare := newTestEngine(RequireRoles(models.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, perform(bare, "/resource/1", "").Code)
}

func TestRateLimit(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 2})
	r := newTestEngine(JWT(tokens), limiter.Middleware())

	assert.Equal(t, http.StatusOK, perform(r, "/resource/1", "teacher").Code)
	assert.Equal(t, http.StatusOK, perform(r, "/resource/1", "teacher").Code)
	limited := perform(r, "/resource/1", "teacher")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))

	// buckets are per user
	assert.Equal(t, http.StatusOK, perform(r, "/resource/1", "parent").Code)
}

func TestRateLimitSweep(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 5, IdleTTL: time.Minute})
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	r := newTestEngine(JWT(tokens), limiter.Middleware())

	perform(r, "/resource/1", "teacher")
	perform(r, "/resource/1", "parent")
	now = now.Add(2 * time.Minute)
	perform(r, "/resource/1", "parent")

	assert.Equal(t, 1, limiter.Sweep())
	assert.Len(t, limiter.clients, 1)
}

func TestRateLimitDisabled(t *testing.T) {
	r := newTestEngine(NewRateLimiter(RateLimitConfig{}).Middleware())
	for i := 0; i < 20; i++ {
		require.Equal(t, http.StatusOK, perform(r, "/resource/1", "").Code)
	}
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	observer := &countingObserver{}
	r := newTestEngine(Metrics(observer))
	r.Use(Metrics(observer))

	perform(r, "/resource/42", "")
	perform(r, "/missing", "")
	assert.Equal(t, []string{"/resource/:id", "unmatched"}, observer.paths)
}

func TestSetCacheHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(WithResponseMeta())
	var meta map[string]interface{}
	r.GET("/stats", func(c *gin.Context) {
		SetCacheHit(c, true)
		meta = ExtractMeta(c)
		c.Status(http.StatusOK)
	})

	rec := perform(r, "/stats", "")
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, true, meta["cache_hit"])
	assert.Contains(t, meta, "processing_time_ms")
	assert.NotContains(t, meta, "started_at")
}
