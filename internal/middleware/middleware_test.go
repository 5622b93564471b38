package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/quote-api/pkg/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(RequestID())
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subject": c.GetString(ContextSubject)})
	})
	r.POST("/test", handlers...)
	r.GET("/test", handlers...)
	return r
}

func perform(r http.Handler, method, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/test", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	jwtSvc, err := auth.NewJWTService("secret", "quote-api", time.Hour)
	require.NoError(t, err)
	m := NewAuthMiddleware(jwtSvc)
	r := newEngine(m.Authenticate(), m.RequireRole(auth.RoleAdmin))

	adminToken, err := jwtSvc.GenerateToken("ops@example.com", auth.RoleAdmin)
	require.NoError(t, err)
	viewerToken, err := jwtSvc.GenerateToken("viewer@example.com", "viewer")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer abc", http.StatusUnauthorized},
		{"wrong role", "Bearer " + viewerToken, http.StatusForbidden},
		{"admin", "Bearer " + adminToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			w := perform(r, http.MethodGet, "", headers)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Contains(t, w.Body.String(), "ops@example.com")
			} else {
				assert.Contains(t, w.Body.String(), `"success":false`)
			}
		})
	}
}

func TestAPIKey(t *testing.T) {
	r := newEngine(APIKey("X-API-Key", "s3cret"))

	assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodGet, "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodGet, "", map[string]string{"X-API-Key": "nope"}).Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "", map[string]string{"X-API-Key": "s3cret"}).Code)

	open := newEngine(APIKey("X-API-Key", ""))
	assert.Equal(t, http.StatusOK, perform(open, http.MethodGet, "", nil).Code)
}

func TestRateLimiterIsPerClient(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RPS: 0.001, Burst: 2, TTL: time.Minute})

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))

	r := newEngine(rl.RateLimit())
	// httptest requests come from 192.0.2.1
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "", nil).Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "", nil).Code)
	w := perform(r, http.MethodGet, "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate limit exceeded")
}

func TestSizeLimit(t *testing.T) {
	cfg := DefaultSizeLimitConfig()
	cfg.MaxBodySize = 16
	r := newEngine(SizeLimit(cfg))

	assert.Equal(t, http.StatusOK, perform(r, http.MethodPost, `{"a":1}`, nil).Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, perform(r, http.MethodPost, strings.Repeat("x", 64), nil).Code)
}

func TestCORS(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://shop.example.com"}
	r := newEngine(CORS(cfg))

	w := perform(r, http.MethodGet, "", map[string]string{"Origin": "https://shop.example.com"})
	assert.Equal(t, "https://shop.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))

	w = perform(r, http.MethodGet, "", map[string]string{"Origin": "https://evil.example.com"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDPropagates(t *testing.T) {
	r := newEngine()

	w := perform(r, http.MethodGet, "", map[string]string{HeaderXRequestID: "abc-123"})
	assert.Equal(t, "abc-123", w.Header().Get(HeaderXRequestID))

	w = perform(r, http.MethodGet, "", nil)
	assert.NotEmpty(t, w.Header().Get(HeaderXRequestID))
}

func TestRequestIDReplacesUnsafeValues(t *testing.T) {
	r := newEngine()

	for _, rid := range []string{"bad id", "<script>", strings.Repeat("a", 65)} {
		w := perform(r, http.MethodGet, "", map[string]string{HeaderXRequestID: rid})
		got := w.Header().Get(HeaderXRequestID)
		assert.NotEqual(t, rid, got)
		_, err := uuid.Parse(got)
		assert.NoError(t, err, "generated id for %q", rid)
	}
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/test", func(c *gin.Context) { panic("boom") })

	w := perform(r, http.MethodGet, "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"internal server error"}`, w.Body.String())
}
