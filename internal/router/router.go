package router

import (
	"time"

	"github.com/gin-gonic/gin"

	adminHandler "github.com/jwalitptl/quote-api/internal/handler/admin"
	prometheusHandler "github.com/jwalitptl/quote-api/internal/handler/prometheus"
	quoteHandler "github.com/jwalitptl/quote-api/internal/handler/quote"
	"github.com/jwalitptl/quote-api/internal/middleware"
	"github.com/jwalitptl/quote-api/pkg/auth"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine      *gin.Engine
	config      RouterConfig
	auth        *middleware.AuthMiddleware
	rateLimiter *middleware.RateLimiter
	metrics     *prometheusHandler.Handler
	healthH     Handler
	quoteH      *quoteHandler.Handler
	adminH      *adminHandler.Handler
}

type RouterConfig struct {
	CORSConfig      middleware.CORSConfig
	SizeLimitConfig middleware.SizeLimitConfig
	RequestTimeout  time.Duration
	MetricsPath     string
	// ForwardAPIKey guards the retry-forwarding endpoint when set.
	ForwardAPIKey       string
	ForwardAPIKeyHeader string
}

// Handlers groups everything the router mounts. Auth, Admin, RateLimiter and
// Metrics are optional: a nil value leaves that surface out.
type Handlers struct {
	Auth        *middleware.AuthMiddleware
	RateLimiter *middleware.RateLimiter
	Metrics     *prometheusHandler.Handler
	Health      Handler
	Quote       *quoteHandler.Handler
	Admin       *adminHandler.Handler
}

func NewRouter(h Handlers, config RouterConfig) *Router {
	engine := gin.New()

	if config.RequestTimeout <= 0 {
		config.RequestTimeout = middleware.DefaultTimeoutConfig().Duration
	}
	if config.SizeLimitConfig.MaxBodySize <= 0 {
		config.SizeLimitConfig = middleware.DefaultSizeLimitConfig()
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.ForwardAPIKeyHeader == "" {
		config.ForwardAPIKeyHeader = "X-API-Key"
	}

	r := &Router{
		engine:      engine,
		config:      config,
		auth:        h.Auth,
		rateLimiter: h.RateLimiter,
		metrics:     h.Metrics,
		healthH:     h.Health,
		quoteH:      h.Quote,
		adminH:      h.Admin,
	}

	// request id first so every later middleware can log it
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.ErrorHandler(),
	)
	if r.metrics != nil {
		engine.Use(r.metrics.Middleware())
	}
	engine.Use(
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.RequestTimeout}),
		middleware.CORS(config.CORSConfig),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.SizeLimit(config.SizeLimitConfig),
	)

	return r
}

func (r *Router) Setup() {
	if r.metrics != nil {
		r.engine.GET(r.config.MetricsPath, r.metrics.Handler())
	}

	api := r.engine.Group("/api/v1")

	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	if r.healthH != nil {
		r.healthH.RegisterRoutes(api)
	}
	r.setupPublicRoutes(api)

	if r.adminH != nil && r.auth != nil {
		protected := api.Group("")
		protected.Use(
			r.auth.Authenticate(),
			r.auth.RequireRole(auth.RoleAdmin),
		)
		r.adminH.RegisterRoutes(protected)
	}
}

func (r *Router) setupPublicRoutes(rg *gin.RouterGroup) {
	if r.quoteH == nil {
		return
	}

	var intake []gin.HandlerFunc
	if r.rateLimiter != nil {
		intake = append(intake, r.rateLimiter.RateLimit())
	}
	forward := []gin.HandlerFunc{
		middleware.APIKey(r.config.ForwardAPIKeyHeader, r.config.ForwardAPIKey),
	}
	r.quoteH.RegisterRoutes(rg, intake, forward)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
