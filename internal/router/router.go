package router

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/model"
	appvalidator "github.com/jwalitptl/clinic-api/pkg/validator"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// Handlers groups the route sets by access level.
type Handlers struct {
	Health  Handler
	Metrics Handler

	Patients     Handler
	Records      Handler
	Appointments Handler
	Invoices     Handler
	Workflows    Handler
	Inventory    Handler
	Schedules    Handler
	System       Handler

	// Dashboard is restricted to administrators.
	Dashboard Handler
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	handlers Handlers
	metrics  *routerMetrics
}

type routerMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	errorTotal      *prometheus.CounterVec
}

type RouterConfig struct {
	Logger           *zerolog.Logger
	Registerer       prometheus.Registerer
	MetricsNamespace string
	RequestTimeout   time.Duration
	RateLimitEnabled bool
	RateLimit        middleware.RateLimiterConfig
	CORSConfig       middleware.CORSConfig
	Security         middleware.SecurityConfig
}

func NewRouter(auth *middleware.AuthMiddleware, handlers Handlers, config RouterConfig) *Router {
	gin.SetMode(gin.ReleaseMode)
	configureBinding()

	engine := gin.New()
	r := &Router{
		engine:   engine,
		auth:     auth,
		handlers: handlers,
		metrics:  initRouterMetrics(config.MetricsNamespace, config.Registerer),
	}

	engine.Use(
		middleware.Recovery(config.Logger),
		middleware.RequestID(),
		middleware.Logger(config.Logger),
		middleware.ErrorHandler(config.Logger),
		r.metricsMiddleware(),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.RequestTimeout}),
		middleware.SecurityHeaders(config.Security),
		middleware.CORS(config.CORSConfig),
	)

	if config.RateLimitEnabled {
		engine.Use(middleware.NewRateLimiter(config.RateLimit).RateLimit())
	}

	r.setup()
	return r
}

// configureBinding installs the shared custom rules on gin's validator.
func configureBinding() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		appvalidator.Configure(v)
	}
}

func (r *Router) setup() {
	if r.handlers.Metrics != nil {
		r.handlers.Metrics.RegisterRoutes(&r.engine.RouterGroup)
	}

	api := r.engine.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	if r.handlers.Health != nil {
		r.handlers.Health.RegisterRoutes(api)
	}

	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	for _, h := range []Handler{
		r.handlers.Patients,
		r.handlers.Records,
		r.handlers.Appointments,
		r.handlers.Invoices,
		r.handlers.Workflows,
		r.handlers.Inventory,
		r.handlers.Schedules,
		r.handlers.System,
	} {
		if h != nil {
			h.RegisterRoutes(protected)
		}
	}

	if r.handlers.Dashboard != nil {
		admin := protected.Group("")
		admin.Use(r.auth.RequireRole(model.RoleAdmin))
		r.handlers.Dashboard.RegisterRoutes(admin)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func initRouterMetrics(namespace string, reg prometheus.Registerer) *routerMetrics {
	factory := promauto.With(reg)
	return &routerMetrics{
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
			},
			[]string{"method", "path", "status"},
		),
		requestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		errorTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_errors_total",
				Help:      "Total number of HTTP errors",
			},
			[]string{"method", "path", "type"},
		),
	}
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		code := c.Writer.Status()
		status := strconv.Itoa(code)
		duration := time.Since(start).Seconds()

		r.metrics.requestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		r.metrics.requestTotal.WithLabelValues(c.Request.Method, path, status).Inc()

		switch {
		case code >= 500:
			r.metrics.errorTotal.WithLabelValues(c.Request.Method, path, "server").Inc()
		case code >= 400:
			r.metrics.errorTotal.WithLabelValues(c.Request.Method, path, "client").Inc()
		}
	}
}
