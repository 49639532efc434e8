// Package httpapi exposes the orchestrator over HTTP.
package httpapi

import (
	"net/http"

	"qmpie/internal/i18n"
	"qmpie/internal/observability"
	"qmpie/internal/orchestrator"
	"qmpie/internal/session"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// Options 服务端 HTTP 配置
// Options configures the HTTP surface.
type Options struct {
	// ProviderEnabled and MissingKeys are reported by /api/health.
	ProviderEnabled bool
	MissingKeys     []string
	// CORSOrigins lists allowed origins; "*" or empty allows any.
	CORSOrigins []string
	// RateLimitRPS is the per-IP rate on turn endpoints; 0 disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int
	// AdminToken guards DELETE /api/sessions/:id when set.
	AdminToken     string
	BodyLimitBytes int64
	Logger         *zap.Logger
	Metrics        *observability.Metrics
	Messages       *i18n.I18n
}

// Server 持有路由与依赖
// Server holds the router and its dependencies.
type Server struct {
	orch     *orchestrator.Orchestrator
	registry *session.Registry
	opts     Options
	logger   *zap.Logger
	msg      *i18n.I18n
	engine   *gin.Engine
}

func New(orch *orchestrator.Orchestrator, registry *session.Registry, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Messages == nil {
		opts.Messages = i18n.Global()
	}
	if opts.BodyLimitBytes <= 0 {
		opts.BodyLimitBytes = 1 << 20
	}
	s := &Server{
		orch:     orch,
		registry: registry,
		opts:     opts,
		logger:   opts.Logger.Named("http"),
		msg:      opts.Messages,
	}
	s.engine = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(
		gin.Recovery(),
		otelgin.Middleware("qmpie"),
		requestLogger(s.logger),
		cors(s.opts.CORSOrigins),
		bodyLimit(s.opts.BodyLimitBytes),
	)

	limiter := newIPLimiter(s.opts.RateLimitRPS, s.opts.RateLimitBurst)

	api := r.Group("/api")
	{
		api.GET("/health", s.handleHealth)

		turns := api.Group("", limiter.middleware(s.msg))
		{
			turns.POST("/start", s.handleStart)
			turns.POST("/continue", s.handleTurn(orchestrator.EndpointContinue))
			turns.POST("/final", s.handleTurn(orchestrator.EndpointFinal))
		}

		sessions := api.Group("/sessions")
		{
			sessions.GET("/:id", s.handleGetSession)
			sessions.GET("/:id/deliverable", s.handleDeliverable)
			sessions.DELETE("/:id", adminAuth(s.opts.AdminToken, s.msg), s.handleDeleteSession)
		}
	}
	r.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	return r
}
