package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hkinc45/dev-kitchen-session/auth"
	"github.com/hkinc45/dev-kitchen-session/metrics"
	"github.com/hkinc45/dev-kitchen-session/notice"
	"github.com/hkinc45/dev-kitchen-session/store"
)

// Config wires the persistence API.
type Config struct {
	Backend store.Backend
	// Provisioner enables POST /v1/profiles/:id. Optional.
	Provisioner store.Provisioner
	Verifier    auth.TokenVerifier
	// Events receives profile-provisioned events. Optional.
	Events        notice.Publisher
	SubjectPrefix string
	Logger        zerolog.Logger
}

// Server serves profile, credit, credential and address rows to their owners.
type Server struct {
	cfg Config
	mw  *auth.Middleware
}

func New(cfg Config) *Server {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "session"
	}
	return &Server{
		cfg: cfg,
		mw:  auth.NewMiddleware(cfg.Verifier, cfg.Logger),
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	metrics.Register()

	router := gin.New()
	router.Use(gin.Recovery(), requestMetrics(), requestLogger(s.cfg.Logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.RegisterRoutes(router)
	return router
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		ev := logger.Debug()
		if status >= 500 {
			ev = logger.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("identity_id", c.GetString(auth.ContextIdentityID)).
			Msg("request")
	}
}
