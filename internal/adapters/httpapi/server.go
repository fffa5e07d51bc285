// Package httpapi exposes scoring and model administration over HTTP
package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stoik/email-risk/internal/application"
	"github.com/stoik/email-risk/internal/domain"
	"github.com/stoik/email-risk/internal/domain/forest"
	"github.com/stoik/email-risk/internal/logging"
	"github.com/stoik/email-risk/internal/metrics"
	"github.com/stoik/email-risk/internal/modelcache"
)

// ScoringService is the application surface used by the handlers
type ScoringService interface {
	Score(ctx context.Context, req application.ScoreRequest) (*domain.RiskAssessment, error)
	ScoreBatch(ctx context.Context, reqs []application.ScoreRequest) []application.BatchResult
	GetAssessment(ctx context.Context, id uuid.UUID) (*domain.RiskAssessment, error)
	RecentAssessments(ctx context.Context, since time.Time, minScore float64, limit int) ([]domain.RiskAssessment, error)
	ExplainForest(ctx context.Context, raw map[string]any) (*forest.Result, error)
}

// ModelAdmin is the administrative view of the model caches
type ModelAdmin interface {
	Status() []modelcache.Status
	Reload(ctx context.Context, kind string) (modelcache.Status, error)
	ReloadAll(ctx context.Context) []modelcache.Status
	Clear(kind string) error
}

// Options configures the router
type Options struct {
	AdminToken   string // empty disables admin auth
	MaxBatchSize int
	Logger       *slog.Logger
}

// Server wires handlers onto a gin engine
type Server struct {
	service ScoringService
	models  ModelAdmin
	opts    Options
	router  *gin.Engine
}

// NewServer creates the HTTP server and registers every route
func NewServer(service ScoringService, models ModelAdmin, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 1000
	}

	s := &Server{service: service, models: models, opts: opts, router: gin.New()}
	s.router.Use(gin.Recovery())
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.registerRoutes()
	return s
}

// Router returns the gin router
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Handler returns the server as an http.Handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.health)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	v1.POST("/score", s.score)
	v1.POST("/score/batch", s.scoreBatch)
	v1.GET("/assessments", s.listAssessments)
	v1.GET("/assessments/:id", s.getAssessment)

	admin := s.router.Group("/admin", s.adminAuth())
	admin.GET("/models", s.listModels)
	admin.POST("/models/reload", s.reloadAll)
	admin.POST("/models/:kind/reload", s.reloadModel)
	admin.DELETE("/models/:kind", s.clearModel)
	admin.POST("/forest/explain", s.explainForest)
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an upstream request ID (load balancer, caller) when present
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.opts.Logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		logger := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			logger.Error("request completed", attrs...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Debug("request completed", attrs...)
		}
	}
}

// adminAuth requires the admin token as a bearer token or X-Admin-Token header
func (s *Server) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.AdminToken == "" {
			c.Next()
			return
		}
		token := c.GetHeader("X-Admin-Token")
		if bearer, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
			token = bearer
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.AdminToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "admin token required"})
			return
		}
		c.Next()
	}
}
