// Package api serves the rollup and catalog over HTTP JSON.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kpitrack/internal/audit"
	"kpitrack/internal/kpi"
	"kpitrack/internal/rollup"
	"kpitrack/internal/store"
	"kpitrack/internal/telemetry"
)

// Options carries optional server settings.
type Options struct {
	// AuthToken enables bearer authentication on /v1 routes when set.
	AuthToken string
	// TrendWindow is the default number of months for /v1/trend.
	TrendWindow int
	// Audit records catalog mutations; nil disables auditing.
	Audit *audit.Logger
	// Now overrides the clock used for default periods.
	Now func() time.Time
}

// Server is an HTTP API over a store and its rollup service.
type Server struct {
	store   store.Store
	svc     *rollup.Service
	metrics *telemetry.Metrics
	logger  *zap.Logger
	opts    Options
}

// NewServer wires the API. metrics and logger may be nil.
func NewServer(st store.Store, svc *rollup.Service, metrics *telemetry.Metrics, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = telemetry.New()
	}
	if opts.TrendWindow <= 0 {
		opts.TrendWindow = rollup.DefaultWindowMonths
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{store: st, svc: svc, metrics: metrics, logger: logger, opts: opts}
}

// Handler returns the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.metrics.Middleware(), s.requestLogger())

	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", s.metrics.Handler())

	v1 := r.Group("/v1", s.auth())
	v1.POST("/evaluate", s.handleEvaluate)

	v1.GET("/kpis", s.handleListKpis)
	v1.POST("/kpis", s.handleSaveKpi)
	v1.GET("/kpis/:id", s.handleGetKpi)
	v1.DELETE("/kpis/:id", s.handleDeleteKpi)
	v1.GET("/kpis/:id/aggregate", s.handleAggregate)

	v1.GET("/people", s.handleListPeople)
	v1.POST("/people", s.handleSavePerson)
	v1.GET("/people/:id", s.handleGetPerson)
	v1.DELETE("/people/:id", s.handleDeletePerson)
	v1.GET("/people/:id/performance", s.handlePersonPerformance)

	v1.GET("/departments", s.handleListDepartments)
	v1.POST("/departments", s.handleSaveDepartment)
	v1.GET("/departments/:id", s.handleGetDepartment)
	v1.DELETE("/departments/:id", s.handleDeleteDepartment)
	v1.GET("/departments/:id/performance", s.handleDepartmentPerformance)

	v1.GET("/entries", s.handleListEntries)
	v1.POST("/entries", s.handleSaveEntry)
	v1.GET("/entries/:id", s.handleGetEntry)
	v1.DELETE("/entries/:id", s.handleDeleteEntry)

	v1.GET("/rankings/people", s.handleRankPeople)
	v1.GET("/rankings/departments", s.handleRankDepartments)
	v1.GET("/trend", s.handleTrend)
	v1.GET("/compare", s.handleCompare)
	v1.GET("/radar", s.handleRadar)

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// auth enforces the bearer token when one is configured.
func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.AuthToken == "" {
			c.Next()
			return
		}
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.AuthToken)) != 1 {
			writeError(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) recordAudit(eventType string, payload any) {
	if s.opts.Audit == nil {
		return
	}
	if err := s.opts.Audit.LogEvent("api", eventType, payload); err != nil {
		s.logger.Warn("audit write failed", zap.String("type", eventType), zap.Error(err))
	}
}

func writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

// writeFailure maps domain errors onto HTTP statuses.
func (s *Server) writeFailure(c *gin.Context, err error) {
	var verrs kpi.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		details := make([]string, 0, len(verrs))
		for _, v := range verrs {
			details = append(details, v.Error())
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": details})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, rollup.ErrUnknownEntity):
		writeError(c, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
