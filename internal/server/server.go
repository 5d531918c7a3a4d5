// Package server exposes the manual check trigger over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ibeckermayer/mentionbot/internal/engine"
	"github.com/ibeckermayer/mentionbot/internal/scheduler"
)

// Checker runs one check cycle.
type Checker interface {
	Check(ctx context.Context, trigger engine.Trigger) (*engine.CycleReport, error)
}

// JobLister reports the scheduled jobs.
type JobLister interface {
	ListJobs() []scheduler.JobInfo
}

// Options configures the server.
type Options struct {
	Addr         string
	TriggerToken string              // empty disables auth on the trigger
	Gatherer     prometheus.Gatherer // nil uses the default registry
	Jobs         JobLister           // may be nil
	CheckTimeout time.Duration
	Logger       *zap.Logger
}

// Server is the HTTP trigger surface.
type Server struct {
	checker Checker
	opts    Options
	logger  *zap.Logger
	engine  *gin.Engine

	mu   sync.RWMutex
	last *engine.CycleReport
}

// New builds the gin engine and its routes.
func New(checker Checker, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 5 * time.Minute
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		checker: checker,
		opts:    opts,
		logger:  opts.Logger.Named("server"),
		engine:  gin.New(),
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(s.requestLogger())

	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	api := s.engine.Group("/api/v1")
	api.Use(s.requireToken())
	api.POST("/check", s.handleCheck)
	api.GET("/last", s.handleLast)
	api.GET("/jobs", s.handleJobs)

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.opts.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleCheck runs one cycle synchronously and returns its report.
func (s *Server) handleCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.CheckTimeout)
	defer cancel()

	report, err := s.checker.Check(ctx, engine.TriggerManual)
	if report != nil {
		s.mu.Lock()
		s.last = report
		s.mu.Unlock()
	}
	if err != nil {
		status := http.StatusInternalServerError
		if engine.IsFetchError(err) {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleLast(c *gin.Context) {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()
	if last == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cycle has been triggered yet"})
		return
	}
	c.JSON(http.StatusOK, last)
}

func (s *Server) handleJobs(c *gin.Context) {
	jobs := []scheduler.JobInfo{}
	if s.opts.Jobs != nil {
		jobs = append(jobs, s.opts.Jobs.ListJobs()...)
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.TriggerToken == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.TriggerToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
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
			zap.Duration("duration", time.Since(start)))
	}
}
