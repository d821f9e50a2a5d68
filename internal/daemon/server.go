// Package daemon serves the ingest and query API over HTTP.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/runnerr0/readtrail/internal/app"
)

// Server is the readtrail HTTP daemon.
type Server struct {
	app     *app.App
	version string
	started time.Time
	logger  *slog.Logger
	engine  *gin.Engine
}

// New builds the router for a.
func New(a *app.App, version string) *Server {
	s := &Server{
		app:     a,
		version: version,
		started: time.Now(),
		logger:  a.Logger.With(slog.String("component", "daemon")),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), s.limitBody(a.Config.Daemon.MaxRequestSize))

	r.GET("/status", s.handleStatus)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.POST("/sessions", s.handleOpenSession)
	v1.POST("/sessions/:id/page", s.handleChangePage)
	v1.POST("/sessions/:id/focus", s.handleFocus)
	v1.DELETE("/sessions/:id", s.handleCloseSession)
	v1.POST("/visits", s.handleVisit)
	v1.GET("/libraries/:lib/tree", s.handleTree)
	v1.GET("/libraries/:lib/summary", s.handleLibrarySummary)
	v1.GET("/documents/:key/summary", s.handleDocumentSummary)
	v1.DELETE("/documents/:key/history", s.handleClearHistory)
	v1.POST("/import", s.handleImport)
	v1.GET("/warnings", s.handleWarnings)
	v1.GET("/search", s.handleSearch)
	v1.PUT("/settings/scan_period", s.handleSetScanPeriod)

	s.engine = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on the configured address and runs the sampler until ctx is
// done, then shuts both down.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.app.Config.Daemon
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	samplerDone := make(chan error, 1)
	go func() { samplerDone <- s.app.Sampler.Run(ctx) }()

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("daemon listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("serve %s: %w", addr, err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-samplerDone
	s.logger.Info("daemon stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(start)),
		)
	}
}

func (s *Server) limitBody(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil && max > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		}
		c.Next()
	}
}
