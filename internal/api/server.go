package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"reelsmith/internal/logging"
	"reelsmith/internal/resilience"
	"reelsmith/internal/workflow"
)

const shutdownTimeout = 5 * time.Second

// StatusProvider reports workflow state for /healthz and /v1/status.
type StatusProvider interface {
	Status(ctx context.Context) workflow.StatusSummary
}

// Limiter admits or rejects one request for a key.
type Limiter interface {
	Allow(ctx context.Context, key string) (resilience.Decision, error)
}

// Options configures a Server.
type Options struct {
	Bind     string
	Token    string
	Jobs     *JobService
	Workflow StatusProvider
	Limiter  Limiter
	Logger   *slog.Logger
}

// Server serves the job control API.
type Server struct {
	opts   Options
	engine *gin.Engine
	logger *slog.Logger
}

// NewServer builds the router. Jobs is required; Workflow and Limiter are
// optional.
func NewServer(opts Options) (*Server, error) {
	if opts.Jobs == nil {
		return nil, errors.New("api server requires a job service")
	}
	s := &Server{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "api"),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestContext())
	r.GET("/healthz", s.health)

	v1 := r.Group("/v1", s.authenticate(), s.rateLimit())
	v1.GET("/status", s.workflowStatus)
	v1.GET("/stats", s.stats)
	v1.GET("/jobs", s.listJobs)
	v1.POST("/jobs", s.submitJob)
	v1.GET("/jobs/:id", s.getJob)
	v1.POST("/jobs/:id/cancel", s.cancelJob)
	v1.POST("/jobs/:id/retry", s.retryJob)

	s.engine = r
	return s, nil
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on the configured address until ctx ends, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.Bind)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx ends.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()
	s.logger.Info("api listening", logging.String("addr", listener.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api shutdown incomplete", logging.Error(err))
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("api stopped")
	return nil
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
