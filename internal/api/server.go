package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/Conxian/conxian-nexus/internal/domain/model"
	"github.com/Conxian/conxian-nexus/internal/gateway"
	"github.com/Conxian/conxian-nexus/internal/ingest"
	"github.com/Conxian/conxian-nexus/internal/merkle"
	"github.com/Conxian/conxian-nexus/internal/safety"
	"github.com/Conxian/conxian-nexus/internal/sequencer"
)

const (
	defaultMaxBodyBytes    = 64 << 10
	defaultShutdownTimeout = 10 * time.Second
)

// RootReader reads the append-only root history for verification
// against historical roots.
type RootReader interface {
	Latest(ctx context.Context) (*model.StateRoot, error)
	GetByHeight(ctx context.Context, height int64) (*model.StateRoot, error)
}

// Server exposes the node's query surface over HTTP. It only reads
// core state; the single writers (tracker, monitor) stay in their own
// loops.
type Server struct {
	tracker  *ingest.Tracker
	acc      *merkle.Accumulator
	roots    RootReader
	seq      *sequencer.Sequencer
	monitor  *safety.Monitor
	registry *gateway.Registry

	logger  *slog.Logger
	limiter *rate.Limiter
	maxBody int64
	httpSrv *http.Server
}

type ServerOption func(*Server)

func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l.With("component", "api") }
}

// WithRateLimit bounds the request rate across all routes.
func WithRateLimit(perSecond float64, burst int) ServerOption {
	return func(s *Server) {
		if perSecond > 0 && burst > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithMaxBodyBytes bounds request body size.
func WithMaxBodyBytes(n int64) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

func NewServer(
	addr string,
	tracker *ingest.Tracker,
	acc *merkle.Accumulator,
	roots RootReader,
	seq *sequencer.Sequencer,
	monitor *safety.Monitor,
	registry *gateway.Registry,
	opts ...ServerOption,
) *Server {
	s := &Server{
		tracker:  tracker,
		acc:      acc,
		roots:    roots,
		seq:      seq,
		monitor:  monitor,
		registry: registry,
		logger:   slog.Default().With("component", "api"),
		limiter:  rate.NewLimiter(rate.Limit(50), 100),
		maxBody:  defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /health", s.handle("/health", s.handleHealth))
	mux.Handle("GET /v1/status", s.handle("/v1/status", s.handleStatus))
	mux.Handle("GET /v1/proof", s.handle("/v1/proof", s.handleProof))
	mux.Handle("POST /v1/verify-state", s.handle("/v1/verify-state", s.handleVerifyState))
	mux.Handle("GET /v1/roots", s.handle("/v1/roots", s.handleRoots))
	mux.Handle("POST /v1/execute", s.handle("/v1/execute", s.handleExecute))
	mux.Handle("GET /v1/services", s.handle("/v1/services", s.handleServices))
	mux.Handle("POST /v1/simulate", s.handle("/v1/simulate", s.handleSimulate))
	mux.Handle("GET /v1/direct-exit", s.handle("/v1/direct-exit", s.handleDirectExit))
	mux.Handle("GET /v1/metrics", s.handle("/v1/metrics", s.handleMetricsSnapshot))
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	s.logger.Info("api server stopped")
	return ctx.Err()
}

// Handler exposes the routed handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}
