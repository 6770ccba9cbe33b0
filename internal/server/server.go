package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hoshu-ai/hoshu/internal/model"
	"github.com/hoshu-ai/hoshu/internal/service/aggregate"
	"github.com/hoshu-ai/hoshu/internal/service/dataset"
	"github.com/hoshu-ai/hoshu/internal/service/metrics"
	"github.com/hoshu-ai/hoshu/internal/service/reward"
)

// WeightStore is the weight-config storage surface the handlers need.
type WeightStore interface {
	CreateWeightConfig(ctx context.Context, cfg model.WeightConfig) error
	GetWeightConfig(ctx context.Context, version string) (model.WeightConfig, error)
	ListWeightConfigs(ctx context.Context) ([]model.WeightConfig, error)
}

// HandlersDeps holds all dependencies for the HTTP handlers.
// PromHandler and Health are optional (nil = disabled).
type HandlersDeps struct {
	Aggregator  *aggregate.Aggregator
	RewardSvc   *reward.Service
	Builder     *dataset.Builder
	Tracker     *metrics.Tracker
	WeightStore WeightStore
	Logger      *slog.Logger

	// Health probes the backing store for /health.
	Health func(ctx context.Context) error

	DefaultHalfLife time.Duration
	Version         string
}

// Server is the pipeline HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// ServerConfig holds dependencies and settings for creating a Server.
type ServerConfig struct {
	Deps HandlersDeps

	// PromHandler serves the Prometheus scrape endpoint when set.
	PromHandler http.Handler

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64
	Logger              *slog.Logger
}

// New creates an HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(cfg.Deps)

	mux := http.NewServeMux()

	// Aggregation and scoring.
	mux.HandleFunc("POST /v1/rewards/aggregate", h.HandleAggregate)
	mux.HandleFunc("POST /v1/rewards/compute", h.HandleComputeRewards)

	// Dataset lifecycle.
	mux.HandleFunc("POST /v1/datasets", h.HandleBuildDataset)
	mux.HandleFunc("GET /v1/datasets", h.HandleListDatasets)
	mux.HandleFunc("GET /v1/datasets/{version_id}", h.HandleGetDataset)
	mux.HandleFunc("POST /v1/datasets/{version_id}/archive", h.HandleArchiveDataset)

	// Rolling reward metrics.
	mux.HandleFunc("GET /v1/metrics/summary", h.HandleMetricsSummary)
	mux.HandleFunc("GET /v1/metrics/timeseries", h.HandleMetricsTimeseries)

	// Weight configuration.
	mux.HandleFunc("POST /v1/weights", h.HandleCreateWeightConfig)
	mux.HandleFunc("GET /v1/weights", h.HandleListWeightConfigs)
	mux.HandleFunc("GET /v1/weights/{version}", h.HandleGetWeightConfig)

	// Raw feedback lookup.
	mux.HandleFunc("GET /v1/conversations/{conversation_id}/feedback", h.HandleConversationFeedback)

	// Health and scrape endpoints (no body limit, no tracing noise needed).
	mux.HandleFunc("GET /health", h.HandleHealth)
	if cfg.PromHandler != nil {
		mux.Handle("GET /metrics", cfg.PromHandler)
	}

	// Middleware chain (outermost executes first):
	// request ID -> tracing -> logging -> body limit -> recovery -> handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	if cfg.MaxRequestBodyBytes > 0 {
		handler = maxBytesMiddleware(cfg.MaxRequestBodyBytes, handler)
	}
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// maxBytesMiddleware caps request body size.
func maxBytesMiddleware(limit int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
