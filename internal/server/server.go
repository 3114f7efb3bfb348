// Package server provides the HTTP API for embedgate.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/embedgate/internal/config"
	"github.com/hyperjump/embedgate/internal/gateway"
	"github.com/hyperjump/embedgate/internal/metrics"
	"github.com/hyperjump/embedgate/internal/models"
	"github.com/hyperjump/embedgate/pkg/utils"
)

// Version is reported by /health.
var Version = "dev"

// WatchService manages the directories fed to the ingester.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// StatusSource reports the size of the ingestion store.
type StatusSource interface {
	CountDocuments(ctx context.Context) (int, error)
	CountChunks(ctx context.Context) (int, error)
	SizeBytes() (int64, error)
}

// DocumentReader serves ingested documents and their chunks.
type DocumentReader interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetDocumentByPath(ctx context.Context, path string) (*models.Document, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)
	GetChunks(ctx context.Context, docID string) ([]*models.Chunk, error)
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves the collector on the configured metrics path.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithStatusSource enables the ingestion counts on /api/v1/status.
func WithStatusSource(src StatusSource) Option {
	return func(s *Server) {
		s.storage = src
	}
}

// WithDocuments enables the /api/v1/documents endpoints.
func WithDocuments(dr DocumentReader) Option {
	return func(s *Server) {
		s.documents = dr
	}
}

// WithWatch enables the watch directory admin endpoints. When configPath is
// set, directory changes are persisted to it.
func WithWatch(ws WatchService, configPath string) Option {
	return func(s *Server) {
		s.watch = ws
		s.configPath = configPath
	}
}

// Server is the HTTP server for the embedgate API.
type Server struct {
	gateway    *gateway.Gateway
	metrics    *metrics.Collector
	storage    StatusSource
	documents  DocumentReader
	watch      WatchService
	config     *config.Config
	configPath string
	configMu   sync.Mutex
	logger     *zap.Logger
	server     *http.Server
	apiKeys    map[string]struct{}
	adminKeys  map[string]struct{}
}

// NewServer creates a server with the given dependencies.
func NewServer(gw *gateway.Gateway, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		gateway:   gw,
		config:    cfg,
		logger:    utils.OrNop(logger),
		apiKeys:   keySet(cfg.Auth.APIKeys),
		adminKeys: keySet(cfg.Auth.AdminKeys),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil && s.config.Metrics.IsEnabled() {
		r.Handle(s.config.Metrics.Path, s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/embed", s.handleEmbed)
		r.Post("/embed/batch", s.handleEmbedBatch)
		r.Get("/providers", s.handleProviders)
		r.Get("/providers/{name}/status", s.handleProviderStatus)
		r.Get("/usage", s.handleUsage)
		r.Get("/status", s.handleStatus)
		r.Get("/documents", s.handleDocumentsList)
		r.Get("/documents/{id}", s.handleDocument)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/stats", s.handleAdminStats)
			r.Get("/cache/info", s.handleCacheInfo)
			r.Post("/cache/clear", s.handleCacheClear)
			r.Get("/watch/directories", s.handleWatchDirectoriesList)
			r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
			r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server",
		zap.String("addr", addr),
		zap.Bool("auth", s.config.Auth.Enabled()),
		zap.String("default_provider", s.gateway.DefaultProvider()))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("http_request_id", middleware.GetReqID(r.Context())),
			zap.Duration("duration", time.Since(start)))
	})
}

func keySet(keys []string) map[string]struct{} {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}
