package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/embedgate/internal/config"
	"github.com/hyperjump/embedgate/internal/gateway"
	"github.com/hyperjump/embedgate/internal/provider"
	"github.com/hyperjump/embedgate/internal/ratelimit"
	"github.com/hyperjump/embedgate/pkg/utils"
)

type embedRequest struct {
	Text     string `json:"text"`
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`
	UseCache *bool  `json:"use_cache,omitempty"`
}

type embedBatchRequest struct {
	Texts    []string `json:"texts"`
	Model    string   `json:"model,omitempty"`
	Provider string   `json:"provider,omitempty"`
	UseCache *bool    `json:"use_cache,omitempty"`
}

func useCache(v *bool) bool {
	return v == nil || *v
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := s.gateway.Embed(r.Context(), gateway.Request{
		Identity: identityFrom(r.Context()),
		Text:     req.Text,
		Model:    req.Model,
		Provider: req.Provider,
		UseCache: useCache(req.UseCache),
	})
	if err != nil {
		s.respondGatewayError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEmbedBatch(w http.ResponseWriter, r *http.Request) {
	var req embedBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := s.gateway.EmbedBatch(r.Context(), gateway.BatchRequest{
		Identity: identityFrom(r.Context()),
		Texts:    req.Texts,
		Model:    req.Model,
		Provider: req.Provider,
		UseCache: useCache(req.UseCache),
	})
	if err != nil {
		s.respondGatewayError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"default_provider": s.gateway.DefaultProvider(),
		"providers":        s.gateway.ListProviders(r.Context()),
	})
}

func (s *Server) handleProviderStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.gateway.ProviderStatus(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.respondGatewayError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"provider":      info.Name,
		"available":     info.Available,
		"default_model": info.DefaultModel,
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.gateway.Usage(identityFrom(r.Context())))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	health := make(map[string]bool)
	status := "degraded"
	for _, p := range s.gateway.ListProviders(ctx) {
		health[p.Name] = p.Available
		if p.Available {
			status = "healthy"
		}
	}
	cacheInfo := s.gateway.CacheInfo(ctx)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":          status,
		"service":         utils.ServiceName,
		"version":         Version,
		"timestamp":       time.Now().UTC(),
		"cache_available": cacheInfo.Enabled && cacheInfo.Available,
		"providers":       health,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"default_provider": s.gateway.DefaultProvider(),
	}
	if s.storage != nil {
		ctx := r.Context()
		docCount, err := s.storage.CountDocuments(ctx)
		if err != nil {
			s.logger.Error("status: count documents failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		chunkCount, err := s.storage.CountChunks(ctx)
		if err != nil {
			s.logger.Error("status: count chunks failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["documents"] = docCount
		resp["chunks"] = chunkCount
		if size, err := s.storage.SizeBytes(); err == nil {
			resp["storage_bytes"] = size
		}
	}
	if s.watch != nil {
		resp["watched_directories"] = s.watch.Directories()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.gateway.Metrics())
}

func (s *Server) handleCacheInfo(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.gateway.CacheInfo(r.Context()))
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	removed := s.gateway.ClearCache(r.Context())
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "cleared", "removed": removed})
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// respondGatewayError maps gateway errors to status codes. Rate limit
// rejections carry the limit headers.
func (s *Server) respondGatewayError(w http.ResponseWriter, err error) {
	var (
		exceeded  *ratelimit.ExceededError
		allFailed *provider.AllFailedError
		callErr   *provider.CallError
	)
	switch {
	case errors.As(err, &exceeded):
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(exceeded.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(exceeded.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(exceeded.ResetAt.Unix(), 10))
		h.Set("Retry-After", strconv.Itoa(int(exceeded.RetryAfter(time.Now()).Seconds())))
		s.respondError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, gateway.ErrInvalidInput):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, provider.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &allFailed), errors.As(err, &callErr):
		s.respondError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
