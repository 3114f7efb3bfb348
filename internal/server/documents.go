package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/embedgate/internal/models"
	"github.com/hyperjump/embedgate/internal/storage"
)

const (
	defaultDocumentLimit = 50
	maxDocumentLimit     = 500
)

type chunkResponse struct {
	ID         string    `json:"id"`
	Index      int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	Embedding  []float32 `json:"embedding,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type documentResponse struct {
	*models.Document
	Chunks []chunkResponse `json:"chunks"`
}

// handleDocumentsList lists ingested documents. With ?path= it returns the
// single document ingested from that path.
func (s *Server) handleDocumentsList(w http.ResponseWriter, r *http.Request) {
	if s.documents == nil {
		s.respondError(w, http.StatusNotImplemented, "document store not enabled")
		return
	}
	ctx := r.Context()
	if path := r.URL.Query().Get("path"); path != "" {
		doc, err := s.documents.GetDocumentByPath(ctx, path)
		if err != nil {
			s.respondStorageError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": []*models.Document{doc}})
		return
	}

	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.respondError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	limit, err := queryInt(r, "limit", defaultDocumentLimit)
	if err != nil || limit < 1 || limit > maxDocumentLimit {
		s.respondError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxDocumentLimit))
		return
	}
	docs, err := s.documents.ListDocuments(ctx, offset, limit)
	if err != nil {
		s.respondStorageError(w, err)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"offset":    offset,
		"limit":     limit,
	})
}

// handleDocument returns one document with its chunks. Vectors are included
// only with ?embeddings=true.
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	if s.documents == nil {
		s.respondError(w, http.StatusNotImplemented, "document store not enabled")
		return
	}
	ctx := r.Context()
	doc, err := s.documents.GetDocument(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.respondStorageError(w, err)
		return
	}
	chunks, err := s.documents.GetChunks(ctx, doc.ID)
	if err != nil {
		s.respondStorageError(w, err)
		return
	}
	withVectors := r.URL.Query().Get("embeddings") == "true"
	resp := documentResponse{Document: doc, Chunks: make([]chunkResponse, 0, len(chunks))}
	for _, c := range chunks {
		cr := chunkResponse{
			ID:         c.ID,
			Index:      c.Index,
			Content:    c.Content,
			Provider:   c.Provider,
			Model:      c.Model,
			Dimensions: c.Dimensions,
			CreatedAt:  c.CreatedAt,
		}
		if withVectors {
			cr.Embedding = c.Embedding
		}
		resp.Chunks = append(resp.Chunks, cr)
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondStorageError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.logger.Error("document store request failed", zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, "internal error")
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
