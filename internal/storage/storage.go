// Package storage persists ingested documents and their chunk embeddings.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/embedgate/internal/models"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("not found")

// Store is the sink written by the ingester.
type Store interface {
	// ReplaceDocument writes doc and replaces all of its chunks atomically.
	ReplaceDocument(ctx context.Context, doc *models.Document, chunks []*models.Chunk) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetDocumentByPath(ctx context.Context, path string) (*models.Document, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)
	// DeleteDocument removes doc and its chunks. Deleting a missing document is not an error.
	DeleteDocument(ctx context.Context, id string) error

	GetChunks(ctx context.Context, docID string) ([]*models.Chunk, error)

	CountDocuments(ctx context.Context) (int, error)
	CountChunks(ctx context.Context) (int, error)
	SizeBytes() (int64, error)

	Close() error
}
