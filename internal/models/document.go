// Package models defines the ingested document and chunk records.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"time"
)

const docIDPrefix = "file:"

// Document is one ingested file. Size and ModTime identify the version that
// was embedded so unchanged files can be skipped.
type Document struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Title      string    `json:"title"`
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"mod_time"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Unchanged reports whether the file described by size and modTime is the
// version already stored.
func (d *Document) Unchanged(size int64, modTime time.Time) bool {
	return d != nil && d.Size == size && d.ModTime.Equal(modTime)
}

// Chunk is a piece of a document together with the embedding that was
// computed for it and the provider/model that served it.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Index      int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	CreatedAt  time.Time `json:"created_at"`
}

// DocumentID returns a stable document ID for the given absolute path.
func DocumentID(absolutePath string) string {
	hash := sha256.Sum256([]byte(filepath.Clean(absolutePath)))
	return docIDPrefix + hex.EncodeToString(hash[:])
}
