// Package ingest embeds files from watched directories through the gateway
// and writes the resulting chunk vectors to storage.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/embedgate/internal/extract"
	"github.com/hyperjump/embedgate/internal/gateway"
	"github.com/hyperjump/embedgate/internal/models"
	"github.com/hyperjump/embedgate/internal/ratelimit"
	"github.com/hyperjump/embedgate/internal/storage"
	"github.com/hyperjump/embedgate/pkg/utils"
)

// Embedder is the slice of the gateway the ingester needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, req gateway.BatchRequest) (*gateway.BatchResponse, error)
}

// Config holds ingestion settings.
type Config struct {
	// Identity is the rate-limit identity ingestion runs under.
	Identity   string
	Provider   string
	Model      string
	Extensions []string

	ChunkSize    int
	ChunkOverlap int

	// BatchesPerSecond paces EmbedBatch calls. Zero disables pacing.
	BatchesPerSecond float64
	// MaxRetry bounds the total time spent retrying a rate-limited batch.
	MaxRetry time.Duration
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Ingester) { in.logger = utils.OrNop(l) }
}

// WithBackOff overrides the retry policy factory. Used by tests.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(in *Ingester) { in.newBackOff = newBackOff }
}

// Ingester extracts, chunks and embeds files.
type Ingester struct {
	embedder   Embedder
	store      storage.Store
	extractor  *extract.Extractor
	chunker    *Chunker
	pacer      *rate.Limiter
	newBackOff func() backoff.BackOff
	cfg        Config
	logger     *zap.Logger

	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	sync.Mutex
	refs int
}

// Outcome reports what IngestFile did.
type Outcome string

const (
	OutcomeIngested  Outcome = "ingested"
	OutcomeUnchanged Outcome = "unchanged"
)

// New creates an ingester.
func New(embedder Embedder, store storage.Store, extractor *extract.Extractor, cfg Config, opts ...Option) *Ingester {
	in := &Ingester{
		embedder:  embedder,
		store:     store,
		extractor: extractor,
		chunker:   NewChunker(cfg.ChunkSize, cfg.ChunkOverlap, gateway.MaxTextLength),
		cfg:       cfg,
		logger:    zap.NewNop(),
		locks:     make(map[string]*pathLock),
	}
	if cfg.BatchesPerSecond > 0 {
		in.pacer = rate.NewLimiter(rate.Limit(cfg.BatchesPerSecond), 1)
	}
	in.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Second
		b.MaxInterval = 30 * time.Second
		b.MaxElapsedTime = cfg.MaxRetry
		return b
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// IngestFile embeds the file at path and replaces its stored chunks. Files
// whose size and modification time match the stored document are skipped.
func (in *Ingester) IngestFile(ctx context.Context, path string) (Outcome, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	if !matchExtension(absPath, in.cfg.Extensions) {
		return "", fmt.Errorf("extension %q not in allowed list", filepath.Ext(absPath))
	}
	unlock := in.lock(absPath)
	defer unlock()

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("not a regular file: %s", absPath)
	}

	docID := models.DocumentID(absPath)
	existing, err := in.store.GetDocument(ctx, docID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("load document: %w", err)
	}
	if existing.Unchanged(info.Size(), info.ModTime()) {
		in.logger.Debug("ingest skipping unchanged file", zap.String("path", absPath))
		return OutcomeUnchanged, nil
	}

	text, err := in.extractor.Extract(absPath)
	if err != nil {
		return "", fmt.Errorf("extract content: %w", err)
	}
	pieces := in.chunker.Split(text)
	chunks, err := in.embed(ctx, pieces)
	if err != nil {
		return "", err
	}

	doc := &models.Document{
		ID:      docID,
		Path:    absPath,
		Title:   filepath.Base(absPath),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := in.store.ReplaceDocument(ctx, doc, chunks); err != nil {
		return "", fmt.Errorf("store document: %w", err)
	}
	in.logger.Info("ingested file",
		zap.String("path", absPath),
		zap.String("doc_id", docID),
		zap.Int("chunks", len(chunks)))
	return OutcomeIngested, nil
}

// IngestDirectory ingests every matching regular file under dir. It returns
// the number of files ingested or found unchanged and the first error. Files
// the extractor rejects as too large are logged and skipped.
func (in *Ingester) IngestDirectory(ctx context.Context, dir string) (int, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	n := 0
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !matchExtension(path, in.cfg.Extensions) {
			return nil
		}
		if _, err := in.IngestFile(ctx, path); err != nil {
			if errors.Is(err, extract.ErrTooLarge) {
				in.logger.Warn("ingest skipping large file", zap.String("path", path), zap.Error(err))
				return nil
			}
			return fmt.Errorf("%s: %w", path, err)
		}
		n++
		return nil
	})
	return n, err
}

// RemoveFile deletes the document ingested from path.
func (in *Ingester) RemoveFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	unlock := in.lock(absPath)
	defer unlock()
	if err := in.store.DeleteDocument(ctx, models.DocumentID(absPath)); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	in.logger.Info("removed file", zap.String("path", absPath))
	return nil
}

// embed sends pieces to the gateway in batches of at most MaxBatchSize.
func (in *Ingester) embed(ctx context.Context, pieces []string) ([]*models.Chunk, error) {
	chunks := make([]*models.Chunk, 0, len(pieces))
	for start := 0; start < len(pieces); start += gateway.MaxBatchSize {
		end := start + gateway.MaxBatchSize
		if end > len(pieces) {
			end = len(pieces)
		}
		resp, err := in.embedBatch(ctx, pieces[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
		}
		for i, vec := range resp.Embeddings {
			chunks = append(chunks, &models.Chunk{
				ID:         uuid.NewString(),
				Index:      start + i,
				Content:    pieces[start+i],
				Embedding:  vec,
				Provider:   resp.Provider,
				Model:      resp.Model,
				Dimensions: len(vec),
			})
		}
	}
	return chunks, nil
}

// embedBatch retries only rate-limit rejections, waiting at least as long as
// the limiter asks.
func (in *Ingester) embedBatch(ctx context.Context, texts []string) (*gateway.BatchResponse, error) {
	req := gateway.BatchRequest{
		Identity: in.cfg.Identity,
		Texts:    texts,
		Model:    in.cfg.Model,
		Provider: in.cfg.Provider,
		UseCache: true,
	}
	op := func() (*gateway.BatchResponse, error) {
		if in.pacer != nil {
			if err := in.pacer.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}
		resp, err := in.embedder.EmbedBatch(ctx, req)
		if err == nil {
			return resp, nil
		}
		var exceeded *ratelimit.ExceededError
		if !errors.As(err, &exceeded) {
			return nil, backoff.Permanent(err)
		}
		if wait := exceeded.RetryAfter(time.Now()); wait > 0 {
			select {
			case <-ctx.Done():
				return nil, backoff.Permanent(ctx.Err())
			case <-time.After(minDuration(wait, time.Minute)):
			}
		}
		return nil, err
	}
	notify := func(err error, d time.Duration) {
		in.logger.Debug("ingest batch rate limited, retrying", zap.Error(err), zap.Duration("backoff", d))
	}
	return backoff.RetryNotifyWithData(op, backoff.WithContext(in.newBackOff(), ctx), notify)
}

func (in *Ingester) lock(path string) func() {
	in.mu.Lock()
	l, ok := in.locks[path]
	if !ok {
		l = &pathLock{}
		in.locks[path] = l
	}
	l.refs++
	in.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		in.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(in.locks, path)
		}
		in.mu.Unlock()
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
