// Package service implements the retrieval engine: it indexes a corpus
// directory into overlapping chunks, fits a character n-gram TF-IDF space
// over them and answers free-text queries by cosine similarity.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"copilot/internal/chunker"
	"copilot/internal/config"
	"copilot/internal/domain"
	"copilot/internal/loader"
	"copilot/internal/vectorizer"
	"copilot/internal/vectorstore/memory"
)

// Engine owns one index over a corpus directory. Queries may run in parallel;
// a refresh swaps the vector space and matrix as a unit under the write lock.
type Engine struct {
	cfg       config.RAGConfig
	corpusDir string
	loader    domain.Loader
	chunker   domain.Chunker
	logger    *slog.Logger

	group singleflight.Group

	mu           sync.RWMutex
	built        bool
	documents    []string
	filenames    []string
	chunks       []domain.Chunk
	indexedFiles map[string]struct{}
	vectorizer   domain.Vectorizer
	store        *memory.Storage
	lastReport   domain.BuildReport
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithLoader replaces the corpus loader.
func WithLoader(l domain.Loader) Option {
	return func(e *Engine) { e.loader = l }
}

// WithChunker replaces the window chunker built from the configuration.
func WithChunker(c domain.Chunker) Option {
	return func(e *Engine) { e.chunker = c }
}

// NewEngine validates cfg and returns an engine over corpusDir. Nothing is
// indexed until the first read operation or an explicit Refresh.
func NewEngine(cfg config.RAGConfig, corpusDir string, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	e := &Engine{
		cfg:          cfg,
		corpusDir:    corpusDir,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		indexedFiles: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.loader == nil {
		e.loader = loader.New(loader.WithLogger(e.logger))
	}
	if e.chunker == nil {
		e.chunker = chunker.NewWindowChunker(cfg.ChunkSize, cfg.ChunkOverlap, cfg.MinChunkLength)
	}
	return e, nil
}

// CorpusDir returns the directory the engine indexes.
func (e *Engine) CorpusDir() string { return e.corpusDir }

// Ensure builds the index unless a build has already completed. When the
// build fails, or ctx ends before it finishes, the error is returned and the
// next call checks again.
func (e *Engine) Ensure(ctx context.Context) error {
	e.mu.RLock()
	built := e.built
	e.mu.RUnlock()
	if built {
		return nil
	}
	_, err := e.Refresh(ctx)
	return err
}

// Refresh indexes files that appeared since the last build and, when any
// chunk was added, refits the whole vector space. Concurrent calls share one
// run. A caller whose ctx ends stops waiting, but the shared run completes for
// the others.
func (e *Engine) Refresh(ctx context.Context) (domain.BuildReport, error) {
	if err := ctx.Err(); err != nil {
		return domain.BuildReport{}, err
	}
	ch := e.group.DoChan("refresh", func() (any, error) {
		return e.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return domain.BuildReport{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.BuildReport{}, res.Err
		}
		return res.Val.(domain.BuildReport), nil
	}
}

func (e *Engine) refresh(ctx context.Context) (domain.BuildReport, error) {
	begin := time.Now()

	e.mu.RLock()
	seen := make(map[string]struct{}, len(e.indexedFiles))
	for path := range e.indexedFiles {
		seen[path] = struct{}{}
	}
	fitted := e.vectorizer != nil
	chunks := append([]domain.Chunk(nil), e.chunks...)
	e.mu.RUnlock()

	docs, reports, err := e.loader.Walk(ctx, e.corpusDir, seen)
	if err != nil {
		return domain.BuildReport{}, fmt.Errorf("load corpus: %w", err)
	}

	perFile := make(map[string]int, len(docs))
	added := 0
	for _, doc := range docs {
		cs := e.chunker.Chunk(doc)
		perFile[doc.Path] = len(cs)
		added += len(cs)
		chunks = append(chunks, cs...)
	}
	for i := range reports {
		reports[i].Chunks = perFile[reports[i].Path]
	}

	rep := domain.BuildReport{Files: reports, ChunksAdded: added, TotalChunks: len(chunks)}
	var (
		vz    *vectorizer.Vectorizer
		store *memory.Storage
	)
	if added > 0 || (!fitted && len(chunks) > 0) {
		vz, store, err = e.fit(chunks)
		if err != nil && !errors.Is(err, vectorizer.ErrEmptyCorpus) {
			return domain.BuildReport{}, err
		}
		if err != nil {
			e.logger.Warn("no indexable n-grams in corpus", "dir", e.corpusDir, "chunks", len(chunks))
		}
		rep.Refit = vz != nil
	}

	documents := make([]string, len(chunks))
	filenames := make([]string, len(chunks))
	for i, ch := range chunks {
		documents[i] = ch.Text
		filenames[i] = ch.Source
	}
	rep.Duration = time.Since(begin)

	e.mu.Lock()
	e.chunks, e.documents, e.filenames = chunks, documents, filenames
	for _, r := range reports {
		e.indexedFiles[r.Path] = struct{}{}
	}
	if rep.Refit {
		e.vectorizer, e.store = vz, store
	}
	e.lastReport = rep
	e.built = true
	files := len(e.indexedFiles)
	e.mu.Unlock()

	for _, r := range rep.Skipped() {
		e.logger.Debug("file skipped", "file", r.Name, "reason", r.Reason.String())
	}
	e.logger.Info("RAG engine indexed",
		"chunks", rep.TotalChunks,
		"added", rep.ChunksAdded,
		"files", files,
		"refit", rep.Refit,
		"duration", rep.Duration,
	)
	return rep, nil
}

// fit builds a fresh vector space and matrix over every chunk.
func (e *Engine) fit(chunks []domain.Chunk) (*vectorizer.Vectorizer, *memory.Storage, error) {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vz := vectorizer.New(e.cfg.NgramRange[0], e.cfg.NgramRange[1])
	vectors, err := vz.FitTransform(texts)
	if err != nil {
		return nil, nil, err
	}
	store := memory.NewStorage()
	if err := store.Init(vz.Dimension()); err != nil {
		return nil, nil, err
	}
	if err := store.Upsert(chunks, vectors); err != nil {
		return nil, nil, err
	}
	return vz, store, nil
}

// Query returns up to topK chunks scoring strictly above the similarity
// threshold, best first. A topK of zero or less uses the configured default.
// An empty or unbuilt index yields no results.
func (e *Engine) Query(ctx context.Context, text string, topK int) []domain.SearchResult {
	if err := e.Ensure(ctx); err != nil {
		e.logger.Error("index unavailable", "error", err)
		return nil
	}
	if topK <= 0 {
		topK = e.cfg.TopK
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.vectorizer == nil || len(e.documents) == 0 {
		return nil
	}

	vec := e.vectorizer.Transform(CleanQuery(text))
	hits, err := e.store.Search(vec, topK)
	if err != nil {
		e.logger.Error("search failed", "error", err)
		return nil
	}
	var results []domain.SearchResult
	for _, h := range hits {
		if h.Score <= e.cfg.SimilarityThreshold {
			continue
		}
		h.Content = strings.TrimSpace(h.Content)
		results = append(results, h)
	}
	return results
}

// GenerateResponse answers text with a formatted list of sources, or a
// not-found message when nothing relevant was retrieved.
func (e *Engine) GenerateResponse(ctx context.Context, text string) string {
	resp, _ := e.Answer(ctx, text)
	return resp
}

// Answer runs a single query and returns the formatted response together
// with the results it cites.
func (e *Engine) Answer(ctx context.Context, text string) (string, []domain.SearchResult) {
	results := e.Query(ctx, text, 0)
	if len(results) == 0 {
		return FormatNotFound(text, e.corpusDir), nil
	}
	return FormatResults(text, results), results
}

// Stats reports the size of the index, building it first if needed.
func (e *Engine) Stats(ctx context.Context) domain.Stats {
	_ = e.Ensure(ctx)

	e.mu.RLock()
	defer e.mu.RUnlock()
	distinct := make(map[string]struct{})
	for _, f := range e.filenames {
		distinct[f] = struct{}{}
	}
	files := make([]string, 0, len(distinct))
	for f := range distinct {
		files = append(files, f)
	}
	sort.Strings(files)
	return domain.Stats{
		TotalChunks: len(e.documents),
		TotalFiles:  len(files),
		Files:       files,
		Indexed:     e.vectorizer != nil,
	}
}

// LastReport returns the report of the most recent build.
func (e *Engine) LastReport() domain.BuildReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastReport
}

// Documents returns the indexed chunk texts; position is the chunk ID.
func (e *Engine) Documents() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.documents...)
}

// Filenames returns the source filename of every chunk, parallel to Documents.
func (e *Engine) Filenames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.filenames...)
}

// Chunks returns the indexed chunks with their offsets.
func (e *Engine) Chunks() []domain.Chunk {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]domain.Chunk(nil), e.chunks...)
}

// ChunkVectors returns the matrix rows, parallel to Documents.
func (e *Engine) ChunkVectors() []domain.Vector {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.store == nil {
		return nil
	}
	return e.store.Vectors()
}
