package domain

import (
	"context"
	"math"
	"time"
)

// Document represents a single corpus file after text extraction.
type Document struct {
	ID          string
	Name        string // base filename, used as the citation source
	Path        string // absolute path
	Content     string
	Fingerprint uint64
	ModTime     time.Time
}

// Chunk is a window of document text used as the unit of retrieval.
// Start and End are rune offsets into the source document.
type Chunk struct {
	DocumentID string
	ChunkID    string
	Source     string
	Path       string
	Text       string
	Index      int
	Start      int
	End        int
}

// Len returns the chunk length in runes.
func (c Chunk) Len() int { return c.End - c.Start }

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk   Chunk
	Source  string
	Content string
	Score   float64
}

// Map returns the result as a plain map with the score rounded to four places.
func (r SearchResult) Map() map[string]any {
	return map[string]any{
		"source":  r.Source,
		"content": r.Content,
		"score":   math.Round(r.Score*1e4) / 1e4,
	}
}

// Stats summarises the state of the index.
type Stats struct {
	TotalChunks int      `json:"total_chunks"`
	TotalFiles  int      `json:"total_files"`
	Files       []string `json:"files"`
	Indexed     bool     `json:"indexed"`
}

// Vector is a sparse vector with strictly increasing indices.
type Vector struct {
	Indices []int
	Values  []float64
}

// Dot returns the inner product of two sparse vectors.
func (v Vector) Dot(o Vector) float64 {
	sum := 0.0
	i, j := 0, 0
	for i < len(v.Indices) && j < len(o.Indices) {
		switch {
		case v.Indices[i] == o.Indices[j]:
			sum += v.Values[i] * o.Values[j]
			i++
			j++
		case v.Indices[i] < o.Indices[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// Norm returns the L2 norm of the vector.
func (v Vector) Norm() float64 {
	sum := 0.0
	for _, x := range v.Values {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// IsZero reports whether the vector has no non-zero component.
func (v Vector) IsZero() bool {
	for _, x := range v.Values {
		if x != 0 {
			return false
		}
	}
	return true
}

// SkipReason explains why a corpus file contributed no document.
type SkipReason int

const (
	SkipNone SkipReason = iota
	SkipUnreadable
	SkipUnsupported
	SkipEmpty
)

func (r SkipReason) String() string {
	switch r {
	case SkipNone:
		return "none"
	case SkipUnreadable:
		return "unreadable"
	case SkipUnsupported:
		return "unsupported"
	case SkipEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// FileReport records the outcome of loading a single corpus file.
type FileReport struct {
	Path        string
	Name        string
	Reason      SkipReason
	Err         error
	Chunks      int
	Fingerprint uint64
}

// Skipped reports whether the file was left out of the index.
func (f FileReport) Skipped() bool { return f.Reason != SkipNone }

// BuildReport aggregates the outcome of one index build or refresh.
type BuildReport struct {
	Files       []FileReport
	ChunksAdded int
	TotalChunks int
	Refit       bool
	Duration    time.Duration
}

// Indexed returns the number of files that were loaded successfully.
func (b BuildReport) Indexed() int {
	n := 0
	for _, f := range b.Files {
		if !f.Skipped() {
			n++
		}
	}
	return n
}

// Skipped returns the reports of files left out of the index.
func (b BuildReport) Skipped() []FileReport {
	var out []FileReport
	for _, f := range b.Files {
		if f.Skipped() {
			out = append(out, f)
		}
	}
	return out
}

// Loader discovers and extracts corpus documents under a root directory.
// Paths present in seen are not loaded again.
type Loader interface {
	Walk(ctx context.Context, root string, seen map[string]struct{}) ([]Document, []FileReport, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) []Chunk
}

// Vectorizer maps text into a fitted vector space.
type Vectorizer interface {
	FitTransform(corpus []string) ([]Vector, error)
	Transform(text string) Vector
	Dimension() int
	Fitted() bool
}

// VectorStore holds chunk vectors and supports similarity search.
type VectorStore interface {
	Init(dimension int) error
	Upsert(chunks []Chunk, vectors []Vector) error
	Search(vector Vector, topK int) ([]SearchResult, error)
	Clear() error
	Len() int
}
