package chunker

import (
	"strconv"

	"copilot/internal/domain"
)

// WindowChunker splits text into fixed-length overlapping windows counted in runes.
type WindowChunker struct {
	size      int
	overlap   int
	minLength int
}

// NewWindowChunker creates a chunker. An overlap at or beyond size leaves a step of one.
func NewWindowChunker(size, overlap, minLength int) *WindowChunker {
	if size <= 0 {
		size = 200
	}
	if overlap < 0 {
		overlap = 0
	}
	if minLength < 0 {
		minLength = 0
	}
	return &WindowChunker{size: size, overlap: overlap, minLength: minLength}
}

// Step returns the distance between consecutive window starts.
func (c *WindowChunker) Step() int {
	if step := c.size - c.overlap; step > 1 {
		return step
	}
	return 1
}

// Windows returns the [start, end) rune ranges of every candidate window for a
// text of n runes, before the minimum length filter. The last window is the
// first one that reaches the end of the text.
func (c *WindowChunker) Windows(n int) [][2]int {
	if n == 0 {
		return nil
	}
	step := c.Step()
	var out [][2]int
	for start := 0; ; start += step {
		end := min(start+c.size, n)
		out = append(out, [2]int{start, end})
		if end == n {
			break
		}
	}
	return out
}

// Chunk splits the document content. Windows not longer than the minimum length
// are dropped, so a short trailing fragment never becomes a chunk.
func (c *WindowChunker) Chunk(document domain.Document) []domain.Chunk {
	runes := []rune(document.Content)
	var chunks []domain.Chunk
	for _, w := range c.Windows(len(runes)) {
		if w[1]-w[0] <= c.minLength {
			continue
		}
		idx := len(chunks)
		chunks = append(chunks, domain.Chunk{
			DocumentID: document.ID,
			ChunkID:    document.ID + ":" + strconv.Itoa(idx),
			Source:     document.Name,
			Path:       document.Path,
			Text:       string(runes[w[0]:w[1]]),
			Index:      idx,
			Start:      w[0],
			End:        w[1],
		})
	}
	return chunks
}
