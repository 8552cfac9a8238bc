// Package chunker flattens materialized entity graphs into ordered,
// overlapping, size-bounded text chunks carrying provenance metadata.
//
// Chunk boundaries fall on whitespace (never mid-word), and every chunk
// after the first starts a fixed overlap before the previous chunk's end,
// so adjacent chunks share a contiguous region of text.
package chunker

import (
	"time"
	"unicode/utf8"

	"github.com/dhaniverse/contrag/internal/config"
	"github.com/dhaniverse/contrag/internal/errs"
	"github.com/dhaniverse/contrag/internal/graph"
)

// ContextChunk is one retrieval-ready fragment of a serialized graph.
type ContextChunk struct {
	Content    string `json:"content"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`

	// RelatedEntityTypes is the set of entity types appearing anywhere in
	// the source graph, not just in this chunk's slice of text.
	RelatedEntityTypes []string `json:"related_entity_types,omitempty"`

	ChunkIndex  int        `json:"chunk_index"`
	TotalChunks int        `json:"total_chunks"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

// Chunker serializes and splits entity graphs per one chunking config.
type Chunker struct {
	cfg config.ChunkingConfig
}

// New validates the chunking configuration and returns a Chunker.
// An overlap that is not strictly smaller than the chunk size is a
// configuration error, raised here — before any fetch is attempted.
func New(cfg config.ChunkingConfig) (*Chunker, error) {
	if cfg.ChunkSize <= 0 {
		return nil, errs.New(errs.ErrKindConfig, "chunk size must be greater than zero")
	}
	if cfg.Overlap < 0 {
		return nil, errs.New(errs.ErrKindConfig, "overlap must not be negative")
	}
	if cfg.Overlap >= cfg.ChunkSize {
		return nil, errs.Newf(errs.ErrKindConfig,
			"overlap (%d) must be less than chunk size (%d)", cfg.Overlap, cfg.ChunkSize)
	}
	return &Chunker{cfg: cfg}, nil
}

// Chunk serializes node and splits the text into overlapping chunks, each
// tagged with the root's identity, the related entity types of the whole
// graph, its position, and the root's provenance timestamp.
func (c *Chunker) Chunk(node *graph.EntityNode) ([]ContextChunk, error) {
	pieces := c.Split(c.Serialize(node))

	related := node.RelatedEntityTypes()
	chunks := make([]ContextChunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = ContextChunk{
			Content:            piece,
			EntityType:         node.EntityType,
			EntityID:           node.ID,
			RelatedEntityTypes: related,
			ChunkIndex:         i,
			TotalChunks:        len(pieces),
			Timestamp:          node.Provenance.Timestamp,
		}
	}
	return chunks, nil
}

// Split cuts text into pieces of at most ChunkSize characters, breaking at
// whitespace and re-winding each successive window by Overlap characters.
// Text no longer than ChunkSize yields exactly one piece.
func (c *Chunker) Split(text string) []string {
	size := c.cfg.ChunkSize
	overlap := c.cfg.Overlap

	if len(text) <= size {
		return []string{text}
	}

	var pieces []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			pieces = append(pieces, text[start:])
			break
		}

		cut := wordBoundary(text, start, end)
		pieces = append(pieces, text[start:cut])

		next := runeStart(text, cut-overlap)
		if next <= start {
			// Degenerate window (boundary landed inside the overlap):
			// advance without overlap so the walk always makes progress.
			next = cut
		}
		start = next
	}
	return pieces
}

// wordBoundary finds the last whitespace boundary in (start, limit], so
// the cut never lands mid-word. When the window contains no whitespace at
// all (one very long word), it hard-cuts at the limit, backed up so the
// cut never splits a multibyte rune.
func wordBoundary(text string, start, limit int) int {
	for i := limit; i > start; i-- {
		if isSpace(text[i-1]) {
			return i
		}
	}

	cut := runeStart(text, limit)
	if cut <= start {
		// The window is narrower than the rune at start. Cut after it.
		_, n := utf8.DecodeRuneInString(text[start:])
		return start + n
	}
	return cut
}

// runeStart backs i up to the start of the rune it points into.
func runeStart(text string, i int) int {
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
