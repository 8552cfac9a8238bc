package chunker

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhaniverse/contrag/internal/config"
	"github.com/dhaniverse/contrag/internal/errs"
	"github.com/dhaniverse/contrag/internal/graph"
)

func TestNew_ConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ChunkingConfig
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  config.ChunkingConfig{ChunkSize: 100, Overlap: 20},
		},
		{
			name:    "zero chunk size",
			cfg:     config.ChunkingConfig{ChunkSize: 0, Overlap: 0},
			wantErr: true,
		},
		{
			name:    "negative overlap",
			cfg:     config.ChunkingConfig{ChunkSize: 100, Overlap: -1},
			wantErr: true,
		},
		{
			name:    "overlap equals chunk size",
			cfg:     config.ChunkingConfig{ChunkSize: 100, Overlap: 100},
			wantErr: true,
		},
		{
			name:    "overlap exceeds chunk size",
			cfg:     config.ChunkingConfig{ChunkSize: 100, Overlap: 150},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errs.IsConfig(err))
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, c)
		})
	}
}

func TestSplit_ShortTextIsSinglePiece(t *testing.T) {
	c, err := New(config.ChunkingConfig{ChunkSize: 100, Overlap: 20})
	require.NoError(t, err)

	pieces := c.Split("short text")
	require.Len(t, pieces, 1)
	assert.Equal(t, "short text", pieces[0])
}

func TestSplit_ExactSizeIsSinglePiece(t *testing.T) {
	c, err := New(config.ChunkingConfig{ChunkSize: 10, Overlap: 2})
	require.NoError(t, err)

	pieces := c.Split("aaaa bbbb ")
	require.Len(t, pieces, 1)
}

func TestSplit_BoundariesAndOverlap(t *testing.T) {
	const size, overlap = 100, 20
	c, err := New(config.ChunkingConfig{ChunkSize: size, Overlap: overlap})
	require.NoError(t, err)

	// ~250 characters of whitespace-separated words.
	text := strings.TrimSpace(strings.Repeat("alpha bravo charlie delta echo ", 8))
	require.Greater(t, len(text), 2*size)

	pieces := c.Split(text)
	require.GreaterOrEqual(t, len(pieces), 3)

	for i, p := range pieces {
		assert.LessOrEqual(t, len(p), size, "piece %d exceeds chunk size", i)
		assert.NotEmpty(t, p)
	}

	// Every cut lands on a word boundary: non-final pieces end in a space.
	for i := 0; i < len(pieces)-1; i++ {
		assert.True(t, strings.HasSuffix(pieces[i], " "),
			"piece %d does not end on a word boundary: %q", i, pieces[i])
	}

	// Each piece starts with the previous piece's trailing overlap region.
	for i := 1; i < len(pieces); i++ {
		prev := pieces[i-1]
		shared := prev[len(prev)-overlap:]
		assert.True(t, strings.HasPrefix(pieces[i], shared),
			"piece %d does not start with the overlap of piece %d", i, i-1)
	}

	// Dropping the overlap from every piece after the first reconstructs
	// the original text with nothing lost or duplicated.
	var sb strings.Builder
	sb.WriteString(pieces[0])
	for i := 1; i < len(pieces); i++ {
		sb.WriteString(pieces[i][overlap:])
	}
	assert.Equal(t, text, sb.String())
}

func TestSplit_UnbrokenWordHardCuts(t *testing.T) {
	c, err := New(config.ChunkingConfig{ChunkSize: 10, Overlap: 2})
	require.NoError(t, err)

	text := strings.Repeat("x", 35)
	pieces := c.Split(text)

	require.NotEmpty(t, pieces)
	for i, p := range pieces {
		assert.LessOrEqual(t, len(p), 10, "piece %d too long", i)
	}

	var sb strings.Builder
	sb.WriteString(pieces[0])
	for i := 1; i < len(pieces); i++ {
		sb.WriteString(pieces[i][2:])
	}
	assert.Equal(t, text, sb.String())
}

func TestSplit_MultibyteHardCutsStayOnRuneBoundaries(t *testing.T) {
	c, err := New(config.ChunkingConfig{ChunkSize: 10, Overlap: 2})
	require.NoError(t, err)

	// No whitespace anywhere, so every cut takes the hard-cut path, and
	// every rune is 3 bytes wide so a byte-index cut would split one.
	text := strings.Repeat("数据管道实体图谱", 5)
	pieces := c.Split(text)

	require.Greater(t, len(pieces), 1)
	for i, p := range pieces {
		assert.True(t, utf8.ValidString(p), "piece %d is not valid UTF-8: %q", i, p)
		assert.LessOrEqual(t, len(p), 10, "piece %d too long", i)
		assert.Contains(t, text, p)
	}
	assert.True(t, strings.HasPrefix(text, pieces[0]))
	assert.True(t, strings.HasSuffix(text, pieces[len(pieces)-1]))
}

func TestSplit_RuneWiderThanWindowStillAdvances(t *testing.T) {
	c, err := New(config.ChunkingConfig{ChunkSize: 2, Overlap: 0})
	require.NoError(t, err)

	pieces := c.Split("世界和平")

	require.Len(t, pieces, 4)
	for i, p := range pieces {
		assert.True(t, utf8.ValidString(p), "piece %d is not valid UTF-8: %q", i, p)
	}
	assert.Equal(t, "世界和平", strings.Join(pieces, ""))
}

func TestSplit_DegenerateWindowDropsOverlap(t *testing.T) {
	// When the word boundary lands inside the overlap region the walk
	// advances without overlap rather than stalling, so this pair of
	// pieces shares no text.
	c, err := New(config.ChunkingConfig{ChunkSize: 10, Overlap: 5})
	require.NoError(t, err)

	text := "ab " + strings.Repeat("x", 25)
	pieces := c.Split(text)

	require.Greater(t, len(pieces), 1)
	assert.Equal(t, "ab ", pieces[0])
	assert.Equal(t, "xxxxxxxxxx", pieces[1])
}

func TestSplit_AlwaysTerminates(t *testing.T) {
	// Overlap nearly as large as the chunk size forces the degenerate
	// window path; the walk must still make progress.
	c, err := New(config.ChunkingConfig{ChunkSize: 10, Overlap: 9})
	require.NoError(t, err)

	text := strings.Repeat("ab ", 50)
	pieces := c.Split(text)
	assert.NotEmpty(t, pieces)
}

func TestChunk_MetadataPropagation(t *testing.T) {
	c, err := New(config.ChunkingConfig{ChunkSize: 80, Overlap: 10, IncludeFieldNames: true})
	require.NoError(t, err)

	ts := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	child := &graph.EntityNode{
		EntityType: "plans",
		ID:         "pro",
		Data:       map[string]any{"name": "Pro", "price": float64(49)},
		Depth:      1,
	}
	node := &graph.EntityNode{
		EntityType:    "users",
		ID:            "42",
		Data:          map[string]any{"email": "ada@example.com", "plan_id": "pro"},
		Relationships: map[string][]*graph.EntityNode{"plans": {child}},
		RelatedOrder:  []string{"plans"},
		Provenance:    graph.Provenance{Timestamp: &ts},
	}

	chunks, err := c.Chunk(node)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for i, ch := range chunks {
		assert.Equal(t, "users", ch.EntityType)
		assert.Equal(t, "42", ch.EntityID)
		assert.Equal(t, i, ch.ChunkIndex)
		assert.Equal(t, len(chunks), ch.TotalChunks)
		assert.Equal(t, []string{"plans"}, ch.RelatedEntityTypes)
		require.NotNil(t, ch.Timestamp)
		assert.True(t, ts.Equal(*ch.Timestamp))
	}
}

func TestChunk_SingleChunkForSmallGraph(t *testing.T) {
	c, err := New(config.ChunkingConfig{ChunkSize: 1000, Overlap: 100, IncludeFieldNames: true})
	require.NoError(t, err)

	node := &graph.EntityNode{
		EntityType: "users",
		ID:         "1",
		Data:       map[string]any{"email": "x@example.com"},
	}

	chunks, err := c.Chunk(node)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, 1, chunks[0].TotalChunks)
	assert.Empty(t, chunks[0].RelatedEntityTypes)
	assert.Nil(t, chunks[0].Timestamp)
}
