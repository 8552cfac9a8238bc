// Package vector defines the vector store contract: namespaced storage and
// similarity search over embedded context chunks.
//
// A namespace ("<entityType>:<id>") holds the full chunk set of one build.
// Namespaces are replaced wholesale — there is no partial-update protocol.
package vector

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Vector is one embedded context chunk ready for storage.
type Vector struct {
	// ID is "<entityType>::<entityID>::chunk_<n>".
	ID        string
	Embedding []float32
	Text      string
	Meta      Metadata
}

// Metadata carries a chunk's provenance through the store.
type Metadata struct {
	EntityType         string
	EntityID           string
	ChunkIndex         int
	TotalChunks        int
	RelatedEntityTypes []string
	Timestamp          *time.Time
}

// SearchResult is one ranked similarity match.
type SearchResult struct {
	VectorID string
	Text     string
	Score    float32
	Meta     Metadata
}

// Store is the interface all vector store backends implement.
// Implementations must be safe for concurrent use.
type Store interface {
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases held resources.
	Close() error

	// Store appends vectors to a namespace, creating it if needed.
	Store(ctx context.Context, namespace string, vectors []Vector) error

	// Search returns the k nearest vectors in the namespace, best first.
	// Searching a namespace that does not exist is an
	// errs.ErrKindNotFound error, distinct from zero results.
	Search(ctx context.Context, namespace string, query []float32, k int) ([]SearchResult, error)

	// Delete removes a namespace and all of its vectors. Deleting an
	// absent namespace is a no-op.
	Delete(ctx context.Context, namespace string) error

	// Count returns the number of vectors in a namespace (zero when the
	// namespace does not exist).
	Count(ctx context.Context, namespace string) (int, error)

	// ListNamespaces returns all namespaces currently stored.
	ListNamespaces(ctx context.Context) ([]string, error)
}

// ID formats the canonical vector id for one chunk of one entity.
func ID(entityType, entityID string, chunkIndex int) string {
	return fmt.Sprintf("%s::%s::chunk_%d", entityType, entityID, chunkIndex)
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either vector is zero or the lengths differ.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(magA) * math.Sqrt(magB)))
}
