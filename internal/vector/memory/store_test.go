package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhaniverse/contrag/internal/errs"
	"github.com/dhaniverse/contrag/internal/vector"
)

func vec(id string, embedding ...float32) vector.Vector {
	return vector.Vector{ID: id, Embedding: embedding, Text: "text for " + id}
}

func TestStore_SearchRanksByCosine(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.Store(ctx, "users:42", []vector.Vector{
		vec("a", 1, 0),
		vec("b", 0, 1),
		vec("c", 0.9, 0.1),
	})
	require.NoError(t, err)

	results, err := s.Search(ctx, "users:42", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "a", results[0].VectorID)
	assert.Equal(t, "c", results[1].VectorID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestStore_SearchUnknownNamespaceIsNotFound(t *testing.T) {
	s := New()

	_, err := s.Search(context.Background(), "users:missing", []float32{1, 0}, 3)
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestStore_EmptyNamespaceIsNotNotFound(t *testing.T) {
	// A namespace that exists but holds nothing the query matches returns
	// results (possibly low-scoring), never a not-found error.
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "users:1", []vector.Vector{vec("a", 0, 1)}))

	results, err := s.Search(ctx, "users:1", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestStore_KLargerThanNamespace(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "ns", []vector.Vector{vec("a", 1, 0), vec("b", 0, 1)}))

	results, err := s.Search(ctx, "ns", []float32{1, 1}, 50)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestStore_InvalidInputs(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.Store(ctx, "", []vector.Vector{vec("a", 1)})
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))

	require.NoError(t, s.Store(ctx, "ns", []vector.Vector{vec("a", 1)}))
	_, err = s.Search(ctx, "ns", []float32{1}, 0)
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestStore_DeleteRemovesNamespace(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "users:42", []vector.Vector{vec("a", 1, 0)}))
	require.NoError(t, s.Delete(ctx, "users:42"))

	_, err := s.Search(ctx, "users:42", []float32{1, 0}, 1)
	assert.True(t, errs.IsNotFound(err))

	// Deleting an absent namespace is a no-op.
	assert.NoError(t, s.Delete(ctx, "users:42"))
}

func TestStore_CountAndListNamespaces(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "users:1", []vector.Vector{vec("a", 1), vec("b", 1)}))
	require.NoError(t, s.Store(ctx, "orders:9", []vector.Vector{vec("c", 1)}))

	n, err := s.Count(ctx, "users:1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Count(ctx, "users:absent")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	names, err := s.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders:9", "users:1"}, names)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ns := fmt.Sprintf("users:%d", i%4)
			_ = s.Store(ctx, ns, []vector.Vector{vec(fmt.Sprintf("v%d", i), 1, 0)})
			_, _ = s.Search(ctx, ns, []float32{1, 0}, 3)
			_, _ = s.Count(ctx, ns)
		}(i)
	}
	wg.Wait()

	names, err := s.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, names)
}
