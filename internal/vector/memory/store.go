// Package memory provides an in-process vector store. It keeps every
// namespace in a map guarded by a RWMutex and ranks search results by
// cosine similarity. Suited to tests and small corpora; nothing persists
// across restarts.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dhaniverse/contrag/internal/errs"
	"github.com/dhaniverse/contrag/internal/vector"
)

// Store implements vector.Store on top of process memory.
type Store struct {
	mu         sync.RWMutex
	namespaces map[string][]vector.Vector
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{namespaces: make(map[string][]vector.Vector)}
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) Store(ctx context.Context, namespace string, vectors []vector.Vector) error {
	if namespace == "" {
		return errs.New(errs.ErrKindInvalidInput, "namespace must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.namespaces[namespace] = append(s.namespaces[namespace], vectors...)
	return nil
}

func (s *Store) Search(ctx context.Context, namespace string, query []float32, k int) ([]vector.SearchResult, error) {
	if k <= 0 {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "k must be positive, got %d", k)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.namespaces[namespace]
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "namespace %q does not exist", namespace)
	}

	results := make([]vector.SearchResult, 0, len(stored))
	for _, v := range stored {
		results = append(results, vector.SearchResult{
			VectorID: v.ID,
			Text:     v.Text,
			Score:    vector.CosineSimilarity(query, v.Embedding),
			Meta:     v.Meta,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *Store) Delete(ctx context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, namespace)
	return nil
}

func (s *Store) Count(ctx context.Context, namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.namespaces[namespace]), nil
}

func (s *Store) ListNamespaces(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.namespaces))
	for name := range s.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
