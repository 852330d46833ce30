// Package mock provides an in-memory implementation of the store
// interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eagleaccess/eagle/internal/embedding"
	"github.com/eagleaccess/eagle/internal/store"
)

// Store is an in-memory store.Writer with error injection hooks.
type Store struct {
	mu      sync.RWMutex
	byIdent map[string][]store.Enrollment
	dim     int
	nextID  int64

	// Error injection
	AddError    error
	RemoveError error
	AllError    error
	CountError  error
}

// New creates an empty mock store.
func New() *Store {
	return &Store{
		byIdent: make(map[string][]store.Enrollment),
		nextID:  1,
	}
}

// Add appends an embedding for the identity.
func (s *Store) Add(ctx context.Context, identity string, emb embedding.Embedding, source string) (store.Enrollment, error) {
	if s.AddError != nil {
		return store.Enrollment{}, s.AddError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := emb.Validate(s.dim); err != nil {
		return store.Enrollment{}, err
	}
	if s.dim == 0 {
		s.dim = emb.Dim()
	}
	e := store.Enrollment{
		ID:        s.nextID,
		Identity:  identity,
		Embedding: emb.Clone(),
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
	s.nextID++
	s.byIdent[identity] = append(s.byIdent[identity], e)
	return e, nil
}

// Remove deletes all embeddings for the identity.
func (s *Store) Remove(ctx context.Context, identity string) error {
	if s.RemoveError != nil {
		return s.RemoveError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byIdent[identity]; !ok {
		return fmt.Errorf("%w: %q", store.ErrIdentityNotFound, identity)
	}
	delete(s.byIdent, identity)
	return nil
}

// All returns a snapshot of every enrollment.
func (s *Store) All(ctx context.Context) ([]store.Enrollment, error) {
	if s.AllError != nil {
		return nil, s.AllError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Enrollment
	for _, recs := range s.byIdent {
		out = append(out, recs...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Identities returns the distinct enrolled identities, sorted.
func (s *Store) Identities(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.byIdent))
	for identity := range s.byIdent {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out, nil
}

// Count returns the total number of stored embeddings.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.CountError != nil {
		return 0, s.CountError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, recs := range s.byIdent {
		n += len(recs)
	}
	return n, nil
}

// Dim returns the dimensionality the store is locked to.
func (s *Store) Dim(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim, nil
}

// Close is a no-op for the mock store.
func (s *Store) Close() error { return nil }
