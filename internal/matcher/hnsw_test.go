package matcher

import (
	"errors"
	"testing"

	"github.com/eagleaccess/eagle/internal/embedding"
	"github.com/eagleaccess/eagle/internal/store"
)

func TestIndexMatchSelf(t *testing.T) {
	set := enrollments(
		"alice", embedding.Embedding{0.1, 0.2, 0.3, 0.4},
		"bob", embedding.Embedding{0.9, 0.1, 0.2, 0.3},
	)

	ix := NewIndex(embedding.MetricEuclidean)
	if err := ix.Build(set); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if ix.Count() != 2 {
		t.Fatalf("expected 2 indexed embeddings, got %d", ix.Count())
	}

	m := New(embedding.MetricEuclidean, 0.5)
	res, err := m.MatchIndexed(embedding.Embedding{0.1, 0.2, 0.3, 0.4}, ix)
	if err != nil {
		t.Fatalf("MatchIndexed failed: %v", err)
	}
	if !res.Matched || res.Identity != "alice" || res.Distance != 0 {
		t.Errorf("expected alice at distance 0, got %+v", res)
	}
}

func TestIndexMatchAmbiguous(t *testing.T) {
	set := enrollments(
		"bob", embedding.Embedding{0.3, 0},
		"carol", embedding.Embedding{0, 0.3},
	)

	ix := NewIndex(embedding.MetricEuclidean)
	if err := ix.Build(set); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	m := New(embedding.MetricEuclidean, 0.5)
	res, err := m.MatchIndexed(embedding.Embedding{0, 0}, ix)
	if err != nil {
		t.Fatalf("MatchIndexed failed: %v", err)
	}
	if !res.Ambiguous || res.Matched {
		t.Errorf("expected ambiguous non-match, got %+v", res)
	}
}

func TestIndexAddAndRemove(t *testing.T) {
	ix := NewIndex(embedding.MetricEuclidean)
	m := New(embedding.MetricEuclidean, 0.5)

	if err := ix.Add(store.Enrollment{ID: 1, Identity: "dave", Embedding: embedding.Embedding{1, 1}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := ix.Add(store.Enrollment{ID: 2, Identity: "dave", Embedding: embedding.Embedding{1.1, 1}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	res, err := m.MatchIndexed(embedding.Embedding{1, 1}, ix)
	if err != nil {
		t.Fatalf("MatchIndexed failed: %v", err)
	}
	if !res.Matched || res.Identity != "dave" {
		t.Errorf("expected dave, got %+v", res)
	}

	ix.Remove("dave")
	if ix.Count() != 0 {
		t.Fatalf("expected empty index after Remove, got %d", ix.Count())
	}

	res, err = m.MatchIndexed(embedding.Embedding{1, 1}, ix)
	if err != nil {
		t.Fatalf("MatchIndexed failed: %v", err)
	}
	if res.Matched {
		t.Errorf("expected no match after removal, got %+v", res)
	}
}

func TestIndexDimensionMismatch(t *testing.T) {
	ix := NewIndex(embedding.MetricEuclidean)
	if err := ix.Build(enrollments("alice", embedding.Embedding{1, 2, 3, 4})); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	m := New(embedding.MetricEuclidean, 0.5)
	_, err := m.MatchIndexed(embedding.Embedding{1, 2, 3}, ix)
	if !errors.Is(err, embedding.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}

	err = ix.Add(store.Enrollment{ID: 9, Identity: "bob", Embedding: embedding.Embedding{1, 2}})
	if !errors.Is(err, embedding.ErrDimensionMismatch) {
		t.Errorf("Add with wrong dim: expected ErrDimensionMismatch, got %v", err)
	}
}

func TestIndexEmpty(t *testing.T) {
	ix := NewIndex(embedding.MetricCosine)
	m := New(embedding.MetricCosine, 0.5)

	res, err := m.MatchIndexed(embedding.Embedding{1, 0}, ix)
	if err != nil {
		t.Fatalf("MatchIndexed failed: %v", err)
	}
	if res.Matched {
		t.Errorf("expected no match on empty index, got %+v", res)
	}
}
