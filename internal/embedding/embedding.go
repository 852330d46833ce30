// Package embedding defines the face embedding type and the distance
// metrics used to compare embeddings. Embeddings are fixed-length float32
// vectors produced by a pretrained face model; the dimensionality is set
// by the model (128 for Facenet, 512 for Facenet512/ArcFace).
package embedding

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned when two embeddings (or an embedding
// and the store's configured dimensionality) do not have the same length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedding is a fixed-length face descriptor vector.
type Embedding []float32

// Dim returns the dimensionality of the embedding.
func (e Embedding) Dim() int {
	return len(e)
}

// Clone returns an independent copy of the embedding.
func (e Embedding) Clone() Embedding {
	if e == nil {
		return nil
	}
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}

// Validate checks that the embedding is non-empty and matches the expected
// dimensionality. An expected dim of 0 only checks for non-emptiness.
func (e Embedding) Validate(expectedDim int) error {
	if len(e) == 0 {
		return fmt.Errorf("%w: empty embedding", ErrDimensionMismatch)
	}
	if expectedDim > 0 && len(e) != expectedDim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(e), expectedDim)
	}
	return nil
}
