// Package store persists face embeddings keyed by user identity. The store
// is append-only per identity: enrolling the same identity again adds more
// embeddings, and all of them are candidates during matching. Removal
// deletes every embedding owned by an identity.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/eagleaccess/eagle/internal/embedding"
)

// ErrIdentityNotFound is returned by Remove when no embeddings exist for
// the identity. Callers that treat absence as a no-op check for it with
// errors.Is; it is deliberately not swallowed here so that CLI and service
// layers can distinguish "removed" from "was never enrolled".
var ErrIdentityNotFound = errors.New("identity not found")

// ErrSchemaVersion is returned when a persisted store was written with an
// incompatible schema version.
var ErrSchemaVersion = errors.New("unsupported store schema version")

// Enrollment is one stored embedding owned by an identity.
type Enrollment struct {
	ID        int64 // Store-assigned row id, unique within the store
	Identity  string
	Embedding embedding.Embedding
	Source    string // Optional reference to the image the embedding came from
	CreatedAt time.Time
}

// Reader provides read-only access to enrollments.
type Reader interface {
	// All returns a snapshot of every enrollment. The returned slice is
	// safe to scan without holding any store lock.
	All(ctx context.Context) ([]Enrollment, error)
	// Identities returns the distinct enrolled identities.
	Identities(ctx context.Context) ([]string, error)
	// Count returns the total number of stored embeddings.
	Count(ctx context.Context) (int, error)
	// Dim returns the dimensionality the store is locked to, or 0 if the
	// store is empty and unlocked.
	Dim(ctx context.Context) (int, error)
}

// Writer provides write access to enrollments. Mutations are serialized;
// readers never observe a partially-applied write.
type Writer interface {
	Reader

	// Add appends an embedding for the identity. The first Add locks the
	// store to that embedding's dimensionality; later Adds with a different
	// dimensionality fail with embedding.ErrDimensionMismatch.
	Add(ctx context.Context, identity string, emb embedding.Embedding, source string) (Enrollment, error)

	// Remove deletes all embeddings for the identity. Returns
	// ErrIdentityNotFound if the identity has none.
	Remove(ctx context.Context, identity string) error
}

// Store combines read and write access with an explicit lifecycle.
type Store interface {
	Writer
	Close() error
}
