package postgres

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/eagleaccess/eagle/internal/embedding"
	"github.com/eagleaccess/eagle/internal/store"
)

// EnrollmentRepository implements store.Store on top of PostgreSQL with
// pgvector. One row per embedding; an identity owns any number of rows.
type EnrollmentRepository struct {
	pool *Pool
	dim  int
}

// NewEnrollmentRepository creates a repository bound to the configured
// embedding dimensionality.
func NewEnrollmentRepository(pool *Pool, dim int) *EnrollmentRepository {
	return &EnrollmentRepository{pool: pool, dim: dim}
}

// Add appends an embedding for the identity.
func (r *EnrollmentRepository) Add(ctx context.Context, identity string, emb embedding.Embedding, source string) (store.Enrollment, error) {
	if err := emb.Validate(r.dim); err != nil {
		return store.Enrollment{}, err
	}

	vec := pgvector.NewVector(emb)

	var e store.Enrollment
	err := r.pool.QueryRow(ctx, `
		INSERT INTO enrollments (identity, embedding, source, dim)
		VALUES ($1, $2::vector, $3, $4)
		RETURNING id, created_at
	`, identity, vec, source, emb.Dim()).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return store.Enrollment{}, fmt.Errorf("insert enrollment for %q: %w", identity, err)
	}

	e.Identity = identity
	e.Embedding = emb.Clone()
	e.Source = source
	return e, nil
}

// Remove deletes all embeddings for the identity.
func (r *EnrollmentRepository) Remove(ctx context.Context, identity string) error {
	res, err := r.pool.Exec(ctx, "DELETE FROM enrollments WHERE identity = $1", identity)
	if err != nil {
		return fmt.Errorf("delete enrollments for %q: %w", identity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete enrollments for %q: %w", identity, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", store.ErrIdentityNotFound, identity)
	}
	return nil
}

// All returns a snapshot of every enrollment, ordered by row id.
func (r *EnrollmentRepository) All(ctx context.Context) ([]store.Enrollment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, identity, embedding, source, created_at
		FROM enrollments
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query enrollments: %w", err)
	}
	defer rows.Close()

	var out []store.Enrollment
	for rows.Next() {
		var e store.Enrollment
		var vec pgvector.Vector
		if err := rows.Scan(&e.ID, &e.Identity, &vec, &e.Source, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		e.Embedding = embedding.Embedding(vec.Slice())
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrollments: %w", err)
	}
	return out, nil
}

// Identities returns the distinct enrolled identities, sorted.
func (r *EnrollmentRepository) Identities(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, "SELECT DISTINCT identity FROM enrollments ORDER BY identity")
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return out, nil
}

// Count returns the total number of stored embeddings.
func (r *EnrollmentRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM enrollments").Scan(&count); err != nil {
		return 0, fmt.Errorf("count enrollments: %w", err)
	}
	return count, nil
}

// Dim returns the configured embedding dimensionality.
func (r *EnrollmentRepository) Dim(ctx context.Context) (int, error) {
	return r.dim, nil
}

// FindNearest returns the enrollments closest to the query embedding by
// cosine distance, computed by pgvector. Used as a server-side alternative
// to an in-memory scan for very large stores.
func (r *EnrollmentRepository) FindNearest(ctx context.Context, query embedding.Embedding, limit int) ([]store.Enrollment, []float64, error) {
	if err := query.Validate(r.dim); err != nil {
		return nil, nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	vec := pgvector.NewVector(query)
	rows, err := r.pool.Query(ctx, `
		SELECT id, identity, embedding, source, created_at, embedding <=> $1::vector AS distance
		FROM enrollments
		ORDER BY distance
		LIMIT $2
	`, vec, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("nearest enrollments query: %w", err)
	}
	defer rows.Close()

	var out []store.Enrollment
	var distances []float64
	for rows.Next() {
		var e store.Enrollment
		var v pgvector.Vector
		var d float64
		if err := rows.Scan(&e.ID, &e.Identity, &v, &e.Source, &e.CreatedAt, &d); err != nil {
			return nil, nil, fmt.Errorf("scan nearest enrollment: %w", err)
		}
		e.Embedding = embedding.Embedding(v.Slice())
		out = append(out, e)
		distances = append(distances, d)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate nearest enrollments: %w", err)
	}
	return out, distances, nil
}

// Close closes the underlying pool.
func (r *EnrollmentRepository) Close() error {
	return r.pool.Close()
}
