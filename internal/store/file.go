package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/eagleaccess/eagle/internal/embedding"
)

// schemaVersion is bumped whenever the on-disk layout changes. Loading a
// file with any other version fails with ErrSchemaVersion so that stale
// files never silently corrupt distances.
const schemaVersion = 1

// fileSchema is the on-disk layout of the embeddings file.
type fileSchema struct {
	Version    int                     `json:"version"`
	Model      string                  `json:"model"`
	Dim        int                     `json:"dim"`
	Identities map[string][]fileRecord `json:"identities"`
}

type fileRecord struct {
	Embedding []float32 `json:"embedding"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FileStore keeps all enrollments in memory for the process lifetime and
// flushes the full mapping to a JSON file on every mutation. Writes are
// serialized; reads return copies, so concurrent matches never observe a
// partially-applied write.
type FileStore struct {
	mu      sync.RWMutex
	path    string
	model   string
	dim     int // 0 until the first Add locks the dimensionality
	byIdent map[string][]Enrollment
	nextID  int64
}

// OpenFileStore loads the embeddings file wholesale, creating an empty one
// if it does not exist. The model name is recorded in the file so that
// swapping extraction models is detected on the next load.
func OpenFileStore(path, model string) (*FileStore, error) {
	s := &FileStore{
		path:    path,
		model:   model,
		byIdent: make(map[string][]Enrollment),
		nextID:  1,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := s.flush(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading embeddings file %s: %w", path, err)
	}

	var f fileSchema
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing embeddings file %s: %w", path, err)
	}
	if f.Version != schemaVersion {
		return nil, fmt.Errorf("%w: file %s has version %d, want %d", ErrSchemaVersion, path, f.Version, schemaVersion)
	}
	if model != "" && f.Model != "" && f.Model != model {
		return nil, fmt.Errorf("%w: file %s was written by model %q, configured model is %q",
			ErrSchemaVersion, path, f.Model, model)
	}

	s.dim = f.Dim
	for identity, records := range f.Identities {
		for _, r := range records {
			emb := embedding.Embedding(r.Embedding)
			if err := emb.Validate(f.Dim); err != nil {
				return nil, fmt.Errorf("embeddings file %s, identity %q: %w", path, identity, err)
			}
			s.byIdent[identity] = append(s.byIdent[identity], Enrollment{
				ID:        s.nextID,
				Identity:  identity,
				Embedding: emb,
				Source:    r.Source,
				CreatedAt: r.CreatedAt,
			})
			s.nextID++
		}
	}
	return s, nil
}

// Add appends an embedding for the identity and flushes to disk.
func (s *FileStore) Add(ctx context.Context, identity string, emb embedding.Embedding, source string) (Enrollment, error) {
	if err := ctx.Err(); err != nil {
		return Enrollment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := emb.Validate(s.dim); err != nil {
		return Enrollment{}, err
	}
	if s.dim == 0 {
		s.dim = emb.Dim()
	}

	e := Enrollment{
		ID:        s.nextID,
		Identity:  identity,
		Embedding: emb.Clone(),
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
	s.nextID++
	s.byIdent[identity] = append(s.byIdent[identity], e)

	if err := s.flush(); err != nil {
		// Roll back the in-memory append so memory and disk stay in sync.
		recs := s.byIdent[identity]
		s.byIdent[identity] = recs[:len(recs)-1]
		if len(s.byIdent[identity]) == 0 {
			delete(s.byIdent, identity)
		}
		return Enrollment{}, err
	}
	return e, nil
}

// Remove deletes all embeddings for the identity and flushes to disk.
func (s *FileStore) Remove(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, ok := s.byIdent[identity]
	if !ok {
		return fmt.Errorf("%w: %q", ErrIdentityNotFound, identity)
	}
	delete(s.byIdent, identity)

	if err := s.flush(); err != nil {
		s.byIdent[identity] = removed
		return err
	}
	return nil
}

// All returns a snapshot of every enrollment, ordered by row id.
func (s *FileStore) All(ctx context.Context) ([]Enrollment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Enrollment, 0, s.count())
	for _, recs := range s.byIdent {
		out = append(out, recs...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Identities returns the distinct enrolled identities, sorted.
func (s *FileStore) Identities(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
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
func (s *FileStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count(), nil
}

// Dim returns the dimensionality the store is locked to.
func (s *FileStore) Dim(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim, nil
}

// Close flushes the store a final time.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (s *FileStore) count() int {
	n := 0
	for _, recs := range s.byIdent {
		n += len(recs)
	}
	return n
}

// flush writes the full mapping to a temp file and renames it into place.
// Callers must hold the write lock.
func (s *FileStore) flush() error {
	f := fileSchema{
		Version:    schemaVersion,
		Model:      s.model,
		Dim:        s.dim,
		Identities: make(map[string][]fileRecord, len(s.byIdent)),
	}
	for identity, recs := range s.byIdent {
		out := make([]fileRecord, len(recs))
		for i, r := range recs {
			out[i] = fileRecord{
				Embedding: r.Embedding,
				Source:    r.Source,
				CreatedAt: r.CreatedAt,
			}
		}
		f.Identities[identity] = out
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding embeddings file: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing embeddings file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing embeddings file %s: %w", s.path, err)
	}
	return nil
}
