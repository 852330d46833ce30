// Package registry maps user identities to their metadata: display name,
// enrollment timestamp and references to the images used for enrollment.
// It carries no matching logic; the matcher only reports identities and
// the registry resolves them back to users.
package registry

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

	"github.com/google/uuid"
)

// ErrUserNotFound is returned when neither an ID nor a name resolves to a
// registered user.
var ErrUserNotFound = errors.New("user not found")

// ErrUserExists is returned when adding a user whose name collides with an
// existing one (case- and diacritics-insensitive).
var ErrUserExists = errors.New("user already exists")

// User is one registered identity.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	ImageRefs []string  `json:"image_refs,omitempty"` // enrollment image paths or URLs
}

// Registry persists users to a JSON file, held in memory for the process
// lifetime and flushed on every mutation.
type Registry struct {
	mu    sync.RWMutex
	path  string
	users map[string]User // keyed by ID
}

type fileSchema struct {
	Version int             `json:"version"`
	Users   map[string]User `json:"users"`
}

const schemaVersion = 1

// Open loads the users file, creating an empty one if it does not exist.
func Open(path string) (*Registry, error) {
	r := &Registry{
		path:  path,
		users: make(map[string]User),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := r.flush(); err != nil {
			return nil, err
		}
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading users file %s: %w", path, err)
	}

	var f fileSchema
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing users file %s: %w", path, err)
	}
	if f.Version != schemaVersion {
		return nil, fmt.Errorf("users file %s has unsupported version %d", path, f.Version)
	}
	if f.Users != nil {
		r.users = f.Users
	}
	return r, nil
}

// Add registers a new user. Names are unique after normalization, so
// "Jiří" and "jiri" collide. IDs are short uuid prefixes, enough for a
// single deployment's user population.
func (r *Registry) Add(ctx context.Context, name string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if name == "" {
		return User{}, errors.New("user name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	normalized := NormalizeName(name)
	for _, u := range r.users {
		if NormalizeName(u.Name) == normalized {
			return User{}, fmt.Errorf("%w: %q", ErrUserExists, u.Name)
		}
	}

	u := User{
		ID:        uuid.New().String()[:8],
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	r.users[u.ID] = u

	if err := r.flush(); err != nil {
		delete(r.users, u.ID)
		return User{}, err
	}
	return u, nil
}

// Remove deletes a user by ID or name.
func (r *Registry) Remove(ctx context.Context, idOrName string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.lookup(idOrName)
	if !ok {
		return User{}, fmt.Errorf("%w: %q", ErrUserNotFound, idOrName)
	}
	delete(r.users, u.ID)

	if err := r.flush(); err != nil {
		r.users[u.ID] = u
		return User{}, err
	}
	return u, nil
}

// Get resolves a user by ID or name.
func (r *Registry) Get(ctx context.Context, idOrName string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.lookup(idOrName)
	if !ok {
		return User{}, fmt.Errorf("%w: %q", ErrUserNotFound, idOrName)
	}
	return u, nil
}

// List returns all registered users sorted by name.
func (r *Registry) List(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AddImageRefs records the images used to enroll a user.
func (r *Registry) AddImageRefs(ctx context.Context, id string, refs ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUserNotFound, id)
	}
	before := u.ImageRefs
	u.ImageRefs = append(u.ImageRefs, refs...)
	r.users[id] = u

	if err := r.flush(); err != nil {
		u.ImageRefs = before
		r.users[id] = u
		return err
	}
	return nil
}

// lookup matches by exact ID first, then by normalized name. Callers must
// hold at least a read lock.
func (r *Registry) lookup(idOrName string) (User, bool) {
	if u, ok := r.users[idOrName]; ok {
		return u, true
	}
	normalized := NormalizeName(idOrName)
	for _, u := range r.users {
		if NormalizeName(u.Name) == normalized {
			return u, true
		}
	}
	return User{}, false
}

// flush writes the users file. Callers must hold the write lock.
func (r *Registry) flush() error {
	data, err := json.MarshalIndent(fileSchema{Version: schemaVersion, Users: r.users}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding users file: %w", err)
	}

	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating registry directory %s: %w", dir, err)
		}
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing users file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replacing users file %s: %w", r.path, err)
	}
	return nil
}
