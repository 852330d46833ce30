// Package accesslog records access decisions to an append-only JSON log
// file. Decisions are write-only operational history; nothing in the
// matching path ever reads them back.
package accesslog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status is the outcome of a verification attempt.
type Status string

const (
	StatusGranted Status = "granted"
	StatusDenied  Status = "denied"
)

// Entry is one logged access decision. Scores carries the distance under
// every supported metric so threshold tuning can be done from the log
// alone, even though only the configured metric decides.
type Entry struct {
	Status    Status             `json:"status"`
	UserID    string             `json:"user_id,omitempty"`
	UserName  string             `json:"user_name,omitempty"`
	Distance  float64            `json:"distance"`
	Ambiguous bool               `json:"ambiguous,omitempty"`
	Scores    map[string]float64 `json:"scores,omitempty"`
	Time      time.Time          `json:"time"`
}

// Log appends entries to a JSON file. Write failures surface to the
// caller; they are reported separately from the access decision itself.
type Log struct {
	mu   sync.Mutex
	path string
}

// Open creates a log writer for the given path. The file is created on
// the first append.
func Open(path string) *Log {
	return &Log{path: path}
}

// Append adds an entry to the log.
func (l *Log) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.read()
	if err != nil {
		return err
	}
	entries = append(entries, e)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding access log: %w", err)
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating access log directory %s: %w", dir, err)
		}
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing access log %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replacing access log %s: %w", l.path, err)
	}
	return nil
}

// Recent returns up to limit entries, newest last. A limit of 0 returns
// everything.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.read()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// read loads the current log contents. Callers must hold the lock.
func (l *Log) read() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading access log %s: %w", l.path, err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing access log %s: %w", l.path, err)
	}
	return entries, nil
}
