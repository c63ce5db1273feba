// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// Tracker records temporary files created during a run so they can be
// removed on every exit path. Cleanup is idempotent.
type Tracker struct {
	mu    sync.Mutex
	paths []string
	seen  map[string]struct{}
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]struct{})}
}

// Track registers path for cleanup. Registering the same path twice is a no-op.
func (t *Tracker) Track(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[path]; ok {
		return
	}
	t.seen[path] = struct{}{}
	t.paths = append(t.paths, path)
}

// CreateTemp writes data to a new temp file in dir and tracks it.
func (t *Tracker) CreateTemp(dir, pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	t.Track(path)

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return path, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return path, fmt.Errorf("close temp file: %w", err)
	}
	return path, nil
}

// Paths returns the tracked paths in registration order.
func (t *Tracker) Paths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.paths...)
}

// Cleanup removes every tracked path. Missing files are not an error.
// Paths that could not be removed stay tracked for a later attempt.
func (t *Tracker) Cleanup() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		errs []error
		kept []string
	)
	for _, p := range t.paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
			kept = append(kept, p)
			continue
		}
		delete(t.seen, p)
	}
	t.paths = kept
	return errors.Join(errs...)
}
