package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"VulnDigest/internal/domain"
	"VulnDigest/internal/ports"
)

// FileStore persists the dedup state as a single JSON document. A missing
// file is a valid first-run state; an unreadable or corrupt file is a
// fatal load error, because starting from empty state would re-publish
// already-posted items.
type FileStore struct {
	path   string
	limit  int
	snap   snapshot
	loaded bool
}

var _ ports.StateStore = (*FileStore)(nil)

// NewFileStore wires the state file path and the daily publish limit.
func NewFileStore(path string, postsPerDay int) *FileStore {
	return &FileStore{path: path, limit: postsPerDay, snap: emptySnapshot()}
}

// Load reads and decodes the state file.
func (f *FileStore) Load(ctx context.Context) error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.snap = emptySnapshot()
			f.loaded = true
			return nil
		}
		return &domain.StateLoadError{Err: err}
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return &domain.StateLoadError{Err: fmt.Errorf("decode %s: %w", f.path, err)}
	}
	if snap.Processed == nil {
		snap.Processed = map[string]domain.ProcessedEntry{}
	}
	if snap.Daily == nil {
		snap.Daily = map[string]int{}
	}

	f.snap = snap
	f.loaded = true
	return nil
}

// HasSeen reports whether the identity was processed by an earlier run.
func (f *FileStore) HasSeen(identity string) bool {
	return f.snap.hasSeen(identity)
}

// MarkSeen records the identity; repeated calls do not duplicate entries.
func (f *FileStore) MarkSeen(identity string, entry domain.ProcessedEntry) {
	f.snap.markSeen(identity, entry)
}

// RemainingQuota returns how many publishes are still allowed for the
// date, floored at zero.
func (f *FileStore) RemainingQuota(date string) int {
	return f.snap.remainingQuota(date, f.limit)
}

// IncrementQuota counts one successful publish against the date.
func (f *FileStore) IncrementQuota(date string) {
	f.snap.incrementQuota(date)
}

// Persist writes the snapshot back atomically (temp file plus rename).
func (f *FileStore) Persist(ctx context.Context) error {
	if !f.loaded {
		return &domain.StatePersistError{Err: fmt.Errorf("store for %s was never loaded", f.path)}
	}

	raw, err := json.MarshalIndent(f.snap, "", "  ")
	if err != nil {
		return &domain.StatePersistError{Err: err}
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &domain.StatePersistError{Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".processed-*.json")
	if err != nil {
		return &domain.StatePersistError{Err: err}
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return &domain.StatePersistError{Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &domain.StatePersistError{Err: err}
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return &domain.StatePersistError{Err: err}
	}

	return nil
}
