package state

import (
	"context"

	"VulnDigest/internal/domain"
	"VulnDigest/internal/ports"
)

// MemoryStore keeps state in memory only. Used by tests and dry runs.
type MemoryStore struct {
	limit int
	snap  snapshot

	// LoadErr, when set, fails Load. PersistErr fails Persist once the
	// number of prior successful calls reaches AllowPersists; both
	// exercise the fatal paths in tests.
	LoadErr       error
	PersistErr    error
	AllowPersists int

	Persisted int
}

var _ ports.StateStore = (*MemoryStore)(nil)

// NewMemoryStore builds an empty in-memory store with the given limit.
func NewMemoryStore(postsPerDay int) *MemoryStore {
	return &MemoryStore{limit: postsPerDay, snap: emptySnapshot()}
}

func (m *MemoryStore) Load(ctx context.Context) error {
	if m.LoadErr != nil {
		return &domain.StateLoadError{Err: m.LoadErr}
	}
	return nil
}

func (m *MemoryStore) HasSeen(identity string) bool {
	return m.snap.hasSeen(identity)
}

func (m *MemoryStore) MarkSeen(identity string, entry domain.ProcessedEntry) {
	m.snap.markSeen(identity, entry)
}

func (m *MemoryStore) RemainingQuota(date string) int {
	return m.snap.remainingQuota(date, m.limit)
}

func (m *MemoryStore) IncrementQuota(date string) {
	m.snap.incrementQuota(date)
}

func (m *MemoryStore) Persist(ctx context.Context) error {
	if m.PersistErr != nil && m.Persisted >= m.AllowPersists {
		return &domain.StatePersistError{Err: m.PersistErr}
	}
	m.Persisted++
	return nil
}

// Entry exposes a stored entry to assertions.
func (m *MemoryStore) Entry(identity string) (domain.ProcessedEntry, bool) {
	e, ok := m.snap.Processed[identity]
	return e, ok
}

// CountFor exposes the daily counter to assertions.
func (m *MemoryStore) CountFor(date string) int {
	return m.snap.Daily[date]
}
