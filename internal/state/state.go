// Package state implements the cross-run dedup set and daily publish
// counter behind ports.StateStore.
package state

import (
	"time"

	"VulnDigest/internal/domain"
)

// DateKey renders the daily-counter key for a moment in the publication
// timezone.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}

// snapshot is the in-memory form shared by all store backends; the file
// backend serializes it verbatim.
type snapshot struct {
	Processed map[string]domain.ProcessedEntry `json:"processed"`
	Daily     map[string]int                   `json:"daily"`
}

func emptySnapshot() snapshot {
	return snapshot{
		Processed: map[string]domain.ProcessedEntry{},
		Daily:     map[string]int{},
	}
}

func (s *snapshot) hasSeen(identity string) bool {
	_, ok := s.Processed[identity]
	return ok
}

// markSeen is idempotent: a second call for the same identity overwrites
// the entry rather than duplicating it.
func (s *snapshot) markSeen(identity string, entry domain.ProcessedEntry) {
	entry.Identity = identity
	s.Processed[identity] = entry
}

func (s *snapshot) remainingQuota(date string, limit int) int {
	remaining := limit - s.Daily[date]
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (s *snapshot) incrementQuota(date string) {
	s.Daily[date]++
}
