package ports

import (
	"context"
	"time"

	"VulnDigest/internal/domain"
	"VulnDigest/internal/feed"
)

// SourceReport captures a single feed's outcome within one run.
type SourceReport struct {
	Source domain.Source
	Count  int
	Err    error
}

// RecordSource pulls raw records from all configured feeds. Per-source
// failures are reported, never propagated: a failing feed contributes
// zero records and a non-nil Err in its report.
type RecordSource interface {
	FetchAll(ctx context.Context, req feed.Request) ([]domain.RawRecord, []SourceReport)
}

// ExploitCatalog exposes the set of identifiers with confirmed
// in-the-wild exploitation (CISA KEV).
type ExploitCatalog interface {
	KnownExploited(ctx context.Context) (map[string]bool, error)
}

// StateStore is the cross-run dedup set plus the per-day publish counter.
// Implementations load the backing store once at run start and write it
// back on Persist; mutators operate on the loaded snapshot.
type StateStore interface {
	Load(ctx context.Context) error
	HasSeen(identity string) bool
	MarkSeen(identity string, entry domain.ProcessedEntry)
	RemainingQuota(date string) int
	IncrementQuota(date string)
	Persist(ctx context.Context) error
}

// Enricher generates localized article material for a record.
type Enricher interface {
	Summarize(ctx context.Context, record domain.Record) (domain.Enrichment, error)
}

// Publisher creates a draft post on the CMS and returns its id.
type Publisher interface {
	Publish(ctx context.Context, post domain.Post) (int64, error)
}

// Notifier delivers the run summary to an operator channel.
type Notifier interface {
	NotifyRun(ctx context.Context, summary string) error
}

// Scheduler controls when pipeline runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
