package feeds

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"VulnDigest/internal/domain"
	"VulnDigest/internal/feed"
	"VulnDigest/internal/ports"
)

// RegistrySource implements ports.RecordSource over registered feed
// adapters. Feeds are fetched concurrently; a failing feed contributes
// zero records and a warning, never a run failure. Results are merged
// deterministically (source priority, then identity) so that quota
// truncation always picks the same candidates for the same upstream data.
type RegistrySource struct {
	registry *feed.Registry
	priority map[domain.Source]int
	logger   *slog.Logger
}

var _ ports.RecordSource = (*RegistrySource)(nil)

// NewRegistrySource wires the feed registry with the configured source
// priority order.
func NewRegistrySource(reg *feed.Registry, priority []string, log *slog.Logger) *RegistrySource {
	prio := make(map[domain.Source]int, len(priority))
	for i, name := range priority {
		prio[domain.Source(name)] = i
	}
	return &RegistrySource{registry: reg, priority: prio, logger: log}
}

// FetchAll executes every registered feed and merges their records.
func (s *RegistrySource) FetchAll(ctx context.Context, req feed.Request) ([]domain.RawRecord, []ports.SourceReport) {
	names := s.registry.Names()
	reports := make([]ports.SourceReport, len(names))
	recordsBySource := make([][]domain.RawRecord, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		f, err := s.registry.Resolve(name)
		if err != nil {
			reports[i] = ports.SourceReport{Source: name, Err: &domain.SourceFetchError{Source: name, Err: err}}
			continue
		}

		wg.Add(1)
		go func(i int, f feed.Feed) {
			defer wg.Done()
			records, err := f.Fetch(ctx, req)
			if err != nil {
				reports[i] = ports.SourceReport{
					Source: f.Name(),
					Err:    &domain.SourceFetchError{Source: f.Name(), Err: err},
				}
				return
			}
			recordsBySource[i] = records
			reports[i] = ports.SourceReport{Source: f.Name(), Count: len(records)}
		}(i, f)
	}
	wg.Wait()

	var merged []domain.RawRecord
	for i := range recordsBySource {
		merged = append(merged, recordsBySource[i]...)
	}
	s.sortDeterministic(merged)

	for _, rep := range reports {
		if rep.Err != nil {
			s.warn("feed failed", "source", string(rep.Source), "error", rep.Err)
			continue
		}
		s.debug("feed produced records", "source", string(rep.Source), "count", rep.Count)
	}

	return merged, reports
}

func (s *RegistrySource) sortDeterministic(records []domain.RawRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		pi, pj := s.rank(records[i].Source), s.rank(records[j].Source)
		if pi != pj {
			return pi < pj
		}
		return records[i].Identity() < records[j].Identity()
	})
}

func (s *RegistrySource) rank(src domain.Source) int {
	if p, ok := s.priority[src]; ok {
		return p
	}
	// unlisted sources sort after every configured one
	return len(s.priority)
}

func (s *RegistrySource) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *RegistrySource) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
