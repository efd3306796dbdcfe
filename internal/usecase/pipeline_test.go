package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VulnDigest/internal/domain"
	"VulnDigest/internal/feed"
	"VulnDigest/internal/policy"
	"VulnDigest/internal/ports"
	"VulnDigest/internal/state"
)

var runMoment = time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

func score(v float64) *float64 { return &v }

type stubSource struct {
	records []domain.RawRecord
	reports []ports.SourceReport
}

func (s *stubSource) FetchAll(_ context.Context, _ feed.Request) ([]domain.RawRecord, []ports.SourceReport) {
	return s.records, s.reports
}

type stubPublisher struct {
	nextID    int64
	failFor   map[string]error
	published []domain.Post
}

func (p *stubPublisher) Publish(_ context.Context, post domain.Post) (int64, error) {
	if err, ok := p.failFor[post.Identity]; ok {
		return 0, &domain.PublishError{Identity: post.Identity, Err: err}
	}
	p.nextID++
	p.published = append(p.published, post)
	return p.nextID, nil
}

type stubEnricher struct {
	enrichment domain.Enrichment
	err        error
}

func (e *stubEnricher) Summarize(_ context.Context, record domain.Record) (domain.Enrichment, error) {
	if e.err != nil {
		return domain.Enrichment{}, &domain.EnrichmentError{Identity: record.Identity, Err: e.err}
	}
	return e.enrichment, nil
}

func newPipeline(src ports.RecordSource, store ports.StateStore, pub ports.Publisher, opts ...func(*PipelineDeps)) *Pipeline {
	deps := PipelineDeps{
		Source:       src,
		Store:        store,
		Policy:       policy.NewEvaluator(9.0),
		Publisher:    pub,
		LookbackDays: 7,
		Location:     time.UTC,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return NewPipeline(deps)
}

func recentRecord(id string, cvss float64) domain.RawRecord {
	return domain.RawRecord{
		Source:      domain.SourceSecGemini,
		CVE:         id,
		Title:       id + " vulnerability",
		Description: id + " detail",
		PublishedAt: runMoment.Add(-72 * time.Hour),
		CVSS:        score(cvss),
	}
}

// Pins the documented end-to-end scenario: 20 normalized records, 12
// inside the recency window, 3 already seen, 5 pass policy, quota 5.
func TestRunScenario(t *testing.T) {
	t.Parallel()

	var records []domain.RawRecord
	for i := 0; i < 5; i++ { // recent, critical
		records = append(records, recentRecord(fmt.Sprintf("CVE-2026-10%d", i), 9.5))
	}
	for i := 0; i < 4; i++ { // recent, below threshold
		records = append(records, recentRecord(fmt.Sprintf("CVE-2026-20%d", i), 5.0))
	}
	for i := 0; i < 3; i++ { // recent but already processed
		records = append(records, recentRecord(fmt.Sprintf("CVE-2026-30%d", i), 9.9))
	}
	for i := 0; i < 8; i++ { // outside the lookback window
		old := recentRecord(fmt.Sprintf("CVE-2026-40%d", i), 9.9)
		old.PublishedAt = runMoment.Add(-30 * 24 * time.Hour)
		records = append(records, old)
	}

	store := state.NewMemoryStore(5)
	for i := 0; i < 3; i++ {
		store.MarkSeen(fmt.Sprintf("CVE-2026-30%d", i), domain.ProcessedEntry{Published: true})
	}

	pub := &stubPublisher{}
	pipeline := newPipeline(&stubSource{records: records}, store, pub)

	report, err := pipeline.Run(context.Background(), runMoment)
	require.NoError(t, err)

	assert.Equal(t, 20, report.Normalized)
	assert.Equal(t, 12, report.AfterRecency)
	assert.Equal(t, 9, report.AfterDedup)
	assert.Equal(t, 5, report.AfterPolicy)
	assert.Len(t, report.Published, 5)
	assert.Equal(t, 5, store.CountFor("2026-08-31"))
	assert.Equal(t, 0, store.RemainingQuota("2026-08-31"))

	// policy-rejected items are left unprocessed for future runs
	assert.False(t, store.HasSeen("CVE-2026-200"))
}

func TestSecondRunPublishesNothing(t *testing.T) {
	t.Parallel()

	records := []domain.RawRecord{
		recentRecord("CVE-2026-500", 9.8),
		recentRecord("CVE-2026-501", 9.1),
	}
	store := state.NewMemoryStore(5)
	pub := &stubPublisher{}
	pipeline := newPipeline(&stubSource{records: records}, store, pub)

	first, err := pipeline.Run(context.Background(), runMoment)
	require.NoError(t, err)
	require.Len(t, first.Published, 2)

	second, err := pipeline.Run(context.Background(), runMoment.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, second.Published, "identical upstream data must publish only once")
	assert.Equal(t, 0, second.AfterDedup)
}

func TestQuotaBoundKeepsWorstItems(t *testing.T) {
	t.Parallel()

	records := []domain.RawRecord{
		recentRecord("CVE-2026-600", 9.1),
		recentRecord("CVE-2026-601", 9.9),
		recentRecord("CVE-2026-602", 9.5),
	}
	store := state.NewMemoryStore(2)
	pub := &stubPublisher{}
	pipeline := newPipeline(&stubSource{records: records}, store, pub)

	report, err := pipeline.Run(context.Background(), runMoment)
	require.NoError(t, err)

	require.Len(t, report.Published, 2)
	assert.Equal(t, "CVE-2026-601", report.Published[0].Identity)
	assert.Equal(t, "CVE-2026-602", report.Published[1].Identity)
	assert.False(t, store.HasSeen("CVE-2026-600"), "quota-cut items stay eligible for future runs")
	assert.Equal(t, 2, store.CountFor("2026-08-31"))
}

func TestFailedSourceDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	src := &stubSource{
		records: []domain.RawRecord{recentRecord("CVE-2026-700", 9.8)},
		reports: []ports.SourceReport{
			{Source: domain.SourceNVD, Err: &domain.SourceFetchError{Source: domain.SourceNVD, Err: errors.New("api down")}},
			{Source: domain.SourceSecGemini, Count: 1},
		},
	}
	store := state.NewMemoryStore(5)
	pipeline := newPipeline(src, store, &stubPublisher{})

	report, err := pipeline.Run(context.Background(), runMoment)
	require.NoError(t, err, "a failing feed is a warning, not a run failure")
	require.Len(t, report.Published, 1)
	require.Len(t, report.Sources, 2)
	assert.NotEmpty(t, report.Sources[0].Error)
}

func TestPublishFailureLeavesRecordUnmarked(t *testing.T) {
	t.Parallel()

	records := []domain.RawRecord{
		recentRecord("CVE-2026-800", 9.9),
		recentRecord("CVE-2026-801", 9.5),
	}
	store := state.NewMemoryStore(5)
	pub := &stubPublisher{failFor: map[string]error{"CVE-2026-800": errors.New("401 unauthorized")}}
	pipeline := newPipeline(&stubSource{records: records}, store, pub)

	report, err := pipeline.Run(context.Background(), runMoment)
	require.NoError(t, err)

	require.Len(t, report.Published, 1)
	assert.Equal(t, "CVE-2026-801", report.Published[0].Identity)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "CVE-2026-800", report.Failed[0].Identity)

	assert.False(t, store.HasSeen("CVE-2026-800"), "failed publish must stay eligible")
	assert.True(t, store.HasSeen("CVE-2026-801"))
	assert.Equal(t, 1, store.CountFor("2026-08-31"))
}

func TestPersistFailureAfterPublishesIsFatalButReported(t *testing.T) {
	t.Parallel()

	var records []domain.RawRecord
	for i := 0; i < 5; i++ {
		records = append(records, recentRecord(fmt.Sprintf("CVE-2026-90%d", i), 9.9))
	}
	store := state.NewMemoryStore(5)
	store.PersistErr = errors.New("disk full")
	store.AllowPersists = 2

	pipeline := newPipeline(&stubSource{records: records}, store, &stubPublisher{})

	report, err := pipeline.Run(context.Background(), runMoment)
	require.Error(t, err)

	var persistErr *domain.StatePersistError
	assert.True(t, errors.As(err, &persistErr))
	assert.NotEmpty(t, report.Fatal)
	// three drafts went out before the store broke; operators still see
	// all of them in the report even though the state may not hold them
	assert.Len(t, report.Published, 3)
}

func TestStateLoadFailureAbortsBeforeFetching(t *testing.T) {
	t.Parallel()

	store := state.NewMemoryStore(5)
	store.LoadErr = errors.New("permission denied")

	pub := &stubPublisher{}
	pipeline := newPipeline(&stubSource{records: []domain.RawRecord{recentRecord("CVE-2026-950", 9.9)}}, store, pub)

	report, err := pipeline.Run(context.Background(), runMoment)
	require.Error(t, err)

	var loadErr *domain.StateLoadError
	assert.True(t, errors.As(err, &loadErr))
	assert.Empty(t, pub.published, "nothing may be published from unverified state")
	assert.NotEmpty(t, report.Fatal)
}

func TestEnrichmentFailureFallsBackToRenderedArticle(t *testing.T) {
	t.Parallel()

	records := []domain.RawRecord{recentRecord("CVE-2026-960", 9.9)}
	store := state.NewMemoryStore(5)
	pub := &stubPublisher{}
	pipeline := newPipeline(&stubSource{records: records}, store, pub, func(d *PipelineDeps) {
		d.Enricher = &stubEnricher{err: errors.New("quota exhausted")}
	})

	report, err := pipeline.Run(context.Background(), runMoment)
	require.NoError(t, err)
	require.Len(t, report.Published, 1, "enrichment failure must not drop the item")

	require.Len(t, pub.published, 1)
	assert.Contains(t, pub.published[0].Title, "注意喚起")
	assert.Contains(t, pub.published[0].BodyMarkdown, "CVE-2026-960")
}

func TestEnrichmentOverridesArticleOnly(t *testing.T) {
	t.Parallel()

	records := []domain.RawRecord{recentRecord("CVE-2026-970", 9.9)}
	store := state.NewMemoryStore(5)
	pub := &stubPublisher{}
	pipeline := newPipeline(&stubSource{records: records}, store, pub, func(d *PipelineDeps) {
		d.Enricher = &stubEnricher{enrichment: domain.Enrichment{
			Title:        "Acme Widget の緊急脆弱性",
			BodyMarkdown: "## 概要\n要対応。",
		}}
	})

	_, err := pipeline.Run(context.Background(), runMoment)
	require.NoError(t, err)

	require.Len(t, pub.published, 1)
	assert.Equal(t, "Acme Widget の緊急脆弱性", pub.published[0].Title)
	assert.True(t, store.HasSeen("CVE-2026-970"))
}

func TestFutureTimestampsFailRecency(t *testing.T) {
	t.Parallel()

	future := recentRecord("CVE-2026-980", 9.9)
	future.PublishedAt = runMoment.Add(48 * time.Hour)

	store := state.NewMemoryStore(5)
	pipeline := newPipeline(&stubSource{records: []domain.RawRecord{future}}, store, &stubPublisher{})

	report, err := pipeline.Run(context.Background(), runMoment)
	require.NoError(t, err)
	assert.Equal(t, 0, report.AfterRecency)
}
