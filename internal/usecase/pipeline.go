package usecase

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"VulnDigest/internal/domain"
	"VulnDigest/internal/feed"
	"VulnDigest/internal/normalize"
	"VulnDigest/internal/policy"
	"VulnDigest/internal/ports"
	"VulnDigest/internal/render"
	"VulnDigest/internal/state"
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source   ports.RecordSource
	Catalog  ports.ExploitCatalog
	Store    ports.StateStore
	Policy   policy.Evaluator
	Enricher ports.Enricher
	Publisher ports.Publisher
	Notifier ports.Notifier
	Logger   *slog.Logger

	LookbackDays int
	HeroImageURL string
	ReportPath   string
	Location     *time.Location
}

// Pipeline implements the digest run: fetch, normalize, filter by
// recency, dedup state and policy, cap by remaining daily quota, enrich,
// publish, persist. Per-source and per-record failures are isolated;
// only state load/persist failures end the run with an error.
type Pipeline struct {
	deps PipelineDeps
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.LookbackDays <= 0 {
		deps.LookbackDays = 7
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	return &Pipeline{deps: deps}
}

// Run executes one digest pass anchored at now. The returned report is
// complete even when err is non-nil.
func (p *Pipeline) Run(ctx context.Context, now time.Time) (RunReport, error) {
	d := p.deps
	date := state.DateKey(now, d.Location)
	report := RunReport{StartedAt: now, Date: date}

	finish := func(err error) (RunReport, error) {
		report.FinishedAt = time.Now()
		if err != nil {
			report.Fatal = err.Error()
		}
		p.flushReport(ctx, report)
		return report, err
	}

	if err := d.Store.Load(ctx); err != nil {
		p.error("state load failed", "error", err)
		return finish(err)
	}

	kev := map[string]bool{}
	if d.Catalog != nil {
		ids, err := d.Catalog.KnownExploited(ctx)
		if err != nil {
			p.warn("exploit catalog unavailable", "error", err)
		} else {
			kev = ids
		}
	}

	lookback := time.Duration(d.LookbackDays) * 24 * time.Hour
	raws, sources := d.Source.FetchAll(ctx, feed.Request{Now: now, Lookback: lookback})
	for _, s := range sources {
		outcome := SourceOutcome{Source: string(s.Source), Count: s.Count}
		if s.Err != nil {
			outcome.Error = s.Err.Error()
		}
		report.Sources = append(report.Sources, outcome)
	}
	report.Fetched = len(raws)

	res := normalize.Normalize(raws, kev)
	report.Malformed = len(res.Malformed)
	report.Normalized = len(res.Records)
	for _, m := range res.Malformed {
		p.warn("record skipped", "source", string(m.Source), "reason", m.Reason)
	}

	var recent []domain.Record
	for _, rec := range res.Records {
		if withinLookback(rec.PublishedAt, now, lookback) {
			recent = append(recent, rec)
		}
	}
	report.AfterRecency = len(recent)

	var unseen []domain.Record
	for _, rec := range recent {
		if !d.Store.HasSeen(rec.Identity) {
			unseen = append(unseen, rec)
		}
	}
	report.AfterDedup = len(unseen)

	var eligible []domain.Record
	for _, rec := range unseen {
		if d.Policy.Meets(rec) {
			eligible = append(eligible, rec)
		} else {
			p.debug("record rejected", "identity", rec.Identity, "reason", d.Policy.Reason(rec))
		}
	}
	report.AfterPolicy = len(eligible)

	// highest severity first, so quota truncation keeps the worst items
	sort.SliceStable(eligible, func(i, j int) bool {
		si, sj := eligible[i].Score(), eligible[j].Score()
		if si != sj {
			return si > sj
		}
		if eligible[i].Exploited != eligible[j].Exploited {
			return eligible[i].Exploited
		}
		return eligible[i].Identity < eligible[j].Identity
	})

	remaining := d.Store.RemainingQuota(date)
	if len(eligible) > remaining {
		eligible = eligible[:remaining]
	}
	report.Candidates = len(eligible)

	for _, rec := range eligible {
		post := p.buildPost(ctx, rec)

		postID, err := d.Publisher.Publish(ctx, post)
		if err != nil {
			p.warn("publish failed", "identity", rec.Identity, "error", err)
			report.Failed = append(report.Failed, FailedItem{
				Identity: rec.Identity, Stage: "publish", Error: err.Error(),
			})
			continue
		}

		report.Published = append(report.Published, PublishedItem{
			Identity: rec.Identity,
			PostID:   postID,
			Reason:   d.Policy.Reason(rec),
		})
		p.info("published", "identity", rec.Identity, "post_id", postID)

		// write-after-effect: state changes only once the draft exists
		d.Store.MarkSeen(rec.Identity, domain.ProcessedEntry{
			FirstSeen: date,
			Published: true,
			PostID:    postID,
		})
		d.Store.IncrementQuota(date)

		if err := d.Store.Persist(ctx); err != nil {
			p.error("state persist failed after publish", "identity", rec.Identity, "error", err)
			return finish(err)
		}
	}

	if err := d.Store.Persist(ctx); err != nil {
		p.error("final state persist failed", "error", err)
		return finish(err)
	}

	return finish(nil)
}

// buildPost prefers the AI-enriched article and falls back to the
// deterministic renderer. Enrichment never changes what gets published,
// only how it reads.
func (p *Pipeline) buildPost(ctx context.Context, rec domain.Record) domain.Post {
	title := render.Title(rec)
	body := render.Article(rec)

	if p.deps.Enricher != nil {
		enriched, err := p.deps.Enricher.Summarize(ctx, rec)
		if err != nil {
			p.warn("enrichment failed, using rendered article", "identity", rec.Identity, "error", err)
		} else {
			if enriched.Title != "" {
				title = enriched.Title
			}
			if enriched.BodyMarkdown != "" {
				body = enriched.BodyMarkdown
			}
		}
	}

	return domain.Post{
		Identity:     rec.Identity,
		Title:        title,
		BodyMarkdown: body,
		HeroImageURL: p.deps.HeroImageURL,
	}
}

func (p *Pipeline) flushReport(ctx context.Context, report RunReport) {
	if err := WriteReport(p.deps.ReportPath, report); err != nil {
		p.warn("report write failed", "error", err)
	}
	if p.deps.Notifier != nil {
		if err := p.deps.Notifier.NotifyRun(ctx, report.Summary()); err != nil {
			p.warn("run notification failed", "error", err)
		}
	}
}

// withinLookback excludes unparseable (zero) and future timestamps.
func withinLookback(published, now time.Time, lookback time.Duration) bool {
	if published.IsZero() || published.After(now) {
		return false
	}
	return now.Sub(published) <= lookback
}

func (p *Pipeline) debug(msg string, args ...any) {
	if p.deps.Logger != nil {
		p.deps.Logger.Debug(msg, args...)
	}
}

func (p *Pipeline) info(msg string, args ...any) {
	if p.deps.Logger != nil {
		p.deps.Logger.Info(msg, args...)
	}
}

func (p *Pipeline) warn(msg string, args ...any) {
	if p.deps.Logger != nil {
		p.deps.Logger.Warn(msg, args...)
	}
}

func (p *Pipeline) error(msg string, args ...any) {
	if p.deps.Logger != nil {
		p.deps.Logger.Error(msg, args...)
	}
}
