package usecase

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SourceOutcome records one feed's contribution to the run.
type SourceOutcome struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
	Error  string `json:"error,omitempty"`
}

// PublishedItem is one successfully created draft.
type PublishedItem struct {
	Identity string `json:"identity"`
	PostID   int64  `json:"post_id"`
	Reason   string `json:"reason"`
}

// FailedItem is a per-record failure; the record stays eligible for a
// future run.
type FailedItem struct {
	Identity string `json:"identity"`
	Stage    string `json:"stage"`
	Error    string `json:"error"`
}

// RunReport is the archival artifact produced by every run, fatal or not.
type RunReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Date       string    `json:"date"`

	Sources []SourceOutcome `json:"sources"`

	Fetched      int `json:"fetched"`
	Malformed    int `json:"malformed"`
	Normalized   int `json:"normalized"`
	AfterRecency int `json:"after_recency"`
	AfterDedup   int `json:"after_dedup"`
	AfterPolicy  int `json:"after_policy"`
	Candidates   int `json:"candidates"`

	Published []PublishedItem `json:"published"`
	Failed    []FailedItem    `json:"failed,omitempty"`

	Fatal string `json:"fatal,omitempty"`
}

// Summary renders the operator-facing digest of the run.
func (r RunReport) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "VulnDigest %s: published %d (normalized %d, recency %d, dedup %d, policy %d)\n",
		r.Date, len(r.Published), r.Normalized, r.AfterRecency, r.AfterDedup, r.AfterPolicy)
	for _, p := range r.Published {
		fmt.Fprintf(&b, "- %s -> post %d | %s\n", p.Identity, p.PostID, p.Reason)
	}
	for _, f := range r.Failed {
		fmt.Fprintf(&b, "- %s failed (%s): %s\n", f.Identity, f.Stage, f.Error)
	}
	if r.Fatal != "" {
		fmt.Fprintf(&b, "FATAL: %s\n", r.Fatal)
	}
	return strings.TrimRight(b.String(), "\n")
}

// WriteReport persists the report JSON next to the state file; written
// even when the run ends fatally so operators can see what went out.
func WriteReport(path string, report RunReport) error {
	if path == "" {
		return nil
	}

	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
