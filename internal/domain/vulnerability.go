package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Source identifies a configured feed origin.
type Source string

const (
	SourceSecGemini Source = "sec-gemini"
	SourceNVD       Source = "nvd"
	SourceJVN       Source = "jvn"
	SourceJPCERT    Source = "jpcert"
)

// Reference is a titled link to an advisory or related material.
type Reference struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// RawRecord is the per-source shape produced by feed adapters before
// normalization. NativeID is the adapter's own identifier for the entry;
// CVE may be empty when the source does not report one.
type RawRecord struct {
	Source      Source
	CVE         string
	NativeID    string
	Title       string
	Description string
	PublishedAt time.Time
	CVSS        *float64
	Exploited   bool
	Vendor      string
	Product     string
	References  []Reference
	URL         string
	Raw         json.RawMessage
}

// Record is the canonical vulnerability processed by the pipeline.
// Identity prefers the CVE id and falls back to "source:nativeID" so
// records without a universal identifier still dedupe within their source.
type Record struct {
	Identity    string
	Source      Source
	Title       string
	Description string
	PublishedAt time.Time
	CVSS        *float64
	Exploited   bool
	CISAKEV     bool
	Vendor      string
	Product     string
	References  []Reference
	URL         string
	Raw         json.RawMessage
}

// Score returns the CVSS base score with the documented default for
// absent values: policy treats a missing score as 0.0, not as missing.
func (r Record) Score() float64 {
	if r.CVSS == nil {
		return 0.0
	}
	return *r.CVSS
}

// FallbackIdentity builds the source-qualified identity for records
// lacking a CVE id.
func FallbackIdentity(source Source, nativeID string) string {
	return fmt.Sprintf("%s:%s", source, strings.TrimSpace(nativeID))
}

// Identity derives the dedup key for a raw record. Empty when the record
// carries neither a CVE id nor a native id; such records are malformed.
func (r RawRecord) Identity() string {
	if cve := strings.TrimSpace(r.CVE); cve != "" {
		return strings.ToUpper(cve)
	}
	if strings.TrimSpace(r.NativeID) != "" {
		return FallbackIdentity(r.Source, r.NativeID)
	}
	return ""
}

// ProcessedEntry is the persisted per-identity state surviving across runs.
type ProcessedEntry struct {
	Identity  string `json:"identity"`
	FirstSeen string `json:"first_seen"`
	Published bool   `json:"published"`
	PostID    int64  `json:"post_id,omitempty"`
}

// Enrichment is the optional AI-generated article material for a record.
type Enrichment struct {
	Title        string
	Summary      string
	BodyMarkdown string
}

// Post is the finalized payload handed to the publisher.
type Post struct {
	Identity     string
	Title        string
	BodyMarkdown string
	HeroImageURL string
}
