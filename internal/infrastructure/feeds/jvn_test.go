package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"VulnDigest/internal/feed"
)

func TestJVNFeedFetch(t *testing.T) {
	t.Parallel()

	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"item": [
		  {
		    "title": {"$t": "Acme Router における認証回避の脆弱性"},
		    "description": "管理画面の認証を回避される可能性があります。",
		    "sec:identifier": [{"$t": "JVNDB-2026-001234"}, "CVE-2026-7777"],
		    "sec:issued": {"$t": "2026-08-28T14:00:00+09:00"},
		    "sec:cvss": {"sec:score": {"$t": "9.4"}},
		    "link": {"@href": "https://jvndb.jvn.jp/ja/contents/2026/JVNDB-2026-001234.html"}
		  },
		  {
		    "title": "CVE のない注意情報",
		    "sec:identifier": "JVNDB-2026-009999",
		    "sec:issued": "2026-08-29"
		  },
		  {"title": "identifiers missing entirely"}
		]}`))
	}))
	defer server.Close()

	f := NewJVNFeed(server.URL, server.Client())

	records, err := f.Fetch(context.Background(), feed.Request{Now: time.Now(), Lookback: 7 * 24 * time.Hour})
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	if gotQuery["method"] != "getVulnOverviewList" {
		t.Fatalf("unexpected method param: %s", gotQuery["method"])
	}
	if gotQuery["rangeDatePublic"] != "7" {
		t.Fatalf("unexpected rangeDatePublic: %s", gotQuery["rangeDatePublic"])
	}
	if gotQuery["format"] != "json" {
		t.Fatalf("unexpected format: %s", gotQuery["format"])
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records (id-less item skipped), got %d", len(records))
	}

	first := records[0]
	if first.CVE != "CVE-2026-7777" {
		t.Fatalf("unexpected cve: %s", first.CVE)
	}
	if first.NativeID != "JVNDB-2026-001234" {
		t.Fatalf("unexpected native id: %s", first.NativeID)
	}
	if first.CVSS == nil || *first.CVSS != 9.4 {
		t.Fatalf("unexpected cvss: %v", first.CVSS)
	}
	if first.PublishedAt.IsZero() {
		t.Fatal("issued timestamp must parse")
	}
	if len(first.References) != 1 {
		t.Fatalf("expected detail link reference, got %+v", first.References)
	}

	second := records[1]
	if second.CVE != "" || second.NativeID != "JVNDB-2026-009999" {
		t.Fatalf("unexpected ids: %q / %q", second.CVE, second.NativeID)
	}
	if second.Identity() != "jvn:JVNDB-2026-009999" {
		t.Fatalf("unexpected fallback identity: %s", second.Identity())
	}
}

func TestParseTimeShapes(t *testing.T) {
	t.Parallel()

	if got := parseTime("2026-08-28T10:00:00Z"); got.Hour() != 10 {
		t.Fatalf("rfc3339 parse failed: %v", got)
	}
	if got := parseTime("2026-08-28T14:00:00+09:00"); got.UTC().Hour() != 5 {
		t.Fatalf("offset parse failed: %v", got)
	}
	if got := parseTime("2026-08-28 12:30:00"); got.IsZero() {
		t.Fatalf("naive datetime parse failed: %v", got)
	}
	if got := parseTime("2026-08-28"); got.Format("2006-01-02") != "2026-08-28" {
		t.Fatalf("bare date parse failed: %v", got)
	}
	if got := parseTime("not a date"); !got.IsZero() {
		t.Fatalf("garbage must yield zero time, got %v", got)
	}
	if got := parseTime(""); !got.IsZero() {
		t.Fatalf("empty must yield zero time, got %v", got)
	}
}
