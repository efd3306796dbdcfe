package feeds

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"VulnDigest/internal/domain"
	"VulnDigest/internal/feed"
)

var cveExpr = regexp.MustCompile(`CVE-\d{4}-\d{4,}`)

// JPCERTFeed scrapes the JPCERT/CC security alert listing page. Alerts
// frequently reference a CVE in the title; entries without one fall back
// to the source-qualified alert number as identity.
type JPCERTFeed struct {
	url    string
	client *http.Client
}

var _ feed.Feed = (*JPCERTFeed)(nil)

// NewJPCERTFeed wires the listing URL; a nil client gets a 20s timeout.
func NewJPCERTFeed(url string, client *http.Client) *JPCERTFeed {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &JPCERTFeed{url: url, client: client}
}

// Name identifies the source inside the registry.
func (f *JPCERTFeed) Name() domain.Source {
	return domain.SourceJPCERT
}

// Fetch downloads the listing page and extracts alert entries.
func (f *JPCERTFeed) Fetch(ctx context.Context, _ feed.Request) ([]domain.RawRecord, error) {
	doc, err := f.fetchDocument(ctx)
	if err != nil {
		return nil, err
	}
	return f.extractAlerts(doc), nil
}

func (f *JPCERTFeed) fetchDocument(ctx context.Context) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "VulnDigest/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jpcert returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	return doc, nil
}

func (f *JPCERTFeed) extractAlerts(doc *goquery.Document) []domain.RawRecord {
	var records []domain.RawRecord
	seen := map[string]struct{}{}

	doc.Find("ul.list li").Each(func(_ int, li *goquery.Selection) {
		link := li.Find("a").First()
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}

		nativeID := strings.TrimSuffix(path.Base(href), path.Ext(href))
		if nativeID == "" {
			return
		}
		if _, dup := seen[nativeID]; dup {
			return
		}
		seen[nativeID] = struct{}{}

		title := strings.TrimSpace(li.Find("span.right_area").First().Text())
		if title == "" {
			title = strings.TrimSpace(link.Text())
		}
		dateText := strings.TrimSpace(li.Find("span.left_area").First().Text())

		if !strings.HasPrefix(href, "http") {
			href = "https://www.jpcert.or.jp" + href
		}

		// alerts on this page describe confirmed or imminent attacks
		records = append(records, domain.RawRecord{
			Source:      domain.SourceJPCERT,
			CVE:         cveExpr.FindString(title),
			NativeID:    nativeID,
			Title:       title,
			Description: title,
			PublishedAt: parseTime(dateText),
			Exploited:   true,
			References:  []domain.Reference{{Title: "JPCERT/CC注意喚起", URL: href}},
			URL:         href,
		})
	})

	return records
}
