package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"VulnDigest/internal/domain"
	"VulnDigest/internal/feed"
)

// SecGeminiFeed pulls the curated latest.json document. The document is
// either a bare array of items or an object wrapping them under "items".
type SecGeminiFeed struct {
	url    string
	client *http.Client
}

var _ feed.Feed = (*SecGeminiFeed)(nil)

// NewSecGeminiFeed wires the feed URL; a nil client gets a 30s timeout.
func NewSecGeminiFeed(url string, client *http.Client) *SecGeminiFeed {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SecGeminiFeed{url: url, client: client}
}

// Name identifies the source inside the registry.
func (f *SecGeminiFeed) Name() domain.Source {
	return domain.SourceSecGemini
}

type secGeminiItem struct {
	CVE        string          `json:"cve"`
	CVEID      string          `json:"cveId"`
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Summary    string          `json:"summary"`
	Published  string          `json:"published"`
	CVSS       *float64        `json:"cvss"`
	Vendor     string          `json:"vendor"`
	Product    string          `json:"product"`
	Exploited  bool            `json:"exploited"`
	References json.RawMessage `json:"references"`
	URL        string          `json:"url"`
}

// Fetch downloads and maps the curated feed.
func (f *SecGeminiFeed) Fetch(ctx context.Context, _ feed.Request) ([]domain.RawRecord, error) {
	if f.url == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "VulnDigest/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %s", resp.Status)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	items, err := secGeminiItems(raw)
	if err != nil {
		return nil, err
	}

	records := make([]domain.RawRecord, 0, len(items))
	for _, it := range items {
		cve := firstNonEmpty(it.CVE, it.CVEID, it.ID)
		payload, _ := json.Marshal(it)
		records = append(records, domain.RawRecord{
			Source:      domain.SourceSecGemini,
			CVE:         cve,
			NativeID:    it.ID,
			Title:       firstNonEmpty(it.Title, it.Summary),
			Description: firstNonEmpty(it.Summary, it.Title),
			PublishedAt: parseTime(it.Published),
			CVSS:        it.CVSS,
			Exploited:   it.Exploited,
			Vendor:      it.Vendor,
			Product:     it.Product,
			References:  parseReferences(it.References),
			URL:         it.URL,
			Raw:         payload,
		})
	}
	return records, nil
}

func secGeminiItems(raw json.RawMessage) ([]secGeminiItem, error) {
	var list []secGeminiItem
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Items []secGeminiItem `json:"items"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("unexpected feed payload: %w", err)
	}
	return wrapped.Items, nil
}

// parseReferences tolerates the reference shapes seen in the wild:
// [{title,url}], [[title,url]], ["http..."] and a single {title,url}.
func parseReferences(raw json.RawMessage) []domain.Reference {
	if len(raw) == 0 {
		return nil
	}

	var objs []struct {
		Title string `json:"title"`
		Name  string `json:"name"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(raw, &objs); err == nil {
		var refs []domain.Reference
		for _, o := range objs {
			if o.URL == "" {
				continue
			}
			refs = append(refs, domain.Reference{Title: firstNonEmpty(o.Title, o.Name, "参考情報"), URL: o.URL})
		}
		if len(refs) > 0 {
			return refs
		}
	}

	var pairs [][]string
	if err := json.Unmarshal(raw, &pairs); err == nil {
		var refs []domain.Reference
		for _, p := range pairs {
			if len(p) < 2 || p[1] == "" {
				continue
			}
			refs = append(refs, domain.Reference{Title: firstNonEmpty(p[0], "参考情報"), URL: p[1]})
		}
		if len(refs) > 0 {
			return refs
		}
	}

	var urls []string
	if err := json.Unmarshal(raw, &urls); err == nil {
		var refs []domain.Reference
		for _, u := range urls {
			if !strings.HasPrefix(u, "http") {
				continue
			}
			refs = append(refs, domain.Reference{Title: "参考情報", URL: u})
		}
		if len(refs) > 0 {
			return refs
		}
	}

	var single struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(raw, &single); err == nil && single.URL != "" {
		return []domain.Reference{{Title: firstNonEmpty(single.Title, "参考情報"), URL: single.URL}}
	}

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
