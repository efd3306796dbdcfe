package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"VulnDigest/internal/domain"
	"VulnDigest/internal/feed"
)

// JVNFeed queries the MyJVN getVulnOverviewList API. JVN entries carry a
// JVNDB identifier and usually, but not always, a CVE id.
type JVNFeed struct {
	baseURL string
	client  *http.Client
}

var _ feed.Feed = (*JVNFeed)(nil)

// NewJVNFeed wires the MyJVN endpoint; a nil client gets a 30s timeout.
func NewJVNFeed(baseURL string, client *http.Client) *JVNFeed {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &JVNFeed{baseURL: baseURL, client: client}
}

// Name identifies the source inside the registry.
func (f *JVNFeed) Name() domain.Source {
	return domain.SourceJVN
}

// flexText tolerates MyJVN's habit of emitting either a bare string or
// an object with the text under "$t".
type flexText struct {
	Value string
}

func (t *flexText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Value = s
		return nil
	}
	var obj struct {
		T string `json:"$t"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	t.Value = obj.T
	return nil
}

// flexTextList accepts a single element or a list of them.
type flexTextList struct {
	Values []string
}

func (l *flexTextList) UnmarshalJSON(data []byte) error {
	var many []flexText
	if err := json.Unmarshal(data, &many); err == nil {
		for _, t := range many {
			l.Values = append(l.Values, t.Value)
		}
		return nil
	}
	var one flexText
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	l.Values = []string{one.Value}
	return nil
}

type jvnItem struct {
	Title       flexText     `json:"title"`
	Description flexText     `json:"description"`
	Identifier  flexTextList `json:"sec:identifier"`
	AltID       flexTextList `json:"identifier"`
	Issued      flexText     `json:"sec:issued"`
	Published   flexText     `json:"published"`
	CVSS        struct {
		Score flexText `json:"sec:score"`
		Alt   flexText `json:"score"`
	} `json:"sec:cvss"`
	Link struct {
		Href string `json:"@href"`
		Alt  string `json:"href"`
	} `json:"link"`
}

type jvnResponse struct {
	Item     []jvnItem `json:"item"`
	Items    []jvnItem `json:"items"`
	VulnInfo []jvnItem `json:"vulninfo"`
}

// Fetch pulls the recent overview list sized to the lookback window.
func (f *JVNFeed) Fetch(ctx context.Context, req feed.Request) ([]domain.RawRecord, error) {
	days := int(math.Ceil(req.Lookback.Hours() / 24))
	if days < 1 {
		days = 1
	}

	u, err := url.Parse(f.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %s: %w", f.baseURL, err)
	}
	q := u.Query()
	q.Set("method", "getVulnOverviewList")
	q.Set("feed", "hnd")
	q.Set("rangeDatePublic", strconv.Itoa(days))
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "VulnDigest/1.0")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request jvn: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jvn returned %s", resp.Status)
	}

	var payload jvnResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode jvn response: %w", err)
	}

	items := payload.Item
	if len(items) == 0 {
		items = payload.Items
	}
	if len(items) == 0 {
		items = payload.VulnInfo
	}

	records := make([]domain.RawRecord, 0, len(items))
	for _, it := range items {
		cve, native := jvnIdentifiers(it)
		if cve == "" && native == "" {
			continue
		}

		link := firstNonEmpty(it.Link.Href, it.Link.Alt)
		var refs []domain.Reference
		if link != "" {
			refs = append(refs, domain.Reference{Title: "JVN詳細", URL: link})
		}

		raw, _ := json.Marshal(it)
		records = append(records, domain.RawRecord{
			Source:      domain.SourceJVN,
			CVE:         cve,
			NativeID:    native,
			Title:       it.Title.Value,
			Description: firstNonEmpty(it.Description.Value, it.Title.Value),
			PublishedAt: parseTime(firstNonEmpty(it.Issued.Value, it.Published.Value)),
			CVSS:        jvnScore(it),
			References:  refs,
			URL:         link,
			Raw:         raw,
		})
	}
	return records, nil
}

// jvnIdentifiers returns the CVE id (when listed) and the JVNDB native id.
func jvnIdentifiers(it jvnItem) (cve, native string) {
	ids := append(append([]string{}, it.Identifier.Values...), it.AltID.Values...)
	for _, id := range ids {
		id = strings.TrimSpace(id)
		switch {
		case strings.HasPrefix(id, "CVE-"):
			if cve == "" {
				cve = id
			}
		case id != "" && native == "":
			native = id
		}
	}
	return cve, native
}

func jvnScore(it jvnItem) *float64 {
	raw := firstNonEmpty(it.CVSS.Score.Value, it.CVSS.Alt.Value)
	if raw == "" {
		return nil
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &score
}
