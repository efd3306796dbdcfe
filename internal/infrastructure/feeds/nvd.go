package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"VulnDigest/internal/domain"
	"VulnDigest/internal/feed"
)

// NVDFeed queries the NVD 2.0 API for CVEs published inside the lookback
// window.
type NVDFeed struct {
	baseURL    string
	apiKey     string
	maxResults int
	client     *http.Client
}

var _ feed.Feed = (*NVDFeed)(nil)

// NewNVDFeed wires the API endpoint; a nil client gets a 60s timeout
// (the NVD API is slow without an API key).
func NewNVDFeed(baseURL, apiKey string, maxResults int, client *http.Client) *NVDFeed {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if maxResults <= 0 {
		maxResults = 200
	}
	return &NVDFeed{baseURL: baseURL, apiKey: apiKey, maxResults: maxResults, client: client}
}

// Name identifies the source inside the registry.
func (f *NVDFeed) Name() domain.Source {
	return domain.SourceNVD
}

// NVD 2.0 response subset; field names follow the published schema.
type nvdResponse struct {
	Vulnerabilities []struct {
		CVE nvdCVE `json:"cve"`
	} `json:"vulnerabilities"`
}

type nvdCVE struct {
	ID           string `json:"id"`
	Published    string `json:"published"`
	Descriptions []struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
	} `json:"descriptions"`
	References []struct {
		URL    string   `json:"url"`
		Source string   `json:"source"`
		Name   string   `json:"name"`
		Tags   []string `json:"tags"`
	} `json:"references"`
	Metrics struct {
		CvssMetricV40 []nvdMetric `json:"cvssMetricV40"`
		CvssMetricV31 []nvdMetric `json:"cvssMetricV31"`
		CvssMetricV30 []nvdMetric `json:"cvssMetricV30"`
	} `json:"metrics"`
	Configurations []struct {
		Nodes []struct {
			CPEMatch []struct {
				Criteria string `json:"criteria"`
			} `json:"cpeMatch"`
		} `json:"nodes"`
	} `json:"configurations"`
}

type nvdMetric struct {
	CvssData struct {
		BaseScore float64 `json:"baseScore"`
	} `json:"cvssData"`
}

// Fetch queries the publication window ending at req.Now.
func (f *NVDFeed) Fetch(ctx context.Context, req feed.Request) ([]domain.RawRecord, error) {
	end := req.Now.UTC()
	start := end.Add(-req.Lookback)

	u, err := url.Parse(f.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %s: %w", f.baseURL, err)
	}
	q := u.Query()
	q.Set("pubStartDate", start.Format("2006-01-02T15:04:05Z"))
	q.Set("pubEndDate", end.Format("2006-01-02T15:04:05Z"))
	q.Set("resultsPerPage", strconv.Itoa(f.maxResults))
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "VulnDigest/1.0")
	if f.apiKey != "" {
		httpReq.Header.Set("apiKey", f.apiKey)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request nvd: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nvd returned %s", resp.Status)
	}

	var payload nvdResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode nvd response: %w", err)
	}

	records := make([]domain.RawRecord, 0, len(payload.Vulnerabilities))
	for _, item := range payload.Vulnerabilities {
		cve := item.CVE
		if strings.TrimSpace(cve.ID) == "" {
			continue
		}

		raw, _ := json.Marshal(cve)
		vendor, product := cveVendorProduct(cve)
		records = append(records, domain.RawRecord{
			Source:      domain.SourceNVD,
			CVE:         cve.ID,
			NativeID:    cve.ID,
			Title:       cveDescription(cve),
			Description: cveDescription(cve),
			PublishedAt: parseTime(cve.Published),
			CVSS:        cveScore(cve),
			Vendor:      vendor,
			Product:     product,
			References:  cveReferences(cve),
			URL:         "https://nvd.nist.gov/vuln/detail/" + cve.ID,
			Raw:         raw,
		})
	}
	return records, nil
}

func cveDescription(cve nvdCVE) string {
	for _, d := range cve.Descriptions {
		lang := strings.ToLower(d.Lang)
		if lang == "en" || lang == "ja" {
			return d.Value
		}
	}
	if len(cve.Descriptions) > 0 {
		return cve.Descriptions[0].Value
	}
	return ""
}

// cveScore prefers the newest CVSS version carrying a base score.
func cveScore(cve nvdCVE) *float64 {
	for _, metrics := range [][]nvdMetric{
		cve.Metrics.CvssMetricV40,
		cve.Metrics.CvssMetricV31,
		cve.Metrics.CvssMetricV30,
	} {
		if len(metrics) > 0 {
			score := metrics[0].CvssData.BaseScore
			return &score
		}
	}
	return nil
}

func cveReferences(cve nvdCVE) []domain.Reference {
	var refs []domain.Reference
	for _, ref := range cve.References {
		if ref.URL == "" {
			continue
		}
		title := ref.Name
		if title == "" {
			title = ref.Source
		}
		if title == "" && len(ref.Tags) > 0 {
			title = strings.Join(ref.Tags, ", ")
		}
		if title == "" {
			title = "reference"
		}
		refs = append(refs, domain.Reference{Title: title, URL: ref.URL})
	}
	return refs
}

// cveVendorProduct extracts vendor/product from the first CPE criteria
// ("cpe:2.3:a:vendor:product:...").
func cveVendorProduct(cve nvdCVE) (string, string) {
	for _, cfg := range cve.Configurations {
		for _, node := range cfg.Nodes {
			for _, match := range node.CPEMatch {
				parts := strings.Split(match.Criteria, ":")
				if len(parts) >= 5 {
					vendor := strings.ReplaceAll(parts[3], "_", " ")
					product := strings.ReplaceAll(parts[4], "_", " ")
					return vendor, product
				}
			}
		}
	}
	return "", ""
}
