package feeds

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"VulnDigest/internal/ports"
)

// KEVCatalog fetches the CISA Known Exploited Vulnerabilities id set.
// Endpoint URLs are tried in order (JSON first, CSV mirror second); a
// catalog that cannot be fetched degrades to an empty set upstream.
type KEVCatalog struct {
	urls   []string
	client *http.Client
}

var _ ports.ExploitCatalog = (*KEVCatalog)(nil)

// NewKEVCatalog wires the catalog endpoints; a nil client gets a 30s
// timeout.
func NewKEVCatalog(urls []string, client *http.Client) *KEVCatalog {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &KEVCatalog{urls: urls, client: client}
}

// KnownExploited returns the set of CVE ids listed in the catalog.
func (k *KEVCatalog) KnownExploited(ctx context.Context) (map[string]bool, error) {
	var lastErr error
	for _, u := range k.urls {
		ids, err := k.fetchOne(ctx, u)
		if err != nil {
			lastErr = err
			continue
		}
		if len(ids) > 0 {
			return ids, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return map[string]bool{}, nil
}

func (k *KEVCatalog) fetchOne(ctx context.Context, u string) (map[string]bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "VulnDigest/1.0")

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned %s", resp.Status)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(contentType, "json") || strings.HasSuffix(u, ".json") {
		return parseKEVJSON(resp.Body)
	}
	return parseKEVCSV(resp.Body)
}

func parseKEVJSON(r io.Reader) (map[string]bool, error) {
	var payload struct {
		Vulnerabilities []struct {
			CVEID string `json:"cveID"`
			Alt   string `json:"cveId"`
		} `json:"vulnerabilities"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode catalog json: %w", err)
	}

	ids := map[string]bool{}
	for _, v := range payload.Vulnerabilities {
		if id := firstNonEmpty(v.CVEID, v.Alt); id != "" {
			ids[strings.ToUpper(id)] = true
		}
	}
	return ids, nil
}

func parseKEVCSV(r io.Reader) (map[string]bool, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read catalog csv header: %w", err)
	}

	cveCol := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "cveID") {
			cveCol = i
			break
		}
	}
	if cveCol < 0 {
		return nil, fmt.Errorf("catalog csv has no cveID column")
	}

	ids := map[string]bool{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read catalog csv: %w", err)
		}
		if cveCol < len(row) {
			if id := strings.TrimSpace(row[cveCol]); id != "" {
				ids[strings.ToUpper(id)] = true
			}
		}
	}
	return ids, nil
}
