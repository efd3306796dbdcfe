package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"VulnDigest/internal/config"
	"VulnDigest/internal/domain"
	"VulnDigest/internal/ports"
	"VulnDigest/internal/render"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// OpenAIEnricher asks an OpenAI-compatible chat API for a localized
// article (title, summary, markdown body) for one record. Enrichment is
// cosmetic only; every failure maps to an EnrichmentError and the caller
// falls back to the rendered article.
type OpenAIEnricher struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	httpClient   *http.Client
}

var _ ports.Enricher = (*OpenAIEnricher)(nil)

// NewOpenAIEnricher builds a client from configuration.
func NewOpenAIEnricher(cfg config.OpenAIConfig) *OpenAIEnricher {
	return &OpenAIEnricher{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type enrichmentPayload struct {
	TitleJA   string `json:"title_ja"`
	SummaryJA string `json:"summary_ja"`
	BodyMD    string `json:"body_md"`
}

// Summarize requests the article material for one record.
func (c *OpenAIEnricher) Summarize(ctx context.Context, record domain.Record) (domain.Enrichment, error) {
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return domain.Enrichment{}, &domain.EnrichmentError{
			Identity: record.Identity,
			Err:      fmt.Errorf("openai client misconfigured"),
		}
	}

	body, err := json.Marshal(map[string]any{
		"model":       c.model,
		"temperature": 0.2,
		"messages": []map[string]string{
			{"role": "system", "content": c.systemPrompt},
			{"role": "user", "content": buildPrompt(record)},
		},
	})
	if err != nil {
		return domain.Enrichment{}, &domain.EnrichmentError{Identity: record.Identity, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Enrichment{}, &domain.EnrichmentError{Identity: record.Identity, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Enrichment{}, &domain.EnrichmentError{Identity: record.Identity, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.Enrichment{}, &domain.EnrichmentError{
			Identity: record.Identity,
			Err:      fmt.Errorf("openai error %s: %s", resp.Status, strings.TrimSpace(string(detail))),
		}
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return domain.Enrichment{}, &domain.EnrichmentError{Identity: record.Identity, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(chat.Choices) == 0 {
		return domain.Enrichment{}, &domain.EnrichmentError{Identity: record.Identity, Err: fmt.Errorf("empty completion")}
	}

	enrichment, err := parseEnrichment(chat.Choices[0].Message.Content)
	if err != nil {
		return domain.Enrichment{}, &domain.EnrichmentError{Identity: record.Identity, Err: err}
	}
	return enrichment, nil
}

func buildPrompt(r domain.Record) string {
	var refs []string
	for _, ref := range r.References {
		refs = append(refs, ref.URL)
	}

	return fmt.Sprintf(`対象: %s
ベンダ: %s / 製品: %s
CVSS: %s / 悪用確認: %t
公開日: %s
概要: %s
参考URL: %s

上記の脆弱性について、次のJSONのみを日本語で返答してください。
{"title_ja": "40〜60字のタイトル（ベンダ/製品名＋脆弱性の要点＋緊急度）",
 "summary_ja": "300〜500字で、非エンジニアも読める自然な日本語の概要",
 "body_md": "見出し・表・箇条書きを使ったMarkdown本文。再現性のある対策を明記すること。"}`,
		r.Identity, r.Vendor, r.Product, render.CVSSLabel(r.CVSS), r.Exploited,
		r.PublishedAt.UTC().Format("2006-01-02"), r.Description, strings.Join(refs, " "))
}

// parseEnrichment accepts either bare JSON or a fenced code block.
func parseEnrichment(content string) (domain.Enrichment, error) {
	blob := strings.TrimSpace(content)
	if m := fencedJSON.FindStringSubmatch(blob); m != nil {
		blob = m[1]
	}

	var payload enrichmentPayload
	if err := json.Unmarshal([]byte(blob), &payload); err != nil {
		return domain.Enrichment{}, fmt.Errorf("unparseable completion: %w", err)
	}
	if payload.TitleJA == "" && payload.BodyMD == "" {
		return domain.Enrichment{}, fmt.Errorf("completion carries no usable fields")
	}

	return domain.Enrichment{
		Title:        payload.TitleJA,
		Summary:      payload.SummaryJA,
		BodyMarkdown: payload.BodyMD,
	}, nil
}
