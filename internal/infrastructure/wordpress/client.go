package wordpress

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"VulnDigest/internal/domain"
	"VulnDigest/internal/ports"
)

// Client creates draft posts through the WordPress REST v2 API using an
// Application Password. The markdown body is converted to HTML before
// submission; tables are common in the rendered articles, so the GFM
// extension is enabled.
type Client struct {
	baseURL     string
	user        string
	appPassword string
	httpClient  *http.Client
	markdown    goldmark.Markdown
}

var _ ports.Publisher = (*Client)(nil)

// NewClient wires the site base URL and credentials.
func NewClient(baseURL, user, appPassword string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		user:        user,
		appPassword: appPassword,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		markdown:    goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

func (c *Client) authHeader() string {
	token := base64.StdEncoding.EncodeToString([]byte(c.user + ":" + c.appPassword))
	return "Basic " + token
}

// Publish converts the post body to HTML, optionally uploads the hero
// image as featured media, and creates a draft. Returns the post id.
func (c *Client) Publish(ctx context.Context, post domain.Post) (int64, error) {
	if c.baseURL == "" || c.user == "" || c.appPassword == "" {
		return 0, &domain.PublishError{Identity: post.Identity, Err: fmt.Errorf("wordpress client misconfigured")}
	}

	var html bytes.Buffer
	if err := c.markdown.Convert([]byte(post.BodyMarkdown), &html); err != nil {
		return 0, &domain.PublishError{Identity: post.Identity, Err: fmt.Errorf("render markdown: %w", err)}
	}

	content := html.String()
	var featuredMedia int64
	if post.HeroImageURL != "" {
		// the inline figure keeps working even when the upload fails
		content = fmt.Sprintf(
			"<figure class=\"wp-block-image size-large\"><img src=%q alt=\"脆弱性情報\" /></figure>\n\n%s",
			post.HeroImageURL, content)
		featuredMedia = c.uploadHero(ctx, post.HeroImageURL)
	}

	payload := map[string]any{
		"title":   post.Title,
		"status":  "draft",
		"content": content,
	}
	if featuredMedia > 0 {
		payload["featured_media"] = featuredMedia
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, &domain.PublishError{Identity: post.Identity, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/wp-json/wp/v2/posts", bytes.NewReader(body))
	if err != nil {
		return 0, &domain.PublishError{Identity: post.Identity, Err: err}
	}
	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &domain.PublishError{Identity: post.Identity, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, &domain.PublishError{
			Identity: post.Identity,
			Err:      fmt.Errorf("wordpress error %s: %s", resp.Status, strings.TrimSpace(string(detail))),
		}
	}

	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return 0, &domain.PublishError{Identity: post.Identity, Err: fmt.Errorf("decode response: %w", err)}
	}
	if created.ID == 0 {
		return 0, &domain.PublishError{Identity: post.Identity, Err: fmt.Errorf("response carries no post id")}
	}

	return created.ID, nil
}

// uploadHero downloads the image and uploads it to the media endpoint.
// Best effort: any failure returns 0 and the post goes out without a
// featured image.
func (c *Client) uploadHero(ctx context.Context, imageURL string) int64 {
	content, contentType, err := c.download(ctx, imageURL)
	if err != nil {
		return 0
	}

	filename := heroFilename(imageURL)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return 0
	}
	if _, err := part.Write(content); err != nil {
		return 0
	}
	if err := writer.Close(); err != nil {
		return 0
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/wp-json/wp/v2/media", &buf)
	if err != nil {
		return 0
	}
	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return 0
	}

	var media struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&media); err != nil {
		return 0
	}
	return media.ID
}

func (c *Client) download(ctx context.Context, u string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image returned %s", resp.Status)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, "", err
	}
	return content, resp.Header.Get("Content-Type"), nil
}

// heroFilename keeps only the extension of the original name; some
// themes reject non-ASCII filenames.
func heroFilename(imageURL string) string {
	ext := ".jpg"
	if parsed, err := url.Parse(imageURL); err == nil {
		if e := path.Ext(parsed.Path); e != "" {
			ext = e
		}
	}
	return "hero" + ext
}
