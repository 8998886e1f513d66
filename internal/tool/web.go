package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
)

const (
	maxFetchSize      = 50 * 1024 // 50KB text output
	fetchTimeout      = 30 * time.Second
	defaultNumResults = 5
	braveSearchURL    = "https://api.search.brave.com/res/v1/web/search"
)

// --- WebSearch ---

// WebSearchTool searches the web using the Brave Search API.
type WebSearchTool struct {
	APIKey  string
	BaseURL string // overrides the Brave endpoint, for tests
	Client  *http.Client
}

func (t *WebSearchTool) Name() string        { return "web_search" }
func (t *WebSearchTool) Description() string { return "Search the web and return top results" }
func (t *WebSearchTool) Params() []Param {
	return []Param{
		{Name: "query", Type: "string", Description: "Search query", Required: true},
		{Name: "count", Type: "integer", Description: "Number of results (default 5)", Default: defaultNumResults},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	query := strings.TrimSpace(getString(args, "query"))
	if query == "" {
		return Errorf("web_search: query is required"), nil
	}
	if t.APIKey == "" {
		return Errorf("web search is not available (no API key configured)"), nil
	}

	base := t.BaseURL
	if base == "" {
		base = braveSearchURL
	}
	count := getInt(args, "count", defaultNumResults)
	reqURL := fmt.Sprintf("%s?q=%s&count=%d", base, url.QueryEscape(query), count)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("web_search: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.APIKey)

	resp, err := t.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("web_search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("web_search: API returned %d: %s", resp.StatusCode, string(body))
	}

	var result braveSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("web_search: parse response: %w", err)
	}

	var b strings.Builder
	for i, r := range result.Web.Results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n\n", i+1, r.Title, r.URL, r.Description)
	}
	if b.Len() == 0 {
		return Success("No results found."), nil
	}
	return Success(b.String()).WithMeta("results", len(result.Web.Results)), nil
}

func (t *WebSearchTool) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return &http.Client{Timeout: fetchTimeout}
}

type braveSearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

type braveSearchResponse struct {
	Web struct {
		Results []braveSearchResult `json:"results"`
	} `json:"web"`
}

// --- WebFetch ---

// WebFetchTool fetches a URL and extracts readable content.
type WebFetchTool struct {
	Client *http.Client
}

func (t *WebFetchTool) Name() string        { return "web_fetch" }
func (t *WebFetchTool) Description() string { return "Fetch a URL and extract readable text content" }
func (t *WebFetchTool) Params() []Param {
	return []Param{
		{Name: "url", Type: "string", Description: "URL to fetch", Required: true},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	rawURL := getString(args, "url")
	if rawURL == "" {
		return Errorf("web_fetch: url is required"), nil
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil || (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") {
		return Errorf("web_fetch: invalid URL %q", rawURL), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("web_fetch: %w", err)
	}
	req.Header.Set("User-Agent", "swarm-agent/1.0")

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web_fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web_fetch: HTTP %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")

	// For non-HTML content, return raw text (truncated)
	if !strings.Contains(contentType, "text/html") {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, int64(maxFetchSize)))
		return Success(string(body)).WithMeta("content_type", contentType), nil
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return nil, fmt.Errorf("web_fetch: parse: %w", err)
	}

	var textBuf bytes.Buffer
	if err := article.RenderText(&textBuf); err != nil {
		return nil, fmt.Errorf("web_fetch: render: %w", err)
	}

	text := textBuf.String()
	wordCount := len(strings.Fields(text))

	if len(text) > maxFetchSize {
		text = text[:maxFetchSize] + "\n... [truncated]"
	}

	out := fmt.Sprintf("Title: %s\nURL: %s\nWords: %d\n\n%s", article.Title(), rawURL, wordCount, text)
	return Success(out).WithMeta("title", article.Title()).WithMeta("words", wordCount), nil
}
