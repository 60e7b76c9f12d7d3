package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	braveEndpoint = "https://api.search.brave.com/res/v1/web/search"
	ddgEndpoint   = "https://html.duckduckgo.com/html/"

	searchTimeout = 30 * time.Second
	webUserAgent  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// searchQuery carries the normalized arguments of one search call.
type searchQuery struct {
	Text       string
	Count      int
	Country    string
	SearchLang string
	UILang     string
	Freshness  string
}

// searchHit is one result row, backend-independent.
type searchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// searchBackend is one concrete search source. Backends cap the result
// count at their configured maximum.
type searchBackend interface {
	name() string
	search(ctx context.Context, q searchQuery) ([]searchHit, error)
}

func newSearchHTTPClient() *http.Client {
	return &http.Client{Timeout: searchTimeout}
}

// --- Brave ---

type braveBackend struct {
	apiKey     string
	maxResults int
	client     *http.Client
}

func newBraveBackend(apiKey string, maxResults int) *braveBackend {
	if maxResults <= 0 {
		maxResults = maxSearchCount
	}
	return &braveBackend{apiKey: apiKey, maxResults: maxResults, client: newSearchHTTPClient()}
}

func (b *braveBackend) name() string { return "brave" }

func (b *braveBackend) search(ctx context.Context, q searchQuery) ([]searchHit, error) {
	count := q.Count
	if count > b.maxResults {
		count = b.maxResults
	}

	params := url.Values{
		"q":     {q.Text},
		"count": {strconv.Itoa(count)},
	}
	for key, val := range map[string]string{
		"country":     q.Country,
		"search_lang": q.SearchLang,
		"ui_lang":     q.UILang,
		"freshness":   q.Freshness,
	} {
		if val != "" {
			params.Set(key, val)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, braveEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("brave status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("brave decode: %w", err)
	}

	hits := make([]searchHit, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		hits = append(hits, searchHit{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return hits, nil
}

// --- DuckDuckGo (HTML endpoint, no API key) ---

type ddgBackend struct {
	maxResults int
	client     *http.Client
}

func newDDGBackend(maxResults int) *ddgBackend {
	if maxResults <= 0 {
		maxResults = maxSearchCount
	}
	return &ddgBackend{maxResults: maxResults, client: newSearchHTTPClient()}
}

func (d *ddgBackend) name() string { return "duckduckgo" }

func (d *ddgBackend) search(ctx context.Context, q searchQuery) ([]searchHit, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		ddgEndpoint+"?q="+url.QueryEscape(q.Text), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", webUserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	count := q.Count
	if count > d.maxResults {
		count = d.maxResults
	}
	return parseDDGPage(string(body), count), nil
}

var (
	ddgResultRe  = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgSnippetRe = regexp.MustCompile(`<a class="result__snippet[^"]*"[^>]*>([\s\S]*?)</a>`)
)

// parseDDGPage scrapes result rows out of the HTML-only endpoint.
func parseDDGPage(page string, count int) []searchHit {
	links := ddgResultRe.FindAllStringSubmatch(page, count+5)
	snippets := ddgSnippetRe.FindAllStringSubmatch(page, count+5)

	var hits []searchHit
	for i, m := range links {
		if len(hits) == count {
			break
		}
		hit := searchHit{
			Title: strings.TrimSpace(stripTags(m[2])),
			URL:   resolveDDGLink(m[1]),
		}
		if i < len(snippets) {
			hit.Snippet = strings.TrimSpace(stripTags(snippets[i][1]))
		}
		hits = append(hits, hit)
	}
	return hits
}

// resolveDDGLink unwraps the //duckduckgo.com/l/?uddg=<target> redirect
// the HTML endpoint puts around every result.
func resolveDDGLink(raw string) string {
	if !strings.Contains(raw, "uddg=") {
		return raw
	}
	u, err := url.Parse(html.UnescapeString(raw))
	if err != nil {
		return raw
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return raw
}
