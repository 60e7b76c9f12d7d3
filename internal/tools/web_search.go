package tools

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/nextlevelbuilder/agentd/internal/config"
)

const (
	defaultSearchCount = 5
	maxSearchCount     = 10
)

// WebSearchTool queries the configured search backends in priority order
// and returns the first successful result set.
type WebSearchTool struct {
	backends []searchBackend
	cache    *webCache
}

// NewWebSearchTool builds the tool from the web tools config. Returns nil
// when no backend is usable, so callers can skip registration.
func NewWebSearchTool(cfg config.WebToolsConfig) *WebSearchTool {
	var backends []searchBackend
	if cfg.Brave.Enabled && cfg.Brave.APIKey != "" {
		backends = append(backends, newBraveBackend(cfg.Brave.APIKey, cfg.Brave.MaxResults))
	}
	if cfg.DuckDuckGo.Enabled {
		backends = append(backends, newDDGBackend(cfg.DuckDuckGo.MaxResults))
	}
	if len(backends) == 0 {
		return nil
	}
	return &WebSearchTool{
		backends: backends,
		cache:    newWebCache(defaultCacheMaxEntries, defaultCacheTTL),
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web for current information. Returns titles, URLs, and snippets from search results."
}

func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query string.",
			},
			"count": map[string]interface{}{
				"type":        "number",
				"description": "Number of results to return (1-10).",
				"minimum":     1.0,
				"maximum":     float64(maxSearchCount),
			},
			"country": map[string]interface{}{
				"type":        "string",
				"description": "2-letter country code for region-specific results (e.g., 'DE', 'US', 'ALL'). Default: 'US'.",
			},
			"search_lang": map[string]interface{}{
				"type":        "string",
				"description": "ISO language code for search results (e.g., 'de', 'en', 'fr').",
			},
			"ui_lang": map[string]interface{}{
				"type":        "string",
				"description": "ISO language code for UI elements.",
			},
			"freshness": map[string]interface{}{
				"type":        "string",
				"description": "Filter results by discovery time. Supports 'pd' (past day), 'pw' (past week), 'pm' (past month), 'py' (past year), and date range 'YYYY-MM-DDtoYYYY-MM-DD'.",
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	q, err := queryFromArgs(args)
	if err != nil {
		return ErrorResult(err.Error())
	}

	key := q.cacheKey()
	if cached, ok := t.cache.get(key); ok {
		slog.Debug("web_search cache hit", "query", q.Text)
		return NewResult(cached)
	}

	var lastErr error
	for _, backend := range t.backends {
		hits, err := backend.search(ctx, q)
		if err != nil {
			slog.Warn("search backend failed", "backend", backend.name(), "error", err)
			lastErr = err
			continue
		}

		out := wrapExternalContent(formatHits(q.Text, backend.name(), hits), "Web Search", false)
		t.cache.set(key, out)
		return NewResult(out)
	}

	if lastErr != nil {
		return ErrorResult(fmt.Sprintf("all search backends failed: %v", lastErr))
	}
	return ErrorResult("no search backends configured")
}

func queryFromArgs(args map[string]interface{}) (searchQuery, error) {
	text, _ := args["query"].(string)
	if strings.TrimSpace(text) == "" {
		return searchQuery{}, fmt.Errorf("query is required")
	}

	count := defaultSearchCount
	if c, ok := args["count"].(float64); ok && int(c) >= 1 && int(c) <= maxSearchCount {
		count = int(c)
	}

	q := searchQuery{Text: text, Count: count}
	q.Country, _ = args["country"].(string)
	q.SearchLang, _ = args["search_lang"].(string)
	q.UILang, _ = args["ui_lang"].(string)
	if f, ok := args["freshness"].(string); ok {
		q.Freshness = normalizeFreshness(f)
	}
	return q, nil
}

func (q searchQuery) cacheKey() string {
	return fmt.Sprintf("search:%s:%d:%s:%s:%s:%s",
		q.Text, q.Count, q.Country, q.SearchLang, q.UILang, q.Freshness)
}

var freshnessRangeRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})to(\d{4}-\d{2}-\d{2})$`)

// normalizeFreshness accepts the shortcut values and valid date ranges;
// anything else is dropped rather than passed through to a backend.
func normalizeFreshness(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "":
		return ""
	case "pd", "pw", "pm", "py":
		return v
	}
	if m := freshnessRangeRe.FindStringSubmatch(v); len(m) == 3 {
		start, errStart := time.Parse("2006-01-02", m[1])
		end, errEnd := time.Parse("2006-01-02", m[2])
		if errStart == nil && errEnd == nil && !start.After(end) {
			return v
		}
	}
	return ""
}

func formatHits(query, backend string, hits []searchHit) string {
	if len(hits) == 0 {
		return fmt.Sprintf("No results found for: %s", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for: %s (via %s)\n\n", query, backend)
	for i, h := range hits {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, h.Title, h.URL)
		if h.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", h.Snippet)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
