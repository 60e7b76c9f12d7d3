package tools

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/agentd/internal/config"
)

func TestNewWebSearchToolBackendSelection(t *testing.T) {
	if tool := NewWebSearchTool(config.WebToolsConfig{}); tool != nil {
		t.Error("expected nil tool with no backends enabled")
	}

	// Brave without an API key is unusable and must not be registered.
	tool := NewWebSearchTool(config.WebToolsConfig{
		Brave: config.BraveConfig{Enabled: true},
	})
	if tool != nil {
		t.Error("expected nil tool when brave has no key")
	}

	tool = NewWebSearchTool(config.WebToolsConfig{
		Brave:      config.BraveConfig{Enabled: true, APIKey: "k", MaxResults: 3},
		DuckDuckGo: config.DuckDuckGoConfig{Enabled: true, MaxResults: 4},
	})
	if tool == nil {
		t.Fatal("expected tool with both backends")
	}
	if len(tool.backends) != 2 || tool.backends[0].name() != "brave" || tool.backends[1].name() != "duckduckgo" {
		t.Errorf("backend order: %d backends", len(tool.backends))
	}
}

func TestQueryFromArgs(t *testing.T) {
	if _, err := queryFromArgs(map[string]interface{}{"query": "  "}); err == nil {
		t.Error("blank query accepted")
	}

	q, err := queryFromArgs(map[string]interface{}{"query": "golang"})
	if err != nil {
		t.Fatal(err)
	}
	if q.Count != defaultSearchCount {
		t.Errorf("default count = %d", q.Count)
	}

	q, _ = queryFromArgs(map[string]interface{}{
		"query":     "golang",
		"count":     float64(7),
		"country":   "DE",
		"freshness": "PW",
	})
	if q.Count != 7 || q.Country != "DE" || q.Freshness != "pw" {
		t.Errorf("got %+v", q)
	}

	// Out-of-range counts fall back to the default.
	q, _ = queryFromArgs(map[string]interface{}{"query": "x", "count": float64(99)})
	if q.Count != defaultSearchCount {
		t.Errorf("count = %d", q.Count)
	}
}

func TestNormalizeFreshness(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"pd", "pd"},
		{"PW", "pw"},
		{" pm ", "pm"},
		{"py", "py"},
		{"yesterday", ""},
		{"2024-01-01to2024-02-01", "2024-01-01to2024-02-01"},
		{"2024-02-01to2024-01-01", ""},
		{"2024-13-40to2024-12-31", ""},
	}
	for _, c := range cases {
		if got := normalizeFreshness(c.in); got != c.want {
			t.Errorf("normalizeFreshness(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseDDGPage(t *testing.T) {
	page := `<div class="result">
<a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fdocs&amp;rut=abc">Example <b>Docs</b></a>
<a class="result__snippet" href="#">The <b>official</b> documentation.</a>
</div>
<div class="result">
<a rel="nofollow" class="result__a" href="https://plain.example.org/">Plain Result</a>
<a class="result__snippet" href="#">Second snippet.</a>
</div>`

	hits := parseDDGPage(page, 10)
	if len(hits) != 2 {
		t.Fatalf("hits = %d", len(hits))
	}
	if hits[0].Title != "Example Docs" {
		t.Errorf("title = %q", hits[0].Title)
	}
	if hits[0].URL != "https://example.com/docs" {
		t.Errorf("redirect not unwrapped: %q", hits[0].URL)
	}
	if hits[0].Snippet != "The official documentation." {
		t.Errorf("snippet = %q", hits[0].Snippet)
	}
	if hits[1].URL != "https://plain.example.org/" {
		t.Errorf("plain url = %q", hits[1].URL)
	}

	if got := parseDDGPage(page, 1); len(got) != 1 {
		t.Errorf("count cap ignored: %d hits", len(got))
	}
}

func TestBackendsCapResultCount(t *testing.T) {
	b := newBraveBackend("key", 0)
	if b.maxResults != maxSearchCount {
		t.Errorf("brave default cap = %d", b.maxResults)
	}
	d := newDDGBackend(2)
	if d.maxResults != 2 {
		t.Errorf("ddg cap = %d", d.maxResults)
	}
}

func TestFormatHits(t *testing.T) {
	out := formatHits("empty query", "brave", nil)
	if !strings.Contains(out, "No results found") {
		t.Errorf("got %q", out)
	}

	out = formatHits("golang", "duckduckgo", []searchHit{
		{Title: "Go", URL: "https://go.dev", Snippet: "The Go programming language."},
	})
	for _, want := range []string{"golang", "duckduckgo", "1. Go", "https://go.dev", "The Go programming language."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
