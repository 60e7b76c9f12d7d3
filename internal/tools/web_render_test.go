package tools

import (
	"strings"
	"testing"
)

func TestRenderMarkdown(t *testing.T) {
	page := `<html><head><script>var x = 1;</script><style>.a{}</style></head>
<body><nav>menu</nav>
<h1>Main Title</h1>
<p>Intro with <strong>bold</strong> and <em>italic</em> text.</p>
<h2>Links</h2>
<p>See <a href="https://example.com/docs">the docs</a> for more.</p>
<ul><li>first</li><li>second</li></ul>
<p>Inline <code>fmt.Println</code> call.</p>
<footer>copyright</footer></body></html>`

	out := renderMarkdown(page)

	for _, want := range []string{
		"# Main Title",
		"## Links",
		"**bold**",
		"*italic*",
		"[the docs](https://example.com/docs)",
		"- first",
		"- second",
		"`fmt.Println`",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	for _, gone := range []string{"var x = 1", ".a{}", "menu", "copyright", "<p>", "</h1>"} {
		if strings.Contains(out, gone) {
			t.Errorf("output still contains %q:\n%s", gone, out)
		}
	}
}

func TestRenderText(t *testing.T) {
	page := `<body><h1>Title</h1><p>One &amp; two.</p><ul><li>item</li></ul><p>Done<br>here.</p></body>`
	out := renderText(page)

	for _, want := range []string{"Title", "One & two.", "- item", "Done", "here."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "<") {
		t.Errorf("tags survived: %s", out)
	}
	for _, line := range strings.Split(out, "\n") {
		if line != strings.TrimSpace(line) || line == "" {
			t.Errorf("untidy line %q in:\n%s", line, out)
		}
	}
}

func TestMarkdownToPlain(t *testing.T) {
	md := "# Heading\n\nSome **bold** and `code` and [a link](https://example.com).\n"
	out := markdownToPlain(md)

	for _, want := range []string{"Heading", "bold", "code", "a link"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
	for _, gone := range []string{"#", "**", "`", "https://example.com"} {
		if strings.Contains(out, gone) {
			t.Errorf("markup survived %q: %s", gone, out)
		}
	}
}

func TestRenderJSON(t *testing.T) {
	text, extractor := renderJSON([]byte(`{"b":1,"a":[2,3]}`))
	if extractor != "json" {
		t.Fatalf("extractor = %q", extractor)
	}
	if !strings.Contains(text, "\n  ") {
		t.Errorf("not indented: %s", text)
	}

	text, extractor = renderJSON([]byte(`not json at all`))
	if extractor != "raw" || text != "not json at all" {
		t.Errorf("fallback = %q, %q", text, extractor)
	}
}

func TestClip(t *testing.T) {
	if got := clip("short", 10); got != "short" {
		t.Errorf("clip under limit = %q", got)
	}
	if got := clip("0123456789abc", 10); got != "0123456789..." {
		t.Errorf("clip over limit = %q", got)
	}
}
