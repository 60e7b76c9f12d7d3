package tools

import (
	"encoding/json"
	"html"
	"regexp"
	"strings"
)

// HTML-to-text rendering for fetched pages. Regex-based on purpose: pages
// from the open web are frequently malformed, and the goal is readable
// model input, not a DOM.

var (
	reTag     = regexp.MustCompile(`<[^>]+>`)
	reMultiNL = regexp.MustCompile(`\n{3,}`)
	reMultiSP = regexp.MustCompile(`[ \t]{2,}`)
	reHeading = regexp.MustCompile(`(?is)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
)

// chrome matches non-content regions dropped before any rendering.
var chrome = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script[\s\S]*?</script>`),
	regexp.MustCompile(`(?is)<style[\s\S]*?</style>`),
	regexp.MustCompile(`<!--[\s\S]*?-->`),
	regexp.MustCompile(`(?is)<nav[\s\S]*?</nav>`),
	regexp.MustCompile(`(?is)<header[\s\S]*?</header>`),
	regexp.MustCompile(`(?is)<footer[\s\S]*?</footer>`),
}

type renderRule struct {
	re   *regexp.Regexp
	repl string
}

// inlineRules rewrite HTML constructs into markdown, applied in order.
// Pre/code run first so their contents survive verbatim.
var inlineRules = []renderRule{
	{regexp.MustCompile(`(?is)<pre[^>]*>(.*?)</pre>`), "\n```\n$1\n```\n"},
	{regexp.MustCompile(`(?is)<code[^>]*>(.*?)</code>`), "`$1`"},
	{regexp.MustCompile(`(?is)<a[^>]*href="([^"]*)"[^>]*>(.*?)</a>`), "[$2]($1)"},
	{regexp.MustCompile(`(?i)<img[^>]*alt="([^"]*)"[^>]*/?>`), "![$1]"},
	{regexp.MustCompile(`(?is)<(?:strong|b)[^>]*>(.*?)</(?:strong|b)>`), "**$1**"},
	{regexp.MustCompile(`(?is)<(?:em|i)[^>]*>(.*?)</(?:em|i)>`), "*$1*"},
}

// structureRules keep paragraph, list, and line-break shape. Shared by
// both render modes.
var structureRules = []renderRule{
	{regexp.MustCompile(`(?is)<p[^>]*>(.*?)</p>`), "\n$1\n"},
	{regexp.MustCompile(`(?is)<li[^>]*>(.*?)</li>`), "\n- $1"},
	{regexp.MustCompile(`(?i)<br\s*/?>`), "\n"},
}

func applyRules(s string, rules []renderRule) string {
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

var reBlockquote = regexp.MustCompile(`(?is)<blockquote[^>]*>(.*?)</blockquote>`)

// renderMarkdown converts an HTML page into markdown-ish text.
func renderMarkdown(page string) string {
	s := stripChrome(page)

	s = reHeading.ReplaceAllStringFunc(s, func(m string) string {
		parts := reHeading.FindStringSubmatch(m)
		level := int(parts[1][0] - '0')
		return "\n" + strings.Repeat("#", level) + " " + parts[2] + "\n"
	})

	s = reBlockquote.ReplaceAllStringFunc(s, func(m string) string {
		inner := reBlockquote.FindStringSubmatch(m)[1]
		var quoted []string
		for _, line := range strings.Split(strings.TrimSpace(inner), "\n") {
			quoted = append(quoted, "> "+strings.TrimSpace(line))
		}
		return "\n" + strings.Join(quoted, "\n") + "\n"
	})

	s = applyRules(s, inlineRules)
	s = applyRules(s, structureRules)

	return tidy(stripTags(s))
}

// renderText flattens an HTML page to plain text, keeping paragraph and
// list structure as line breaks.
func renderText(page string) string {
	s := stripChrome(page)
	s = applyRules(s, structureRules)
	s = stripTags(s)
	s = tidy(s)

	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

var (
	reMDHeading = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	reMDLink    = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]+\)`)
	reMDCode    = regexp.MustCompile("`([^`]+)`")
)

// markdownToPlain strips markdown syntax for text-mode output of sources
// that are already markdown.
func markdownToPlain(md string) string {
	s := reMDHeading.ReplaceAllString(md, "")
	s = strings.NewReplacer("**", "", "__", "").Replace(s)
	s = reMDCode.ReplaceAllString(s, "$1")
	s = reMDLink.ReplaceAllString(s, "$1")
	return tidy(s)
}

// renderJSON pretty-prints a JSON body, falling back to the raw bytes.
func renderJSON(body []byte) (text, extractor string) {
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return string(body), "raw"
	}
	pretty, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return string(body), "raw"
	}
	return string(pretty), "json"
}

func stripChrome(s string) string {
	for _, re := range chrome {
		s = re.ReplaceAllString(s, "")
	}
	return s
}

func stripTags(s string) string {
	return html.UnescapeString(reTag.ReplaceAllString(s, ""))
}

func tidy(s string) string {
	s = reMultiSP.ReplaceAllString(s, " ")
	s = reMultiNL.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// clip bounds a string for error messages and snippets.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
