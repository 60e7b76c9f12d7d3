package sandbox

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/nextlevelbuilder/agentd/internal/config"
)

func TestTruncateReportsCut(t *testing.T) {
	m := &Manager{cfg: config.SandboxConfig{MaxOutputBytes: 16}}

	got, truncated := m.truncate("short output")
	if truncated {
		t.Error("short output reported truncated")
	}
	if got != "short output" {
		t.Errorf("short output changed: %q", got)
	}

	long := strings.Repeat("0123456789", 10)
	got, truncated = m.truncate(long)
	if !truncated {
		t.Error("long output not reported truncated")
	}
	if !strings.HasSuffix(got, truncationMarker) {
		t.Errorf("truncated output missing marker: %q", got)
	}
}

func TestTruncateRuneBoundary(t *testing.T) {
	m := &Manager{cfg: config.SandboxConfig{MaxOutputBytes: 10}}

	got, truncated := m.truncate(strings.Repeat("中文输出", 10))
	if !truncated {
		t.Fatal("multibyte output not reported truncated")
	}
	if !utf8.ValidString(got) {
		t.Errorf("truncation split a rune: %q", got)
	}
}
