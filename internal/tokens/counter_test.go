package tokens

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNewCounterNeverPanics(t *testing.T) {
	// Works online (real encoding) and offline (estimator fallback).
	c := NewCounter("gpt-4o-mini")
	if c == nil {
		t.Fatal("NewCounter returned nil")
	}
	if got := c.CountText("hello world"); got <= 0 {
		t.Errorf("CountText = %d, want > 0", got)
	}
	if got := c.CountText(""); got != 0 {
		t.Errorf("CountText(empty) = %d, want 0", got)
	}
}

func TestEstimatorFallback(t *testing.T) {
	c := &Counter{model: "offline"}

	if got := c.CountText(strings.Repeat("a", 8)); got != 2 {
		t.Errorf("CountText(8 chars) = %d, want 2", got)
	}
	if got := c.CountText("abc"); got != 1 {
		t.Errorf("CountText(3 chars) = %d, want 1 (rounds up)", got)
	}

	n := c.CountMessage(CountedMessage{Role: "user", Content: "hello"})
	if n <= 0 {
		t.Errorf("CountMessage = %d, want > 0", n)
	}
}

func TestEstimatorTruncateRuneSafe(t *testing.T) {
	c := &Counter{model: "offline"}

	text := strings.Repeat("测试文本", 20)
	got := c.Truncate(text, 5)
	if !utf8.ValidString(got) {
		t.Fatalf("Truncate produced invalid UTF-8: %q", got)
	}
	if len([]rune(got)) > 5*estimateCharsPerToken {
		t.Errorf("Truncate kept %d runes, want <= %d", len([]rune(got)), 5*estimateCharsPerToken)
	}

	short := "short"
	if got := c.Truncate(short, 100); got != short {
		t.Errorf("Truncate(under limit) = %q, want unchanged", got)
	}
}
