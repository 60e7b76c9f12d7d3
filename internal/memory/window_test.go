package memory

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/agentd/internal/tokens"
)

func newTestWindow(t *testing.T, maxTokens int) *ContextWindow {
	t.Helper()
	return NewContextWindow(maxTokens, tokens.NewCounter("gpt-4o-mini"))
}

func TestWindowTokenAccounting(t *testing.T) {
	w := newTestWindow(t, 128000)

	msgs := []*Message{
		NewMessage(RoleUser, "hello there"),
		NewMessage(RoleAssistant, "hi, how can I help?"),
		NewMessage(RoleUser, "what is the weather like today"),
	}

	want := 0
	for _, m := range msgs {
		if !w.Add(m, 5, false) {
			t.Fatalf("Add(%q) = false", m.Content)
		}
		if m.TokenCount <= 0 {
			t.Fatalf("TokenCount not set for %q", m.Content)
		}
		want += m.TokenCount
	}

	if got := w.CurrentTokens(); got != want {
		t.Errorf("CurrentTokens = %d, want %d", got, want)
	}
	if got := w.Stats().TotalMessages; got != 3 {
		t.Errorf("TotalMessages = %d, want 3", got)
	}
	if got := w.RemainingTokens(); got != w.AvailableTokens()-want {
		t.Errorf("RemainingTokens = %d", got)
	}
}

func TestWindowSmallWindowClampsReservation(t *testing.T) {
	// A 2000-token window must keep a usable budget even though the default
	// reply reservation alone is larger than the whole window.
	w := newTestWindow(t, 2000)

	if got := w.AvailableTokens(); got != 1500 {
		t.Fatalf("AvailableTokens = %d, want 1500", got)
	}
	if got := w.RemainingTokens(); got <= 0 {
		t.Fatalf("RemainingTokens = %d, want > 0", got)
	}

	long := strings.Repeat("填充上下文窗口的内容。", 12)
	added := 0
	for i := 0; i < 50 && w.UsageRatio() < 0.5; i++ {
		if !w.Add(NewMessage(RoleUser, long), 5, false) {
			break
		}
		added++
	}
	if added == 0 {
		t.Fatal("no message fit into the small window")
	}
	if w.UsageRatio() < 0.5 {
		t.Errorf("UsageRatio = %v, never crossed the compression threshold", w.UsageRatio())
	}
}

func TestWindowSegmentRollover(t *testing.T) {
	w := newTestWindow(t, 128000)

	for i := 0; i < 12; i++ {
		w.Add(NewMessage(RoleUser, "message"), 5, false)
	}

	stats := w.Stats()
	if stats.HotSegments != 2 {
		t.Errorf("HotSegments = %d, want 2 after 12 messages", stats.HotSegments)
	}
	if len(w.hot[0].Messages) != 10 || len(w.hot[1].Messages) != 2 {
		t.Errorf("segment sizes = %d/%d, want 10/2",
			len(w.hot[0].Messages), len(w.hot[1].Messages))
	}
}

func TestWindowLockedSegmentStartsNew(t *testing.T) {
	w := newTestWindow(t, 128000)

	w.Add(NewMessage(RoleSystem, "you are helpful"), 10, true)
	w.Add(NewMessage(RoleUser, "hi"), 7, false)

	if got := w.Stats().HotSegments; got != 2 {
		t.Errorf("HotSegments = %d, want 2 (locked segment closes)", got)
	}
	if !w.hot[0].Locked || w.hot[1].Locked {
		t.Errorf("lock flags = %v/%v", w.hot[0].Locked, w.hot[1].Locked)
	}
}

func TestWindowAddOverflow(t *testing.T) {
	w := NewContextWindowReserved(50, 10, tokens.NewCounter("gpt-4o-mini"))

	big := NewMessage(RoleUser, strings.Repeat("overflow ", 100))
	if w.Add(big, 5, false) {
		t.Fatal("Add should refuse an overflowing message")
	}
	if w.CurrentTokens() != 0 {
		t.Errorf("CurrentTokens = %d after refused add", w.CurrentTokens())
	}
	if w.Stats().TotalMessages != 0 {
		t.Errorf("refused message was indexed")
	}
}

func TestWindowMoveToColdCreditsTokens(t *testing.T) {
	w := newTestWindow(t, 128000)

	long := NewMessage(RoleUser, strings.Repeat("history that will be demoted ", 40))
	w.Add(long, 5, false)
	before := w.CurrentTokens()

	if !w.MoveToWarm(0) {
		t.Fatal("MoveToWarm failed")
	}
	if w.CurrentTokens() != before {
		t.Errorf("warm demotion changed token count: %d -> %d", before, w.CurrentTokens())
	}

	if !w.MoveToCold(0, CompressedPlaceholder) {
		t.Fatal("MoveToCold failed")
	}

	wantCost := tokens.NewCounter("gpt-4o-mini").CountText(CompressedPlaceholder) + 20
	if got := w.CurrentTokens(); got != wantCost {
		t.Errorf("CurrentTokens after cold = %d, want %d", got, wantCost)
	}
	if got := w.cold[0].TokenCount; got != wantCost {
		t.Errorf("cold segment cost = %d, want %d", got, wantCost)
	}
}

func TestWindowOptimizeDemotesUntilTarget(t *testing.T) {
	w := NewContextWindowReserved(1000, 0, tokens.NewCounter("gpt-4o-mini"))

	w.Add(NewMessage(RoleSystem, "system prompt"), 10, true)
	for i := 0; i < 25; i++ {
		w.Add(NewMessage(RoleUser, strings.Repeat("filler content ", 2)), 7, false)
	}
	before := w.CurrentTokens()

	freed := w.Optimize(0.3)

	if freed <= 0 {
		t.Fatalf("Optimize freed %d tokens", freed)
	}
	if w.CurrentTokens() != before-freed {
		t.Errorf("accounting mismatch: before=%d freed=%d now=%d",
			before, freed, w.CurrentTokens())
	}
	if w.UsageRatio() > 0.3 {
		t.Errorf("UsageRatio = %.3f, want <= 0.3", w.UsageRatio())
	}
	// The locked system segment must still be hot.
	if len(w.hot) == 0 || !w.hot[0].Locked {
		t.Error("locked segment was demoted")
	}
}

func TestWindowOptimizeNoopBelowTarget(t *testing.T) {
	w := newTestWindow(t, 128000)
	w.Add(NewMessage(RoleUser, "short"), 7, false)

	if freed := w.Optimize(0.7); freed != 0 {
		t.Errorf("Optimize freed %d tokens below target", freed)
	}
}

func TestWindowRemoveReindexes(t *testing.T) {
	w := newTestWindow(t, 128000)

	a := NewMessage(RoleUser, "first")
	b := NewMessage(RoleUser, "second")
	c := NewMessage(RoleUser, "third")
	w.Add(a, 7, false)
	w.Add(b, 7, false)
	w.Add(c, 7, false)

	if !w.Remove(b.ID) {
		t.Fatal("Remove failed")
	}
	if w.Remove(b.ID) {
		t.Error("second Remove of same id should fail")
	}

	msgs := w.ActiveMessages()
	if len(msgs) != 2 || msgs[0].ID != a.ID || msgs[1].ID != c.ID {
		t.Fatalf("ActiveMessages after remove = %v", msgs)
	}
	// c must be removable via its updated index entry.
	if !w.Remove(c.ID) {
		t.Error("Remove after reindex failed")
	}
	if got := w.CurrentTokens(); got != a.TokenCount {
		t.Errorf("CurrentTokens = %d, want %d", got, a.TokenCount)
	}
}

func TestWindowClearKeepLocked(t *testing.T) {
	w := newTestWindow(t, 128000)

	sys := NewMessage(RoleSystem, "rules")
	w.Add(sys, 10, true)
	w.Add(NewMessage(RoleUser, "hi"), 7, false)
	w.MoveToWarm(1)

	w.Clear(true)

	msgs := w.ActiveMessages()
	if len(msgs) != 1 || msgs[0].ID != sys.ID {
		t.Fatalf("Clear(true) kept %d messages", len(msgs))
	}
	if got := w.CurrentTokens(); got != sys.TokenCount {
		t.Errorf("CurrentTokens = %d, want %d", got, sys.TokenCount)
	}

	w.Clear(false)
	if w.CurrentTokens() != 0 || w.Stats().TotalMessages != 0 {
		t.Error("Clear(false) left content behind")
	}
}

func TestWindowAllMessagesOrder(t *testing.T) {
	w := newTestWindow(t, 128000)

	old := NewMessage(RoleUser, "old history")
	w.Add(old, 7, false)
	w.MoveToWarm(0)
	w.MoveToCold(0, "用户询问了天气")

	warmMsg := NewMessage(RoleUser, "recent history")
	w.Add(warmMsg, 7, false)
	w.MoveToWarm(0)

	hotMsg := NewMessage(RoleUser, "current question")
	w.Add(hotMsg, 7, false)

	msgs := w.AllMessages()
	if len(msgs) != 3 {
		t.Fatalf("AllMessages len = %d, want 3", len(msgs))
	}
	if msgs[0].Role != RoleSystem || !strings.HasPrefix(msgs[0].Content, SummaryHeader+"\n") {
		t.Errorf("cold summary rendering = %q", msgs[0].Content)
	}
	if !strings.Contains(msgs[0].Content, "用户询问了天气") {
		t.Errorf("summary text missing: %q", msgs[0].Content)
	}
	if msgs[1].ID != warmMsg.ID || msgs[2].ID != hotMsg.ID {
		t.Error("warm/hot ordering wrong")
	}
}
