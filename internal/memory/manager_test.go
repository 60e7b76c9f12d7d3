package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentd/internal/config"
)

func testMemoryConfig() config.MemoryConfig {
	return config.MemoryConfig{
		MaxContextTokens:     128000,
		CompressionThreshold: 0.92,
		TargetRatio:          0.3,
		SummaryMaxTokens:     500,
	}
}

func TestManagerSessionLifecycle(t *testing.T) {
	m := NewManager(&fakeProvider{}, testMemoryConfig(), "gpt-4o-mini")
	ctx := context.Background()

	session := m.CreateSession(ctx, "you are helpful", nil)
	if len(session.Messages) != 1 || session.Messages[0].Role != RoleSystem {
		t.Fatalf("session messages = %+v", session.Messages)
	}

	if _, ok := m.GetSession(session.ID); !ok {
		t.Fatal("GetSession failed")
	}
	if _, ok := m.GetSession(uuid.Must(uuid.NewV7())); ok {
		t.Fatal("GetSession returned unknown session")
	}

	added, err := m.AddMessage(ctx, session.ID, NewMessage(RoleUser, "hi"))
	if err != nil || !added {
		t.Fatalf("AddMessage = %v, %v", added, err)
	}

	prompt := m.PromptMessages(session.ID)
	if len(prompt) != 2 || prompt[0].Role != RoleSystem || prompt[1].Content != "hi" {
		t.Fatalf("PromptMessages = %+v", prompt)
	}

	session.Summary = "之前讨论了天气"
	prompt = m.PromptMessages(session.ID)
	if len(prompt) != 3 {
		t.Fatalf("PromptMessages with summary = %d messages", len(prompt))
	}
	if !strings.HasPrefix(prompt[0].Content, SummaryHeader+"\n") {
		t.Errorf("summary message = %q", prompt[0].Content)
	}

	if !m.DeleteSession(ctx, session.ID) {
		t.Error("DeleteSession = false")
	}
	if m.DeleteSession(ctx, session.ID) {
		t.Error("second DeleteSession = true")
	}
}

func TestManagerAddMessageUnknownSession(t *testing.T) {
	m := NewManager(&fakeProvider{}, testMemoryConfig(), "gpt-4o-mini")

	_, err := m.AddMessage(context.Background(), uuid.Must(uuid.NewV7()), NewMessage(RoleUser, "hi"))
	if err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestManagerCompression(t *testing.T) {
	fake := &fakeProvider{reply: "历史摘要"}
	cfg := config.MemoryConfig{
		MaxContextTokens:     DefaultReservedTokens + 200,
		CompressionThreshold: 0.5,
		TargetRatio:          0.3,
		SummaryMaxTokens:     500,
	}
	m := NewManager(fake, cfg, "gpt-4o-mini")
	ctx := context.Background()

	var events int
	m.OnCompression(func(id uuid.UUID, before, after int) {
		events++
		if after > before {
			t.Errorf("compression grew history: %d -> %d", before, after)
		}
	})

	session := m.CreateSession(ctx, "system rules", nil)
	for i := 0; i < 12; i++ {
		msg := NewMessage(RoleUser, "some filler conversation content")
		msg.ImportanceScore = 0.1
		if _, err := m.AddMessage(ctx, session.ID, msg); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}

	if events == 0 {
		t.Fatal("compression never triggered")
	}
	if session.Summary == "" || !strings.Contains(session.Summary, "历史摘要") {
		t.Errorf("session summary = %q", session.Summary)
	}

	// The locked system prompt survives every pass.
	if session.Messages[0].Role != RoleSystem {
		t.Errorf("first retained message = %+v", session.Messages[0])
	}

	// Window accounting matches the retained set exactly, system included once.
	stats, ok := m.Stats(session.ID)
	if !ok {
		t.Fatal("Stats failed")
	}
	want := 0
	seen := make(map[uuid.UUID]bool)
	for _, msg := range m.Messages(session.ID, true) {
		if seen[msg.ID] {
			t.Fatalf("message %s rendered twice", msg.ID)
		}
		seen[msg.ID] = true
		want += msg.TokenCount
	}
	if stats.Window.CurrentTokens != want {
		t.Errorf("CurrentTokens = %d, want %d", stats.Window.CurrentTokens, want)
	}
}

func TestManagerListSessionsPaging(t *testing.T) {
	m := NewManager(&fakeProvider{}, testMemoryConfig(), "gpt-4o-mini")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		m.CreateSession(ctx, "", nil)
	}

	page1, total := m.ListSessions(1, 2)
	if total != 5 || len(page1) != 2 {
		t.Fatalf("page1 len=%d total=%d", len(page1), total)
	}
	page3, _ := m.ListSessions(3, 2)
	if len(page3) != 1 {
		t.Errorf("page3 len=%d", len(page3))
	}
	empty, _ := m.ListSessions(4, 2)
	if len(empty) != 0 {
		t.Errorf("page4 len=%d", len(empty))
	}
}

func TestManagerRestoreRebuildsWindows(t *testing.T) {
	m := NewManager(&fakeProvider{}, testMemoryConfig(), "gpt-4o-mini")
	ctx := context.Background()

	orig := m.CreateSession(ctx, "rules", nil)
	m.AddMessage(ctx, orig.ID, NewMessage(RoleUser, "hello"))

	m2 := NewManager(&fakeProvider{}, testMemoryConfig(), "gpt-4o-mini")
	m2.Restore([]*Session{orig})

	stats, ok := m2.Stats(orig.ID)
	if !ok {
		t.Fatal("restored session missing")
	}
	if stats.Window.TotalMessages != 2 {
		t.Errorf("restored window messages = %d", stats.Window.TotalMessages)
	}
	if stats.Window.CurrentTokens == 0 {
		t.Error("restored window has no token accounting")
	}
}
