package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/agentd/internal/providers"
	"github.com/nextlevelbuilder/agentd/internal/tokens"
)

// fakeProvider returns a canned reply, or an error to force fallbacks.
type fakeProvider struct {
	reply   string
	err     error
	calls   int
	lastReq providers.ChatRequest
}

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &providers.ChatResponse{Content: f.reply, FinishReason: "stop"}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	resp, err := f.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if onChunk != nil {
		onChunk(providers.StreamChunk{Content: resp.Content})
		onChunk(providers.StreamChunk{Done: true})
	}
	return resp, nil
}

func (f *fakeProvider) DefaultModel() string { return "fake-model" }
func (f *fakeProvider) Name() string         { return "fake" }

func newTestCompressor(p providers.Provider) *Compressor {
	return NewCompressor(p, tokens.NewCounter("gpt-4o-mini"), 500)
}

func TestCompressRetention(t *testing.T) {
	fake := &fakeProvider{reply: "用户讨论了项目进度"}
	c := newTestCompressor(fake)

	msgs := []*Message{
		NewMessage(RoleSystem, "you are helpful"),
		NewMessage(RoleUser, "small talk one"),
		NewMessage(RoleAssistant, "reply one"),
		NewMessage(RoleUser, "small talk two"),
		NewMessage(RoleAssistant, "reply two"),
		NewMessage(RoleUser, "what about the deadline"),
		NewMessage(RoleAssistant, "it is friday"),
	}
	// Ages the early messages so their scores fall below the keep line.
	for _, m := range msgs[1:5] {
		m.ImportanceScore = 0.1
	}

	retained, summary := c.Compress(context.Background(), msgs)

	if summary != "用户讨论了项目进度" {
		t.Errorf("summary = %q", summary)
	}
	if fake.calls != 1 {
		t.Errorf("provider calls = %d, want 1", fake.calls)
	}

	// System message and the last three survive, in original order.
	if len(retained) < 4 {
		t.Fatalf("retained %d messages", len(retained))
	}
	if retained[0].ID != msgs[0].ID {
		t.Error("system message not first")
	}
	tail := retained[len(retained)-3:]
	for i, want := range msgs[4:] {
		if tail[i].ID != want.ID {
			t.Errorf("tail[%d] = %q, want %q", i, tail[i].Content, want.Content)
		}
	}

	// Survivors of a compression pass carry the compressed flag.
	for _, m := range retained {
		if !m.Compressed {
			t.Errorf("retained message %q not marked compressed", m.Content)
		}
	}

	// The summarize request carries the Chinese prompt at low temperature.
	req := fake.lastReq
	if len(req.Messages) != 1 || req.Messages[0].Role != RoleUser {
		t.Fatalf("summarize request messages = %+v", req.Messages)
	}
	if !strings.Contains(req.Messages[0].Content, "请总结以下对话内容") {
		t.Error("summary prompt missing")
	}
	if req.Options[providers.OptTemperature] != 0.3 {
		t.Errorf("temperature = %v", req.Options[providers.OptTemperature])
	}
	if req.Options[providers.OptMaxTokens] != 500 {
		t.Errorf("max_tokens = %v", req.Options[providers.OptMaxTokens])
	}
}

func TestCompressHighImportanceRetained(t *testing.T) {
	fake := &fakeProvider{reply: "摘要"}
	c := newTestCompressor(fake)

	important := NewMessage(RoleUser, "critical error: the deploy failed")
	important.ImportanceScore = 1.0

	msgs := []*Message{
		NewMessage(RoleUser, "one"),
		important,
		NewMessage(RoleUser, "two"),
		NewMessage(RoleUser, "three"),
		NewMessage(RoleUser, "four"),
		NewMessage(RoleUser, "five"),
		NewMessage(RoleUser, "six"),
	}
	msgs[0].ImportanceScore = 0.0

	retained, _ := c.Compress(context.Background(), msgs)

	found := false
	for _, m := range retained {
		if m.ID == important.ID {
			found = true
		}
	}
	if !found {
		t.Error("high-importance message was dropped")
	}
}

func TestCompressFewMessagesPassThrough(t *testing.T) {
	fake := &fakeProvider{}
	c := newTestCompressor(fake)

	msgs := []*Message{NewMessage(RoleUser, "hi"), NewMessage(RoleAssistant, "hello")}
	retained, summary := c.Compress(context.Background(), msgs)

	if len(retained) != 2 || summary != "" {
		t.Errorf("retained=%d summary=%q", len(retained), summary)
	}
	if fake.calls != 0 {
		t.Errorf("provider called %d times", fake.calls)
	}
}

func TestCompressExtractiveFallback(t *testing.T) {
	fake := &fakeProvider{err: errors.New("upstream down")}
	c := newTestCompressor(fake)

	msgs := []*Message{
		NewMessage(RoleUser, "闲聊内容。结论：方案A更好。"),
		NewMessage(RoleAssistant, "好的"),
		NewMessage(RoleUser, "a"),
		NewMessage(RoleUser, "b"),
		NewMessage(RoleUser, "c"),
		NewMessage(RoleUser, "d"),
	}
	for _, m := range msgs[:2] {
		m.ImportanceScore = 0.0
	}

	_, summary := c.Compress(context.Background(), msgs)

	if !strings.Contains(summary, "结论：方案A更好") {
		t.Errorf("extractive summary = %q", summary)
	}
}

func TestExtractiveSummaryFallsBackToHeads(t *testing.T) {
	msgs := []*Message{
		NewMessage(RoleUser, "plain text without markers"),
		NewMessage(RoleAssistant, "another plain reply"),
	}

	summary := extractiveSummary(msgs)
	want := "plain text without markers | another plain reply"
	if summary != want {
		t.Errorf("summary = %q, want %q", summary, want)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("中文内容测试", 3); got != "中文内" {
		t.Errorf("truncateRunes = %q", got)
	}
	if got := truncateRunes("short", 200); got != "short" {
		t.Errorf("truncateRunes = %q", got)
	}
}
