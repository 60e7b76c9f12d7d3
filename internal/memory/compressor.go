package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/agentd/internal/providers"
	"github.com/nextlevelbuilder/agentd/internal/tokens"
)

// summaryInputMaxTokens bounds the conversation text fed to the summarizer.
const summaryInputMaxTokens = 3000

const summaryPromptPrefix = "请总结以下对话内容，保留关键信息、决策和结论。使用简洁的中文：\n\n"
const summaryPromptSuffix = "\n\n总结："

// Chinese keyword markers used by the extractive fallback.
var extractiveMarkers = []string{"重要", "关键", "决定", "结论", "结果"}

// Compressor shrinks a message list by retaining the important part and
// summarizing the rest through the LLM. When the LLM call fails it falls
// back to an extractive summary, so compression itself never errors.
type Compressor struct {
	provider         providers.Provider
	counter          *tokens.Counter
	scorer           *ImportanceScorer
	summaryMaxTokens int
}

// NewCompressor builds a compressor on top of the given provider.
func NewCompressor(provider providers.Provider, counter *tokens.Counter, summaryMaxTokens int) *Compressor {
	if summaryMaxTokens <= 0 {
		summaryMaxTokens = 500
	}
	return &Compressor{
		provider:         provider,
		counter:          counter,
		scorer:           NewImportanceScorer(),
		summaryMaxTokens: summaryMaxTokens,
	}
}

// Compress partitions messages into a retained set and a summary of the
// rest. Retained: every system message, the last three messages, and any
// message scoring at or above 0.7. Fewer than three messages pass through
// untouched. Original ordering is preserved.
func (c *Compressor) Compress(ctx context.Context, msgs []*Message) ([]*Message, string) {
	if len(msgs) < 3 {
		return msgs, ""
	}

	keep := make(map[int]bool, len(msgs))
	var toSummarize []*Message

	for i, msg := range msgs {
		score := c.scorer.Score(msg, i, len(msgs))
		switch {
		case msg.Role == RoleSystem:
			keep[i] = true
		case i >= len(msgs)-3:
			keep[i] = true
		case score >= 0.7:
			keep[i] = true
		default:
			toSummarize = append(toSummarize, msg)
		}
	}

	var summary string
	if len(toSummarize) > 0 {
		summary = c.summarize(ctx, toSummarize)
	}

	retained := make([]*Message, 0, len(keep))
	for i, msg := range msgs {
		if keep[i] {
			msg.Compressed = true
			retained = append(retained, msg)
		}
	}

	return retained, summary
}

func (c *Compressor) summarize(ctx context.Context, msgs []*Message) string {
	parts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		parts = append(parts, fmt.Sprintf("[%s]: %s", msg.Role, msg.Content))
	}
	text := strings.Join(parts, "\n")

	if c.counter.CountText(text) > summaryInputMaxTokens {
		text = c.counter.Truncate(text, summaryInputMaxTokens)
	}

	resp, err := c.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: RoleUser, Content: summaryPromptPrefix + text + summaryPromptSuffix},
		},
		Options: map[string]interface{}{
			providers.OptMaxTokens:   c.summaryMaxTokens,
			providers.OptTemperature: 0.3,
		},
	})
	if err != nil {
		slog.Error("summary generation failed, using extractive fallback", "error", err)
		return extractiveSummary(msgs)
	}
	return resp.Content
}

// extractiveSummary pulls sentences that carry decision or result markers.
// When nothing matches, it falls back to the first 200 characters of up to
// three messages.
func extractiveSummary(msgs []*Message) string {
	var keyPoints []string
	for _, msg := range msgs {
		for _, sentence := range splitSentences(msg.Content) {
			sentence = strings.TrimSpace(sentence)
			if sentence == "" {
				continue
			}
			for _, marker := range extractiveMarkers {
				if strings.Contains(sentence, marker) {
					keyPoints = append(keyPoints, sentence)
					break
				}
			}
		}
	}
	if len(keyPoints) > 5 {
		keyPoints = keyPoints[:5]
	}
	if len(keyPoints) > 0 {
		return strings.Join(keyPoints, " | ")
	}

	var heads []string
	for _, msg := range msgs {
		if len(heads) == 3 {
			break
		}
		heads = append(heads, truncateRunes(msg.Content, 200))
	}
	return strings.Join(heads, " | ")
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '。', '！', '？', '.', '!', '?':
			return true
		}
		return false
	})
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
