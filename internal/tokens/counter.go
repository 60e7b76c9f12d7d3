// Package tokens provides tiktoken-based token accounting for prompt budgets.
package tokens

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Per-message overheads from the OpenAI token counting formula:
// every message is framed as <im_start>{role/name}\n{content}<im_end>\n,
// plus a priming sequence for the assistant reply.
const (
	messageOverhead      = 4
	nameDiscount         = 1
	assistantPriming     = 2
	conversationPriming  = 3
	imageTokensLowDetail = 85
	imageTokensHigh      = 1105
)

// estimateCharsPerToken drives the fallback estimator when no BPE encoding
// is available (tiktoken fetches encoding files over the network, which can
// fail in restricted environments).
const estimateCharsPerToken = 4

// Counter counts tokens for a fixed model encoding. A nil encoding means
// the estimator fallback is active.
type Counter struct {
	model string
	enc   *tiktoken.Tiktoken
}

var (
	encMu    sync.Mutex
	encCache = map[string]*tiktoken.Tiktoken{}
)

// NewCounter returns a Counter for the given model. Unknown models fall back
// to the cl100k_base encoding; if no encoding can be loaded at all, the
// counter degrades to a chars/4 estimate instead of failing.
func NewCounter(model string) *Counter {
	encMu.Lock()
	defer encMu.Unlock()

	if enc, ok := encCache[model]; ok {
		return &Counter{model: model, enc: enc}
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		slog.Warn("unknown model encoding, using cl100k_base", "model", model)
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tiktoken encoding unavailable, using chars/4 estimate",
				"model", model, "error", err)
			return &Counter{model: model}
		}
	}
	encCache[model] = enc
	return &Counter{model: model, enc: enc}
}

// Model returns the model this counter was built for.
func (c *Counter) Model() string { return c.model }

// CountText returns the token count of a plain string.
func (c *Counter) CountText(text string) int {
	if text == "" {
		return 0
	}
	if c.enc == nil {
		return (len(text) + estimateCharsPerToken - 1) / estimateCharsPerToken
	}
	return len(c.enc.Encode(text, nil, nil))
}

// CountedMessage is the subset of message fields that contribute tokens.
type CountedMessage struct {
	Role       string
	Content    string
	Name       string
	ToolCalls  string // serialized tool calls, if any
	ToolCallID string
}

// CountMessage returns the token cost of a single chat message.
func (c *Counter) CountMessage(m CountedMessage) int {
	n := messageOverhead
	n += c.CountText(m.Role)
	n += c.CountText(m.Content)
	n += c.CountText(m.ToolCalls)
	n += c.CountText(m.ToolCallID)
	if m.Name != "" {
		n += c.CountText(m.Name) - nameDiscount
	}
	n += assistantPriming
	return n
}

// CountMessages returns the total token cost of a conversation.
func (c *Counter) CountMessages(msgs []CountedMessage) int {
	total := conversationPriming
	for _, m := range msgs {
		total += c.CountMessage(m)
	}
	return total
}

// Truncate cuts text to at most maxTokens tokens, on a token boundary.
// Under the estimator fallback the cut is on a rune boundary instead.
func (c *Counter) Truncate(text string, maxTokens int) string {
	if c.enc == nil {
		runes := []rune(text)
		max := maxTokens * estimateCharsPerToken
		if len(runes) <= max {
			return text
		}
		return string(runes[:max])
	}
	ids := c.enc.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text
	}
	return c.enc.Decode(ids[:maxTokens])
}
