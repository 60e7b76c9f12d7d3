package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentd/internal/providers"
)

const (
	// DefaultTitle is used when a session has no content to summarize.
	DefaultTitle = "新对话"

	titleSystemPrompt = "你是一个标题生成助手。根据用户提供的对话内容，生成一个简短的标题（不超过20个字）。直接输出标题文本，不要加引号、前缀或任何其他内容。"
)

// GenerateTitle summarizes the opening exchange into a short session
// title and persists it on the session.
func (a *ChatAgent) GenerateTitle(ctx context.Context, sessionID uuid.UUID) (string, error) {
	session, ok := a.memory.GetSession(sessionID)
	if !ok {
		return "", fmt.Errorf("session %s not found", sessionID)
	}

	msgs := session.Messages
	if len(msgs) > 4 {
		msgs = msgs[:4]
	}

	var lines []string
	for _, msg := range msgs {
		// Cut on rune boundaries; content is frequently Chinese.
		content := msg.Content
		if runes := []rune(content); len(runes) > 100 {
			content = string(runes[:100])
		}
		if content != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, content))
		}
	}
	if len(lines) == 0 {
		return DefaultTitle, nil
	}

	resp, err := a.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: titleSystemPrompt},
			{Role: "user", Content: "请为以下对话生成标题：\n\n" + strings.Join(lines, "\n")},
		},
		Options: map[string]interface{}{
			providers.OptMaxTokens:   50,
			providers.OptTemperature: 0.3,
		},
	})
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}

	title := strings.TrimSpace(resp.Content)
	title = strings.Trim(title, `"“”`)
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}

	a.memory.SetTitle(ctx, sessionID, title)
	return title, nil
}
