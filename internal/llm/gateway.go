package llm

import (
	"context"

	"tgrelay/internal/conversation"
)

// Gateway produces a model reply. history holds earlier turns in order and
// does not include newText. Implementations must be safe for concurrent
// use and return *UpstreamError on backend failure.
type Gateway interface {
	Generate(ctx context.Context, systemPrompt string, history []conversation.Turn, newText string) (string, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, systemPrompt string, history []conversation.Turn, newText string) (string, error)

func (f GatewayFunc) Generate(ctx context.Context, systemPrompt string, history []conversation.Turn, newText string) (string, error) {
	return f(ctx, systemPrompt, history, newText)
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// buildMessages lays out the chat-completions message list: system prompt,
// prior turns, then the new user text.
func buildMessages(systemPrompt string, history []conversation.Turn, newText string) []message {
	messages := make([]message, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, message{Role: "system", Content: systemPrompt})
	}
	for _, turn := range history {
		messages = append(messages, message{Role: string(turn.Role), Content: turn.Text})
	}
	messages = append(messages, message{Role: string(conversation.RoleUser), Content: newText})
	return messages
}
