package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"medisense/internal/gradio"
)

// ChatGateway serves the chatbot endpoint contract from a plain completion
// model: it answers the message and echoes the full updated history the way
// the hosted chatbot does.
type ChatGateway struct {
	client       Client
	systemPrompt string
}

func NewChatGateway(client Client, systemPrompt string) *ChatGateway {
	return &ChatGateway{client: client, systemPrompt: systemPrompt}
}

func (g *ChatGateway) Chat(ctx context.Context, message string, history []gradio.Turn) (json.RawMessage, error) {
	resp, err := g.client.Generate(ctx, g.messages(message, history))
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	log.Printf("🤖 %s answered (%d prompt + %d completion tokens)", resp.Model, resp.Usage.Prompt, resp.Usage.Completion)

	turns := make([]gradio.Turn, 0, len(history)+1)
	turns = append(turns, history...)
	turns = append(turns, gradio.Turn{User: message, Bot: resp.Content})
	return json.Marshal([]any{turns})
}

// ClearChat is a no-op: the model keeps no state between calls.
func (g *ChatGateway) ClearChat(context.Context) error {
	return nil
}

// messages maps turns to chat roles. An unanswered opening turn is the
// assistant's greeting rather than something the user said.
func (g *ChatGateway) messages(message string, history []gradio.Turn) []Message {
	out := make([]Message, 0, 2*len(history)+2)
	if g.systemPrompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: g.systemPrompt})
	}
	for i, t := range history {
		if i == 0 && t.Bot == "" {
			out = append(out, Message{Role: RoleAssistant, Content: t.User})
			continue
		}
		if t.User != "" {
			out = append(out, Message{Role: RoleUser, Content: t.User})
		}
		if t.Bot != "" {
			out = append(out, Message{Role: RoleAssistant, Content: t.Bot})
		}
	}
	return append(out, Message{Role: RoleUser, Content: message})
}
