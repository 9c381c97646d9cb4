// Package llm serves the chat assistant and the verification prompts from a
// completion model instead of the hosted chatbot.
package llm

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Usage counts the tokens billed for one completion.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
}

// Response is the first choice of a completion.
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

type Client interface {
	Generate(ctx context.Context, messages []Message) (Response, error)
}
