// Package llm defines the Responder interface for Large Language Model
// backends.
//
// A responder wraps a remote or local model API (e.g., OpenAI, Anthropic, or
// a local Ollama instance) and produces one reply per conversational turn.
// The persona the arbiter selected for the turn arrives as the system prompt;
// the responder itself is stateless and carries no guard knowledge.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Message represents a single message in a conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Request carries everything the model needs to produce one reply. At minimum
// Messages must be non-empty.
type Request struct {
	// SystemPrompt is the persona instruction for this turn. It is injected
	// before the conversation history, using the provider's native system
	// role where one exists.
	SystemPrompt string

	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0].
	// Zero means use the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int
}

// Usage holds token accounting information returned by the backend. All
// counts are in the model's native token unit.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the reply.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// Response is one complete model reply.
type Response struct {
	// Content is the full text of the reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Responder is the abstraction over any LLM backend.
type Responder interface {
	// Respond sends req to the model and waits for the full reply. It must
	// propagate context cancellation promptly.
	Respond(ctx context.Context, req Request) (*Response, error)
}
