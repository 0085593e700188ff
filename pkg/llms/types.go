// Package llms provides thin wire-level clients for the two chat-completion
// API shapes the engine talks to, plus a model registry with optional
// discovery. Providers hide three mechanical differences: how the system
// prompt travels, how a forced tool call is declared, and how truncation is
// signalled. Everything above this package works with one request shape.
package llms

import "context"

// Message roles. The system prompt travels outside the message list; see
// ChatRequest.System.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a single completion request. Model must be a full provider
// model ID (resolve short names through the Registry first).
type ChatRequest struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
}

// ChatResult is a completed (non-streaming) completion. Truncated is set
// when the provider stopped at the output token ceiling, which callers must
// treat as a failed structured response.
type ChatResult struct {
	Text      string
	Truncated bool
	Usage     Usage
}

// ToolRequest forces the model to answer via a single named tool. ToolSchema
// is a JSON Schema object for the tool input.
type ToolRequest struct {
	ChatRequest
	ToolName        string
	ToolDescription string
	ToolSchema      map[string]interface{}
}

// ToolResult carries the forced tool call's input. Input is the decoded
// arguments object; RawText preserves any text the model emitted alongside
// the call, for diagnostics.
type ToolResult struct {
	Input     map[string]interface{}
	RawText   string
	Truncated bool
	Usage     Usage
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type StreamEventKind string

const (
	StreamToken StreamEventKind = "token"
	StreamDone  StreamEventKind = "done"
	StreamError StreamEventKind = "error"
)

// StreamEvent is one event from StreamMessage: zero or more token events
// followed by exactly one done (Result set) or error (Err set) event.
type StreamEvent struct {
	Kind   StreamEventKind
	Text   string
	Result *ChatResult
	Err    error
}

// Provider is a wire client for one API shape.
type Provider interface {
	CreateMessage(ctx context.Context, req ChatRequest) (*ChatResult, error)
	CreateMessageWithTool(ctx context.Context, req ToolRequest) (*ToolResult, error)
	StreamMessage(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error)

	Name() string
	Close() error
}

// ProviderConfig configures a wire client. Zero values get provider
// defaults; Timeout and RetryDelay are in seconds.
type ProviderConfig struct {
	APIKey     string
	Host       string
	Timeout    int
	MaxRetries int
	RetryDelay int
}
