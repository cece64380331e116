package llm

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the conversation sent to the AI service.
// Tool messages carry the executed tool's name and serialized result.
type Message struct {
	Role     Role
	Content  string
	ToolName string
}

// Tool describes one callable operation advertised to the AI service.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCall is the AI service asking for one tool execution.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Request carries everything the AI service needs for one turn: the
// system instructions, prior history (including the current page text
// injected as a system message), and the advertised tools.
type Request struct {
	System   string
	Messages []Message
	Tools    []Tool
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is either a final assistant message (Text, no tool calls)
// or a request to execute tools before the turn can complete.
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Adapter is the vendor-neutral AI service contract. Generate must be
// safe to retry on transient failure.
type Adapter interface {
	Name() string
	Generate(ctx context.Context, req Request) (Response, error)
}
