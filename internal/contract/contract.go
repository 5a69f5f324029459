// Package contract holds the canonical message representation the gateway
// pipeline operates on. Provider wire shapes are produced from these types by
// internal/adapter; nothing in here depends on a provider SDK.
package contract

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

const (
	PartText  = "text"
	PartImage = "image"
	PartFile  = "file"
)

// Part is one typed element of a multi-part message content.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// URL carries the image or file reference for non-text parts.
	URL string `json:"url,omitempty"`
}

// Message is one entry of the conversation history. Messages are treated as
// immutable once part of a history; rewrites (trust sanitization, compression)
// build new values instead of mutating in place.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Parts      []Part     `json:"parts,omitempty"`
	Refusal    string     `json:"refusal,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolDefinition names a tool the client offers to the model. Only the name
// matters for policy allowlisting; parameter schemas pass through unvalidated.
type ToolDefinition struct {
	Kind        string                 `json:"kind"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Format      string                 `json:"format,omitempty"`
}

// Request is the canonical chat-completion request.
type Request struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  string           `json:"tool_choice,omitempty"`
	Temperature float32          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

// Usage is the provider-reported token accounting in a uniform shape.
type Usage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// HasTools reports whether the request offers any tool definitions.
func (r Request) HasTools() bool {
	return len(r.Tools) > 0
}

// EnabledToolNames returns the allowlist the policy engine checks calls against.
func (r Request) EnabledToolNames() map[string]struct{} {
	names := make(map[string]struct{}, len(r.Tools))
	for _, t := range r.Tools {
		if t.Name != "" {
			names[t.Name] = struct{}{}
		}
	}
	return names
}
