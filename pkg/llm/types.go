package llm

import "strings"

// Role is the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// SystemMessage builds a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant turn, optionally carrying tool calls.
func AssistantMessage(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolMessage builds the result message answering tool call id.
func ToolMessage(id, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: id}
}

// ToolCall is a model's request to invoke a named tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDescriptor advertises a tool to the model. Parameters is a JSON schema
// object.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// PlaceholderToolName is the inert tool sent when a request has no tools.
const PlaceholderToolName = "no_op"

// PlaceholderTool returns the inert tool descriptor used to satisfy providers
// that reject requests with an empty tool list.
func PlaceholderTool() ToolDescriptor {
	return ToolDescriptor{
		Name:        PlaceholderToolName,
		Description: "Does nothing. Do not call this tool.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

// Request is a single gateway call.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolDescriptor
	Temperature float64
	MaxTokens   int
}

// Response is the model's reply to a Request.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *Usage
}

// Usage is the token consumption reported by a provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates o into u. A nil o is ignored.
func (u *Usage) Add(o *Usage) {
	if o == nil {
		return
	}
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// EstimateTokens approximates the token count of text at four characters
// per token.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// EstimateUsage approximates usage for a request/response pair when the
// provider did not report any.
func EstimateUsage(req Request, resp *Response) *Usage {
	var in strings.Builder
	for _, m := range req.Messages {
		in.WriteString(m.Content)
	}
	out := 0
	if resp != nil {
		out = EstimateTokens(resp.Content)
	}
	return &Usage{InputTokens: EstimateTokens(in.String()), OutputTokens: out}
}
