package domain

// BlockType classifies one content block inside a chat turn.
type BlockType string

const (
	BlockText  BlockType = "text"
	BlockImage BlockType = "image"
)

// ContentBlock is one piece of a multimodal chat turn. Text blocks carry
// Text; image blocks carry an https or data URL in ImageURL.
type ContentBlock struct {
	Type     BlockType `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL string    `json:"image_url,omitempty"`
}

// ChatMessage is one turn in the ordered context fed to a completion
// provider. Assistant turns may carry the tool-call record they
// originally produced; tool turns carry the result for one call.
type ChatMessage struct {
	Role       string         `json:"role"` // system | user | assistant | tool
	Blocks     []ContentBlock `json:"blocks,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
}

// TextMessage builds a single-text-block chat message.
func TextMessage(role, text string) ChatMessage {
	return ChatMessage{Role: role, Blocks: []ContentBlock{{Type: BlockText, Text: text}}}
}

// Text concatenates the message's text blocks.
func (m ChatMessage) Text() string {
	var out string
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolCall is a function-call request emitted by a model. RawArguments
// preserves the backend's argument string so malformed JSON is still
// detectable after decoding; it is not persisted.
type ToolCall struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Arguments    map[string]any `json:"arguments"`
	RawArguments string         `json:"-"`
}

// ToolDefinition is one callable tool in the provider's function-calling
// schema.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage is the token accounting a provider reports for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionRequest carries everything one completion call needs. APIKey
// is the decrypted, in-memory credential scoped to this call.
type CompletionRequest struct {
	Agent    Agent
	APIKey   string
	Messages []ChatMessage
	Tools    []ToolDefinition
}

// CompletionResult is the outcome of one provider call.
type CompletionResult struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string // stop | tool_calls | length
	Usage        Usage
	Model        string
}

// HasToolCalls reports whether the model asked for tools before
// answering.
func (r *CompletionResult) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// ToolInvocation is a decoded, routable tool call: which server, which
// tool, which arguments. It exists only within one completion loop
// iteration; only its outcome is folded into message metadata.
type ToolInvocation struct {
	Server string
	Tool   string
	Args   map[string]any
}
