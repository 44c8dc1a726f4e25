package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"chathub/internal/domain"
)

const defaultOpenAIBase = "https://api.openai.com/v1"

// OpenAI implements Provider for OpenAI-compatible chat completion
// APIs. The API key arrives per call on the request and is never
// stored on the provider.
type OpenAI struct {
	name    string
	apiBase string
	client  *http.Client
	logger  *slog.Logger
}

type OpenAIConfig struct {
	Name    string // registry name, e.g. "openai"
	APIBase string
	Logger  *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultOpenAIBase
	}
	return &OpenAI{
		name:    cfg.Name,
		apiBase: cfg.APIBase,
		client:  &http.Client{Timeout: 120 * time.Second},
		logger:  cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return o.name }

type oaiRequest struct {
	Model            string       `json:"model"`
	Messages         []oaiMessage `json:"messages"`
	Tools            []oaiTool    `json:"tools,omitempty"`
	MaxTokens        int          `json:"max_tokens,omitempty"`
	Temperature      *float64     `json:"temperature,omitempty"`
	TopP             *float64     `json:"top_p,omitempty"`
	FrequencyPenalty *float64     `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64     `json:"presence_penalty,omitempty"`
	Stream           bool         `json:"stream"`
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    any           `json:"content"` // string, or []oaiPart for multimodal turns
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

type oaiPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *oaiImageURL `json:"image_url,omitempty"`
}

type oaiImageURL struct {
	URL string `json:"url"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type oaiToolCall struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Function oaiToolCallFn `json:"function"`
}

type oaiToolCallFn struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaiResponse struct {
	Model   string      `json:"model"`
	Choices []oaiChoice `json:"choices"`
	Usage   oaiUsage    `json:"usage"`
}

type oaiChoice struct {
	Message struct {
		Content   string        `json:"content"`
		ToolCalls []oaiToolCall `json:"tool_calls"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// oaiContent renders a chat message's blocks in the wire shape the API
// expects: a bare string for plain text, an array of typed parts when
// an image block is present.
func oaiContent(m domain.ChatMessage) any {
	multimodal := false
	for _, b := range m.Blocks {
		if b.Type == domain.BlockImage {
			multimodal = true
			break
		}
	}
	if !multimodal {
		return m.Text()
	}
	parts := make([]oaiPart, 0, len(m.Blocks))
	for _, b := range m.Blocks {
		switch b.Type {
		case domain.BlockImage:
			parts = append(parts, oaiPart{Type: "image_url", ImageURL: &oaiImageURL{URL: b.ImageURL}})
		default:
			parts = append(parts, oaiPart{Type: "text", Text: b.Text})
		}
	}
	return parts
}

func (o *OpenAI) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResult, error) {
	agent := req.Agent

	msgs := make([]oaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		om := oaiMessage{Role: m.Role, Content: oaiContent(m)}
		if m.ToolCallID != "" {
			om.ToolCallID = m.ToolCallID
			om.Name = m.ToolName
		}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			om.ToolCalls = append(om.ToolCalls, oaiToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: oaiToolCallFn{Name: tc.Name, Arguments: string(args)},
			})
		}
		msgs = append(msgs, om)
	}

	body := oaiRequest{
		Model:            agent.Model,
		Messages:         msgs,
		MaxTokens:        agent.MaxTokens,
		Temperature:      agent.Temperature,
		TopP:             agent.TopP,
		FrequencyPenalty: agent.FrequencyPenalty,
		PresencePenalty:  agent.PresencePenalty,
		Stream:           false,
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, oaiTool{
			Type:     "function",
			Function: oaiFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %s request: %v", domain.ErrProvider, o.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: %s returned %d: %s", domain.ErrProvider, o.name, resp.StatusCode, string(respBody))
	}

	var oaiResp oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return nil, fmt.Errorf("%w: decode %s response: %v", domain.ErrProvider, o.name, err)
	}
	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: %s returned no choices", domain.ErrProvider, o.name)
	}

	choice := oaiResp.Choices[0]
	out := &domain.CompletionResult{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Model:        oaiResp.Model,
		Usage: domain.Usage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		if args == nil {
			args = make(map[string]any)
		}
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID:           tc.ID,
			Name:         tc.Function.Name,
			Arguments:    args,
			RawArguments: tc.Function.Arguments,
		})
	}

	return out, nil
}
