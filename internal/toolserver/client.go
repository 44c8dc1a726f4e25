package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const maxResponseBody = 1 << 20

// Client speaks JSON-RPC 2.0 over HTTP to one tool server. It is
// long-lived and safe for concurrent use.
type Client struct {
	name       string
	url        string
	token      string
	httpClient *http.Client
	nextID     atomic.Int64
}

func NewClient(name, url, token string) *Client {
	return &Client{
		name:       name,
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) Name() string { return c.name }

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", c.name, method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		return nil, fmt.Errorf("%s %s: HTTP %d: %s", c.name, method, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("%s %s: decode: %w", c.name, method, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%s %s: rpc %d: %s", c.name, method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// ListTools discovers the tools the server exposes.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	raw, err := c.call(ctx, "tools/list", struct{}{})
	if err != nil {
		return nil, err
	}
	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%s tools/list: decode result: %w", c.name, err)
	}
	return result.Tools, nil
}

// CallTool invokes one tool and returns its text payload. A tool-level
// failure comes back as (payload, true, nil); only transport and
// protocol failures return an error.
func (c *Client) CallTool(ctx context.Context, tool string, args map[string]any) (string, bool, error) {
	raw, err := c.call(ctx, "tools/call", callToolParams{Name: tool, Arguments: args})
	if err != nil {
		return "", false, err
	}
	var result callToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", false, fmt.Errorf("%s tools/call: decode result: %w", c.name, err)
	}

	var sb strings.Builder
	for _, content := range result.Content {
		if content.Type == "text" {
			sb.WriteString(content.Text)
		}
	}
	return sb.String(), result.IsError, nil
}

// Close releases idle connections. In-flight calls are unaffected.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
