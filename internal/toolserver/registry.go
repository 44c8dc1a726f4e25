package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"chathub/internal/config"
	"chathub/internal/domain"
)

// toolPrefix namespaces every registered tool as mcp_<server>_<tool> so
// invocation routing is string-decodable. Server names never contain
// underscores (enforced at config validation), so the first underscore
// after the prefix splits server from tool.
const toolPrefix = "mcp_"

type registeredTool struct {
	server string
	info   ToolInfo
}

// Registry owns the tool-server connections and the discovered tool
// set. Start connects and discovers once; afterwards reads are
// lock-free for the orchestrator's hot path.
type Registry struct {
	logger  *slog.Logger
	clients map[string]*Client

	mu    sync.RWMutex
	tools []registeredTool
}

func NewRegistry(logger *slog.Logger, servers []config.ToolServer) *Registry {
	r := &Registry{
		logger:  logger,
		clients: make(map[string]*Client, len(servers)),
	}
	for _, s := range servers {
		r.clients[s.Name] = NewClient(s.Name, s.URL, s.Token)
	}
	return r
}

// Start discovers tools from every configured server. A server that
// fails discovery is logged and contributes no tools; it does not block
// startup.
func (r *Registry) Start(ctx context.Context) {
	var tools []registeredTool
	for name, client := range r.clients {
		listed, err := client.ListTools(ctx)
		if err != nil {
			r.logger.Warn("tool server discovery failed", "server", name, "error", err)
			continue
		}
		for _, t := range listed {
			tools = append(tools, registeredTool{server: name, info: t})
		}
		r.logger.Info("tool server connected", "server", name, "tools", len(listed))
	}
	r.mu.Lock()
	r.tools = tools
	r.mu.Unlock()
}

// StopAll releases every tool-server connection.
func (r *Registry) StopAll() {
	for _, client := range r.clients {
		client.Close()
	}
	r.mu.Lock()
	r.tools = nil
	r.mu.Unlock()
}

// ProviderTools renders the discovered tool set in the completion
// provider's function-calling schema.
func (r *Registry) ProviderTools() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, domain.ToolDefinition{
			Name:        toolPrefix + t.server + "_" + t.info.Name,
			Description: t.info.Description,
			Parameters:  convertSchema(t.info.InputSchema),
		})
	}
	return defs
}

// convertSchema maps a tool's declared JSON Schema into the provider's
// parameter schema, recursively preserving nested objects, arrays,
// enums, and bounds. A missing or unreadable schema becomes an empty
// object schema.
func convertSchema(raw json.RawMessage) map[string]any {
	var schema map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &schema) != nil || schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return convertNode(schema)
}

func convertNode(node map[string]any) map[string]any {
	out := make(map[string]any, len(node))
	for _, key := range []string{
		"type", "description", "enum", "required", "default", "format",
		"minimum", "maximum", "minLength", "maxLength", "minItems", "maxItems",
	} {
		if v, ok := node[key]; ok {
			out[key] = v
		}
	}
	if props, ok := node["properties"].(map[string]any); ok {
		converted := make(map[string]any, len(props))
		for name, sub := range props {
			if subMap, ok := sub.(map[string]any); ok {
				converted[name] = convertNode(subMap)
			}
		}
		out["properties"] = converted
	}
	if items, ok := node["items"].(map[string]any); ok {
		out["items"] = convertNode(items)
	}
	if out["type"] == "object" {
		if _, ok := out["properties"]; !ok {
			out["properties"] = map[string]any{}
		}
	}
	return out
}

// ExtractInvocation decodes a model tool call into a routable
// invocation. A name outside the mcp_ namespace returns (nil, nil) so
// the caller can treat it as a non-registry function; argument JSON
// that does not parse fails with domain.ErrMalformedArguments.
func (r *Registry) ExtractInvocation(name, argsJSON string) (*domain.ToolInvocation, error) {
	rest, ok := strings.CutPrefix(name, toolPrefix)
	if !ok {
		return nil, nil
	}
	server, tool, ok := strings.Cut(rest, "_")
	if !ok || server == "" || tool == "" {
		return nil, nil
	}

	args := make(map[string]any)
	if trimmed := strings.TrimSpace(argsJSON); trimmed != "" && trimmed != "null" {
		if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
			return nil, fmt.Errorf("%w: tool %s: %v", domain.ErrMalformedArguments, name, err)
		}
	}
	return &domain.ToolInvocation{Server: server, Tool: tool, Args: args}, nil
}

// Execute dispatches one invocation and always produces a result
// payload: failures are folded into an error object the model can read,
// never surfaced to the orchestrator.
func (r *Registry) Execute(ctx context.Context, inv domain.ToolInvocation) string {
	client, ok := r.clients[inv.Server]
	if !ok {
		return errorPayload(fmt.Errorf("%w: unknown tool server %q", domain.ErrToolExecution, inv.Server))
	}

	payload, isErr, err := client.CallTool(ctx, inv.Tool, inv.Args)
	if err != nil {
		r.logger.Warn("tool execution failed", "server", inv.Server, "tool", inv.Tool, "error", err)
		return errorPayload(fmt.Errorf("%w: %v", domain.ErrToolExecution, err))
	}
	if isErr {
		r.logger.Warn("tool returned error result", "server", inv.Server, "tool", inv.Tool)
		return errorPayload(fmt.Errorf("%w: %s", domain.ErrToolExecution, payload))
	}
	return payload
}

func errorPayload(err error) string {
	raw, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(raw)
}
