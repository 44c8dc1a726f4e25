package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"chathub/internal/domain"
	"chathub/internal/provider"
)

// maxToolRounds bounds the agentic loop to exactly one additional
// provider call after tool execution: at most two completion calls per
// inbound message. A deliberate cost bound, asserted by tests.
const maxToolRounds = 1

// runCompletionLoop drives the bounded tool-calling cycle: call the
// provider; if it requests tools, execute them sequentially in array
// order, extend the context with the call record and results, and call
// the provider once more. The second response is final even if it asks
// for more tools. Returns the final result plus the tool calls
// executed, for the persisted metadata record.
func (o *Orchestrator) runCompletionLoop(ctx context.Context, prov provider.Provider, req domain.CompletionRequest) (*domain.CompletionResult, []domain.ToolCall, error) {
	result, err := prov.Complete(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	var executed []domain.ToolCall
	for round := 0; round < maxToolRounds && result.HasToolCalls(); round++ {
		calls := result.ToolCalls
		executed = append(executed, calls...)

		req.Messages = append(req.Messages, domain.ChatMessage{
			Role:      "assistant",
			ToolCalls: calls,
		})
		for _, call := range calls {
			req.Messages = append(req.Messages, domain.ChatMessage{
				Role:       "tool",
				Blocks:     []domain.ContentBlock{{Type: domain.BlockText, Text: o.executeToolCall(ctx, call)}},
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}

		result, err = prov.Complete(ctx, req)
		if err != nil {
			return nil, nil, err
		}
	}
	return result, executed, nil
}

// executeToolCall resolves and runs one model tool call. Every failure
// mode becomes a result payload the model can read; the loop is never
// aborted by a failing tool.
func (o *Orchestrator) executeToolCall(ctx context.Context, call domain.ToolCall) string {
	if o.tools == nil {
		return toolErrorPayload(fmt.Sprintf("no tool servers configured for %q", call.Name))
	}
	inv, err := o.tools.ExtractInvocation(call.Name, call.RawArguments)
	if err != nil {
		o.logger.Warn("tool call rejected", "name", call.Name, "error", err)
		return toolErrorPayload(err.Error())
	}
	if inv == nil {
		o.logger.Warn("model called unknown function", "name", call.Name)
		return toolErrorPayload(fmt.Sprintf("unknown function %q", call.Name))
	}
	return o.tools.Execute(ctx, *inv)
}

func toolErrorPayload(msg string) string {
	raw, _ := json.Marshal(map[string]string{"error": msg})
	return string(raw)
}
