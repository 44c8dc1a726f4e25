package orchestrator

import (
	"context"
	"fmt"

	"chathub/internal/channel"
	"chathub/internal/domain"
)

// defaultContextLimit is the history window used when the channel does
// not configure one.
const defaultContextLimit = 20

// BuildContext assembles the ordered message list fed to the completion
// provider: optional system turn, then up to limit persisted messages
// in chronological order. chCfg carries the channel's decrypted
// credentials for attachment retrieval; it lives only for this call.
// Attachment processing is best-effort; a message contributing zero
// blocks is omitted entirely.
func (o *Orchestrator) BuildContext(ctx context.Context, tenantID, conversationID, systemPrompt string, chCfg channel.Config, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = defaultContextLimit
	}

	history, err := o.messages.FindMessagesByConversation(ctx, tenantID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	// Newest-first from the store; flip to chronological.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	out := make([]domain.ChatMessage, 0, len(history)+1)
	if systemPrompt != "" {
		out = append(out, domain.TextMessage("system", systemPrompt))
	}

	for _, msg := range history {
		switch msg.Role {
		case domain.RoleAgent:
			turn := domain.ChatMessage{Role: "assistant"}
			if msg.Content != "" {
				turn.Blocks = []domain.ContentBlock{{Type: domain.BlockText, Text: msg.Content}}
			}
			// Reattach the tool-call record verbatim so the provider sees
			// the same function calls it produced originally.
			turn.ToolCalls = msg.Metadata.ToolCalls
			if len(turn.Blocks) == 0 && len(turn.ToolCalls) == 0 {
				continue
			}
			out = append(out, turn)

		case domain.RoleSystem:
			if msg.Content != "" {
				out = append(out, domain.TextMessage("system", msg.Content))
			}

		default: // user, admin
			turn := o.userTurn(ctx, msg, chCfg)
			if len(turn.Blocks) == 0 {
				continue
			}
			out = append(out, turn)
		}
	}
	return out, nil
}

// userTurn renders one user message: a name-prefixed text block, then
// one block per attachment the processor can handle.
func (o *Orchestrator) userTurn(ctx context.Context, msg domain.Message, chCfg channel.Config) domain.ChatMessage {
	turn := domain.ChatMessage{Role: "user"}
	if msg.Content != "" {
		text := msg.Content
		if msg.AuthorName != "" {
			text = "@" + msg.AuthorName + ": " + text
		}
		turn.Blocks = append(turn.Blocks, domain.ContentBlock{Type: domain.BlockText, Text: text})
	}
	for _, att := range msg.Attachments {
		block, err := o.attachments.Process(ctx, att, chCfg)
		if err != nil {
			o.logger.Warn("attachment skipped",
				"conversation_id", msg.ConversationID,
				"message_id", msg.ID,
				"mime_type", att.MimeType,
				"error", err)
			continue
		}
		turn.Blocks = append(turn.Blocks, block)
	}
	return turn
}
