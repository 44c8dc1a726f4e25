// Package orchestrator is the control-flow hub: it receives normalized
// inbound events, resolves conversations, drives the bounded completion
// loop, and dispatches replies.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"chathub/internal/attach"
	"chathub/internal/channel"
	"chathub/internal/dedupe"
	"chathub/internal/domain"
	"chathub/internal/events"
	"chathub/internal/provider"
	"chathub/internal/secrets"
	"chathub/internal/store"
	"chathub/internal/toolserver"
)

// Config wires the orchestrator's collaborators. All of them are
// long-lived and shared across tenants; per-call state never leaks
// between requests.
type Config struct {
	Logger        *slog.Logger
	Channels      *channel.Registry
	Providers     *provider.Registry
	Tools         *toolserver.Registry
	Conversations store.ConversationStore
	Messages      store.MessageStore
	ChannelDir    store.ChannelDirectory
	AgentDir      store.AgentDirectory
	Secrets       secrets.Decryptor
	Dedupe        dedupe.Store
	Events        events.Publisher
	Attachments   attach.Processor
}

type Orchestrator struct {
	logger        *slog.Logger
	channels      *channel.Registry
	providers     *provider.Registry
	tools         *toolserver.Registry
	conversations store.ConversationStore
	messages      store.MessageStore
	channelDir    store.ChannelDirectory
	agentDir      store.AgentDirectory
	secrets       secrets.Decryptor
	dedupe        dedupe.Store
	events        events.Publisher
	attachments   attach.Processor
	locks         *keyedMutex
}

func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ev := cfg.Events
	if ev == nil {
		ev = events.NoopPublisher{}
	}
	att := cfg.Attachments
	if att == nil {
		att = attach.NewHTTPProcessor()
	}
	return &Orchestrator{
		logger:        logger,
		channels:      cfg.Channels,
		providers:     cfg.Providers,
		tools:         cfg.Tools,
		conversations: cfg.Conversations,
		messages:      cfg.Messages,
		channelDir:    cfg.ChannelDir,
		agentDir:      cfg.AgentDir,
		secrets:       cfg.Secrets,
		dedupe:        cfg.Dedupe,
		events:        ev,
		attachments:   att,
		locks:         newKeyedMutex(),
	}
}

// conversationKey serializes all work on one external thread.
func conversationKey(tenantID, channelID, externalChannelID string) string {
	return tenantID + "/" + channelID + "/" + externalChannelID
}

// HandleIncomingMessage processes one raw channel event end to end:
// normalize, resolve or create the conversation, persist the user
// message, and — when the conversation is open and addressed — generate
// and dispatch a reply. Duplicate deliveries of the same external
// message id are silently dropped.
func (o *Orchestrator) HandleIncomingMessage(ctx context.Context, tenantID, channelID string, rawEvent []byte) error {
	ch, err := o.channelDir.GetChannel(ctx, tenantID, channelID)
	if err != nil {
		return fmt.Errorf("resolve channel: %w", err)
	}
	adapter, err := o.channels.Resolve(ch.Type)
	if err != nil {
		return err
	}
	chCfg, err := o.channelConfig(ch)
	if err != nil {
		return err
	}

	msg, err := adapter.ReceiveMessage(ctx, chCfg, rawEvent)
	if err != nil {
		return fmt.Errorf("normalize event: %w", err)
	}

	if o.dedupe != nil && msg.ExternalMessageID != "" {
		dupKey := conversationKey(tenantID, channelID, msg.ExternalChannelID) + "/" + msg.ExternalMessageID
		duplicate, err := o.dedupe.CheckAndMark(ctx, dupKey)
		if err != nil {
			o.logger.Warn("dedupe check failed, processing anyway", "error", err)
		} else if duplicate {
			o.logger.Debug("duplicate delivery dropped",
				"tenant_id", tenantID,
				"channel_id", channelID,
				"external_message_id", msg.ExternalMessageID)
			return nil
		}
	}

	unlock := o.locks.Lock(conversationKey(tenantID, channelID, msg.ExternalChannelID))
	defer unlock()

	conv, err := o.resolveConversation(ctx, tenantID, ch, msg)
	if err != nil {
		return err
	}

	stored := &domain.Message{
		ID:                uuid.NewString(),
		ConversationID:    conv.ID,
		Role:              domain.RoleUser,
		ContentType:       msg.ContentType,
		Content:           msg.Content,
		Attachments:       msg.Attachments,
		ExternalMessageID: msg.ExternalMessageID,
		AuthorID:          msg.AuthorID,
		AuthorName:        msg.AuthorName,
		Metadata:          domain.MessageMetadata{ChatType: string(msg.ChatType)},
		Status:            domain.MessageDelivered,
		CreatedAt:         time.Now().UTC(),
	}
	if err := o.messages.CreateMessage(ctx, tenantID, stored); err != nil {
		return fmt.Errorf("persist inbound message: %w", err)
	}
	o.touchConversation(ctx, conv)
	o.publish(ctx, events.NewEnvelope(events.TypeInbound, conv.ID, events.InboundV1{
		Conversation:      o.conversationRef(tenantID, channelID, conv),
		MessageID:         stored.ID,
		ExternalMessageID: stored.ExternalMessageID,
		ContentType:       stored.ContentType,
		HasText:           stored.Content != "",
		AttachmentCount:   len(stored.Attachments),
		ReceivedAt:        stored.CreatedAt,
	}))

	if conv.Status != domain.StatusOpen || conv.AgentID == "" {
		return nil
	}
	if conv.Type == domain.ConversationGroup && !mentionsChannel(msg.Content, ch.Name) {
		// Unaddressed group chatter: persist only, never reply.
		return nil
	}

	return o.generateLocked(ctx, tenantID, conv, conv.AgentID, ch, msg.ExternalChannelID)
}

// resolveConversation finds the conversation for an external thread or
// creates it, and appends unseen group senders. A lost creation race is
// resolved by re-reading the winner's row.
func (o *Orchestrator) resolveConversation(ctx context.Context, tenantID string, ch *domain.Channel, msg *domain.NormalizedMessage) (*domain.Conversation, error) {
	conv, err := o.conversations.FindConversationByExternalID(ctx, tenantID, ch.ID, msg.ExternalChannelID)
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}

	if conv == nil {
		conv = o.newConversation(ctx, tenantID, ch, msg)
		if err := o.conversations.CreateConversation(ctx, conv); err != nil {
			if !errors.Is(err, store.ErrConflict) {
				return nil, fmt.Errorf("create conversation: %w", err)
			}
			conv, err = o.conversations.FindConversationByExternalID(ctx, tenantID, ch.ID, msg.ExternalChannelID)
			if err != nil || conv == nil {
				return nil, fmt.Errorf("re-read conversation after conflict: %w", err)
			}
		} else {
			o.logger.Info("conversation created",
				"tenant_id", tenantID,
				"channel_id", ch.ID,
				"conversation_id", conv.ID,
				"type", conv.Type)
			return conv, nil
		}
	}

	if conv.Type == domain.ConversationGroup && msg.AuthorID != "" && !conv.HasParticipant(msg.AuthorID) {
		conv.Participants = append(conv.Participants, domain.Participant{
			ExternalID:  msg.AuthorID,
			DisplayName: msg.AuthorName,
			Role:        domain.RoleUser,
			JoinedAt:    time.Now().UTC(),
		})
		if err := o.conversations.UpdateConversation(ctx, conv); err != nil {
			// Never aborts message persistence.
			o.logger.Warn("participant append failed",
				"conversation_id", conv.ID,
				"author_id", msg.AuthorID,
				"error", err)
		}
	}
	return conv, nil
}

func (o *Orchestrator) newConversation(ctx context.Context, tenantID string, ch *domain.Channel, msg *domain.NormalizedMessage) *domain.Conversation {
	now := time.Now().UTC()
	conv := &domain.Conversation{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		ChannelID:         ch.ID,
		ExternalChannelID: msg.ExternalChannelID,
		Type:              domain.ConversationTypeForChat(msg.ChatType),
		Status:            domain.StatusOpen,
		Context:           map[string]any{},
		LastActivityAt:    now,
		CreatedAt:         now,
	}
	if msg.AuthorID != "" {
		conv.Participants = []domain.Participant{{
			ExternalID:  msg.AuthorID,
			DisplayName: msg.AuthorName,
			Role:        domain.RoleUser,
			JoinedAt:    now,
		}}
	}

	// Default agent: the channel's, else the tenant's first active one,
	// else none.
	if ch.DefaultAgentID != "" {
		conv.AgentID = ch.DefaultAgentID
	} else if agent, err := o.agentDir.FirstActiveAgent(ctx, tenantID); err != nil {
		o.logger.Warn("agent lookup failed", "tenant_id", tenantID, "error", err)
	} else if agent != nil {
		conv.AgentID = agent.ID
	}
	return conv
}

// GenerateAndSendResponse produces and dispatches one agent reply for a
// conversation. recipientID is the external thread id the reply goes
// to; it also keys the per-conversation serialization.
func (o *Orchestrator) GenerateAndSendResponse(ctx context.Context, tenantID, conversationID, agentID, channelID, recipientID string) error {
	ch, err := o.channelDir.GetChannel(ctx, tenantID, channelID)
	if err != nil {
		return fmt.Errorf("resolve channel: %w", err)
	}

	unlock := o.locks.Lock(conversationKey(tenantID, channelID, recipientID))
	defer unlock()

	// Read under the lock so the status cannot go stale between check
	// and generation.
	conv, err := o.conversations.FindConversationByExternalID(ctx, tenantID, channelID, recipientID)
	if err != nil {
		return fmt.Errorf("find conversation: %w", err)
	}
	if conv == nil || conv.ID != conversationID {
		return fmt.Errorf("conversation %s not found for recipient %s", conversationID, recipientID)
	}
	if conv.Status != domain.StatusOpen {
		o.logger.Debug("generation skipped, conversation not open",
			"conversation_id", conv.ID,
			"status", string(conv.Status))
		return nil
	}
	return o.generateLocked(ctx, tenantID, conv, agentID, ch, recipientID)
}

// generateLocked runs generation and dispatch. Callers hold the
// conversation lock.
func (o *Orchestrator) generateLocked(ctx context.Context, tenantID string, conv *domain.Conversation, agentID string, ch *domain.Channel, recipientID string) error {
	latest, err := o.messages.FindMessagesByConversation(ctx, tenantID, conv.ID, 1)
	if err != nil {
		return fmt.Errorf("load latest message: %w", err)
	}
	if len(latest) == 0 || latest[0].Content == "" {
		// Nothing to respond to.
		return nil
	}

	agent, err := o.agentDir.GetAgent(ctx, tenantID, agentID)
	if err != nil {
		return fmt.Errorf("resolve agent: %w", err)
	}
	prov, err := o.providers.Resolve(agent.Provider)
	if err != nil {
		return err
	}

	chCfg, err := o.channelConfig(ch)
	if err != nil {
		return err
	}
	msgs, err := o.BuildContext(ctx, tenantID, conv.ID, agent.SystemPrompt, chCfg, ch.ContextLimit)
	if err != nil {
		return err
	}

	apiKey, err := o.secrets.Decrypt(agent.APIKeyCiphertext)
	if err != nil {
		return fmt.Errorf("agent %s: %w", agentID, err)
	}
	req := domain.CompletionRequest{
		Agent:    *agent,
		APIKey:   apiKey,
		Messages: msgs,
	}
	if o.tools != nil {
		req.Tools = o.tools.ProviderTools()
	}

	result, toolCalls, err := o.runCompletionLoop(ctx, prov, req)
	if err != nil {
		return fmt.Errorf("generate reply: %w", err)
	}

	reply := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           domain.RoleAgent,
		ContentType:    domain.ContentText,
		Content:        result.Content,
		AuthorID:       agent.ID,
		AuthorName:     agent.Name,
		Metadata: domain.MessageMetadata{
			Model:            result.Model,
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
			ToolCalls:        toolCalls,
		},
		Status:    domain.MessagePending,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.messages.CreateMessage(ctx, tenantID, reply); err != nil {
		return fmt.Errorf("persist reply: %w", err)
	}
	o.touchConversation(ctx, conv)

	return o.dispatch(ctx, tenantID, conv, ch, recipientID, reply)
}

// dispatch sends a persisted reply out through the channel adapter.
// Delivery failure never un-persists the message; it surfaces as a
// delivery error distinct from a generation failure.
func (o *Orchestrator) dispatch(ctx context.Context, tenantID string, conv *domain.Conversation, ch *domain.Channel, recipientID string, reply *domain.Message) error {
	adapter, err := o.channels.Resolve(ch.Type)
	if err != nil {
		return err
	}
	chCfg, err := o.channelConfig(ch)
	if err != nil {
		return err
	}

	externalID, err := adapter.SendMessage(ctx, chCfg, recipientID, domain.OutboundPayload{Text: reply.Content})
	if err != nil {
		reply.Status = domain.MessageFailed
		if uerr := o.messages.UpdateMessage(ctx, tenantID, reply); uerr != nil {
			o.logger.Warn("failed to mark reply failed", "message_id", reply.ID, "error", uerr)
		}
		return fmt.Errorf("dispatch reply %s: %w", reply.ID, err)
	}

	reply.ExternalMessageID = externalID
	reply.Status = domain.MessageSent
	if err := o.messages.UpdateMessage(ctx, tenantID, reply); err != nil {
		o.logger.Warn("failed to attach external id", "message_id", reply.ID, "error", err)
	}
	o.publish(ctx, events.NewEnvelope(events.TypeOutbound, conv.ID, events.OutboundV1{
		Conversation:      o.conversationRef(tenantID, ch.ID, conv),
		MessageID:         reply.ID,
		ExternalMessageID: externalID,
		AgentID:           reply.AuthorID,
		Model:             reply.Metadata.Model,
		TotalTokens:       reply.Metadata.TotalTokens,
		SentAt:            time.Now().UTC(),
	}))
	return nil
}

// channelConfig decrypts a channel's credential bundle for one call.
// The plaintext is never retained beyond the returned Config.
func (o *Orchestrator) channelConfig(ch *domain.Channel) (channel.Config, error) {
	plaintext, err := o.secrets.Decrypt(ch.ConfigCiphertext)
	if err != nil {
		return channel.Config{}, fmt.Errorf("channel %s: %w", ch.ID, err)
	}
	return channel.DecodeConfig(ch.Type, ch.Name, plaintext)
}

// touchConversation bumps activity counters. Counter drift is tolerable;
// failures are logged, never fatal.
func (o *Orchestrator) touchConversation(ctx context.Context, conv *domain.Conversation) {
	conv.MessageCount++
	conv.LastActivityAt = time.Now().UTC()
	if err := o.conversations.UpdateConversation(ctx, conv); err != nil {
		o.logger.Warn("conversation update failed", "conversation_id", conv.ID, "error", err)
	}
}

func (o *Orchestrator) conversationRef(tenantID, channelID string, conv *domain.Conversation) events.ConversationRef {
	return events.ConversationRef{
		TenantID:          tenantID,
		ChannelID:         channelID,
		ConversationID:    conv.ID,
		ExternalChannelID: conv.ExternalChannelID,
	}
}

func (o *Orchestrator) publish(ctx context.Context, env events.Envelope) {
	if err := o.events.Publish(ctx, env); err != nil {
		o.logger.Warn("event publish failed", "type", env.Meta.Type, "error", err)
	}
}

// mentionsChannel reports whether a group message addresses the
// channel's configured name token.
func mentionsChannel(content, channelName string) bool {
	if channelName == "" {
		return false
	}
	return strings.Contains(content, "@"+channelName)
}
