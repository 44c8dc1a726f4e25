// Package events emits versioned conversation-activity events so
// downstream systems (CRM, analytics) can follow message flow without
// touching the hub's store.
package events

import (
	"time"

	"github.com/google/uuid"

	"chathub/internal/domain"
)

const (
	TypeInbound  = "chat.inbound.v1"
	TypeOutbound = "chat.outbound.v1"

	producer = "chathub"
)

// Meta is the envelope metadata carried by every event.
type Meta struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Producer      string    `json:"producer"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Time          time.Time `json:"time"`
}

// Envelope wraps one event payload with its metadata.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// ConversationRef identifies the conversation an event belongs to.
type ConversationRef struct {
	TenantID          string `json:"tenant_id"`
	ChannelID         string `json:"channel_id"`
	ConversationID    string `json:"conversation_id"`
	ExternalChannelID string `json:"external_channel_id"`
}

// InboundV1 is emitted after a user message has been persisted.
// Body is a headers-only snapshot, never the full text.
type InboundV1 struct {
	Conversation      ConversationRef    `json:"conversation"`
	MessageID         string             `json:"message_id"`
	ExternalMessageID string             `json:"external_message_id,omitempty"`
	ContentType       domain.ContentType `json:"content_type"`
	HasText           bool               `json:"has_text"`
	AttachmentCount   int                `json:"attachment_count"`
	ReceivedAt        time.Time          `json:"received_at"`
}

// OutboundV1 is emitted after an agent reply has been dispatched.
type OutboundV1 struct {
	Conversation      ConversationRef `json:"conversation"`
	MessageID         string          `json:"message_id"`
	ExternalMessageID string          `json:"external_message_id,omitempty"`
	AgentID           string          `json:"agent_id"`
	Model             string          `json:"model,omitempty"`
	TotalTokens       int             `json:"total_tokens,omitempty"`
	SentAt            time.Time       `json:"sent_at"`
}

// NewEnvelope stamps a payload with fresh metadata.
func NewEnvelope(eventType, correlationID string, data any) Envelope {
	return Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			Type:          eventType,
			Producer:      producer,
			CorrelationID: correlationID,
			Time:          time.Now().UTC(),
		},
		Data: data,
	}
}

// RoutingKey maps an event type to its topic routing key
// (chat.inbound.v1 → chat.inbound).
func RoutingKey(eventType string) string {
	switch eventType {
	case TypeInbound:
		return "chat.inbound"
	case TypeOutbound:
		return "chat.outbound"
	default:
		return "chat.unknown"
	}
}
