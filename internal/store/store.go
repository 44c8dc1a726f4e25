// Package store defines the persistence ports the orchestrator talks
// to, plus a SQLite implementation. Every filter is tenant-scoped by
// construction.
package store

import (
	"context"
	"errors"

	"chathub/internal/domain"
)

// ErrConflict is returned when an insert violates a uniqueness
// invariant, e.g. a second conversation for the same
// (channel, external channel) pair.
var ErrConflict = errors.New("store: conflict")

// ConversationStore persists conversations. FindConversationByExternalID
// returns (nil, nil) when no conversation exists for the key.
type ConversationStore interface {
	FindConversationByExternalID(ctx context.Context, tenantID, channelID, externalChannelID string) (*domain.Conversation, error)
	CreateConversation(ctx context.Context, conv *domain.Conversation) error
	UpdateConversation(ctx context.Context, conv *domain.Conversation) error
}

// MessageStore persists messages. FindMessagesByConversation returns up
// to limit messages, newest first.
type MessageStore interface {
	CreateMessage(ctx context.Context, tenantID string, msg *domain.Message) error
	FindMessagesByConversation(ctx context.Context, tenantID, conversationID string, limit int) ([]domain.Message, error)
	UpdateMessage(ctx context.Context, tenantID string, msg *domain.Message) error
}

// ChannelDirectory resolves configured channels for a tenant.
type ChannelDirectory interface {
	GetChannel(ctx context.Context, tenantID, channelID string) (*domain.Channel, error)
}

// AgentDirectory resolves configured agents for a tenant.
// FirstActiveAgent returns (nil, nil) when the tenant has no active
// agent.
type AgentDirectory interface {
	GetAgent(ctx context.Context, tenantID, agentID string) (*domain.Agent, error)
	FirstActiveAgent(ctx context.Context, tenantID string) (*domain.Agent, error)
}
