package domain

import "time"

// ConversationType classifies the external chat a conversation mirrors.
type ConversationType string

const (
	ConversationPrivate   ConversationType = "private"
	ConversationGroup     ConversationType = "group"
	ConversationBroadcast ConversationType = "broadcast"
)

// ConversationStatus is the lifecycle state of a conversation.
// Allowed transitions: open ⇄ paused, open|paused → closed → archived.
// Archived is terminal. Only open conversations generate completions.
type ConversationStatus string

const (
	StatusOpen     ConversationStatus = "open"
	StatusPaused   ConversationStatus = "paused"
	StatusClosed   ConversationStatus = "closed"
	StatusArchived ConversationStatus = "archived"
)

// CanTransition reports whether moving from s to next is a legal
// status transition.
func (s ConversationStatus) CanTransition(next ConversationStatus) bool {
	if s == next {
		return false
	}
	switch s {
	case StatusOpen:
		return next == StatusPaused || next == StatusClosed
	case StatusPaused:
		return next == StatusOpen || next == StatusClosed
	case StatusClosed:
		return next == StatusArchived
	default:
		return false
	}
}

// ParticipantRole identifies who a participant is relative to the hub.
type ParticipantRole string

const (
	RoleUser   ParticipantRole = "user"
	RoleAgent  ParticipantRole = "agent"
	RoleSystem ParticipantRole = "system"
	RoleAdmin  ParticipantRole = "admin"
)

// Participant is one identity inside a conversation. Participants are
// owned by their conversation and appended when a previously-unseen
// identity posts in a group chat.
type Participant struct {
	ExternalID  string          `json:"external_id"`
	DisplayName string          `json:"display_name,omitempty"`
	Role        ParticipantRole `json:"role"`
	JoinedAt    time.Time       `json:"joined_at"`
	LeftAt      *time.Time      `json:"left_at,omitempty"`
}

// Conversation correlates one external chat thread with one
// tenant/channel/agent. The pair (ChannelID, ExternalChannelID) is
// unique: at most one conversation per external thread per channel.
// Conversations are never physically deleted by the orchestrator;
// archival is a status transition.
type Conversation struct {
	ID                string             `json:"id"`
	TenantID          string             `json:"tenant_id"`
	ChannelID         string             `json:"channel_id"`
	AgentID           string             `json:"agent_id,omitempty"`
	ExternalChannelID string             `json:"external_channel_id"`
	Type              ConversationType   `json:"type"`
	Status            ConversationStatus `json:"status"`
	Participants      []Participant      `json:"participants,omitempty"`
	Context           map[string]any     `json:"context,omitempty"`
	MessageCount      int64              `json:"message_count"`
	LastActivityAt    time.Time          `json:"last_activity_at"`
	CreatedAt         time.Time          `json:"created_at"`
}

// HasParticipant reports whether the external identity already appears
// in the participant set.
func (c *Conversation) HasParticipant(externalID string) bool {
	for _, p := range c.Participants {
		if p.ExternalID == externalID {
			return true
		}
	}
	return false
}

// Agent is a virtual agent: a named configuration bundle driving
// completions. APIKeyCiphertext holds the encrypted provider credential;
// it is decrypted in memory immediately before a provider call and
// never persisted back.
type Agent struct {
	ID               string
	TenantID         string
	Name             string
	Provider         string
	Model            string
	SystemPrompt     string
	Temperature      *float64
	MaxTokens        int
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	Active           bool
	APIKeyCiphertext string
}

// Channel is a configured connection to one external messaging
// platform instance (e.g. one bot token). ConfigCiphertext holds the
// encrypted credential bundle interpreted by the channel adapter.
type Channel struct {
	ID               string
	TenantID         string
	Type             ChannelType
	Name             string // mention token for group chats: @<Name>
	DefaultAgentID   string
	ContextLimit     int // history window for completion context, 0 = default
	ConfigCiphertext string
}
