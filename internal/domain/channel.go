package domain

import "time"

// ChannelType identifies a messaging platform.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelSlack    ChannelType = "slack"
	ChannelDiscord  ChannelType = "discord"
)

// ChatType is the platform's own classification of the chat an event
// came from. Adapters surface it as a hint for conversation typing.
type ChatType string

const (
	ChatPrivate ChatType = "private"
	ChatGroup   ChatType = "group"
	ChatChannel ChatType = "channel"
)

// ConversationTypeForChat maps a chat-type hint to a conversation type.
// Unknown hints default to private.
func ConversationTypeForChat(ct ChatType) ConversationType {
	switch ct {
	case ChatGroup:
		return ConversationGroup
	case ChatChannel:
		return ConversationBroadcast
	default:
		return ConversationPrivate
	}
}

// NormalizedMessage is a channel adapter's platform-neutral view of one
// inbound event.
type NormalizedMessage struct {
	ExternalChannelID string
	ExternalMessageID string
	AuthorID          string
	AuthorName        string
	Content           string
	ContentType       ContentType
	Attachments       []Attachment
	ChatType          ChatType
	Timestamp         time.Time
	Metadata          map[string]string
}

// OutboundPayload is what the orchestrator hands to an adapter for
// delivery. At least one of Text or Attachments must be present.
type OutboundPayload struct {
	Text        string
	Attachments []Attachment
}

// DocumentUpload describes a file to push through a channel's document
// endpoint.
type DocumentUpload struct {
	URL      string
	FileName string
	MimeType string
}

// ChannelHealth is the out-of-band health snapshot reported by an
// adapter. Reporting never blocks message flow.
type ChannelHealth struct {
	Healthy   bool
	LastError string
	Metadata  map[string]string
	CheckedAt time.Time
}
