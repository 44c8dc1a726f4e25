package domain

import "time"

// ContentType is the dominant content kind of a message.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentAudio    ContentType = "audio"
	ContentVoice    ContentType = "voice"
	ContentVideo    ContentType = "video"
	ContentDocument ContentType = "document"
	ContentSticker  ContentType = "sticker"
	ContentLocation ContentType = "location"
	ContentCommand  ContentType = "command"
	ContentSystem   ContentType = "system"
)

// ParseContentType maps a channel-reported type string to a ContentType.
// Unknown strings fall back to text rather than failing the message.
func ParseContentType(s string) ContentType {
	switch ContentType(s) {
	case ContentText, ContentImage, ContentAudio, ContentVoice, ContentVideo,
		ContentDocument, ContentSticker, ContentLocation, ContentCommand, ContentSystem:
		return ContentType(s)
	default:
		return ContentText
	}
}

// MessageStatus tracks outbound delivery. Transitions are owned by the
// channel-dispatch step: pending → sent → delivered/failed. A message in
// a terminal state is never mutated except to attach the external id
// after a send.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageFailed    MessageStatus = "failed"
)

// Attachment is a media reference carried by a message. Immutable once
// attached.
type Attachment struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	FileName string `json:"file_name,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Duration int    `json:"duration,omitempty"` // seconds, for audio/video
}

// MessageMetadata is the structured metadata persisted alongside a
// message: model id and token usage for agent replies, plus the raw
// tool-call record so context building can replay it verbatim.
type MessageMetadata struct {
	Model            string     `json:"model,omitempty"`
	PromptTokens     int        `json:"prompt_tokens,omitempty"`
	CompletionTokens int        `json:"completion_tokens,omitempty"`
	TotalTokens      int        `json:"total_tokens,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	ChatType         string     `json:"chat_type,omitempty"`
}

// Message belongs to exactly one conversation. Created once per
// inbound/outbound event.
type Message struct {
	ID                string          `json:"id"`
	ConversationID    string          `json:"conversation_id"`
	Role              ParticipantRole `json:"role"`
	ContentType       ContentType     `json:"content_type"`
	Content           string          `json:"content,omitempty"`
	Attachments       []Attachment    `json:"attachments,omitempty"`
	ExternalMessageID string          `json:"external_message_id,omitempty"`
	AuthorID          string          `json:"author_id,omitempty"`
	AuthorName        string          `json:"author_name,omitempty"`
	Metadata          MessageMetadata `json:"metadata,omitempty"`
	Status            MessageStatus   `json:"status,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}
