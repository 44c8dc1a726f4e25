// Package channel normalizes inbound and outbound messages for the
// external messaging platforms the hub speaks to.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"chathub/internal/domain"
)

// Config is the decrypted, in-memory runtime configuration an adapter
// needs for one call. Exactly one per-platform section is set, matching
// Type. Adapters never persist or log these values.
type Config struct {
	Type domain.ChannelType
	Name string // channel mention token

	Telegram *TelegramSettings
	WhatsApp *WhatsAppSettings
	Slack    *SlackSettings
	Discord  *DiscordSettings
}

type TelegramSettings struct {
	Token       string `json:"token"`
	ParseMode   string `json:"parseMode,omitempty"`
	APIEndpoint string `json:"apiEndpoint,omitempty"` // override for tests, defaults to the Bot API
}

type WhatsAppSettings struct {
	AccessToken   string `json:"accessToken"`
	PhoneNumberID string `json:"phoneNumberId"`
	APIBase       string `json:"apiBase,omitempty"` // override for tests, defaults to the Graph API
}

type SlackSettings struct {
	BotToken string `json:"botToken"`
}

type DiscordSettings struct {
	BotToken string `json:"botToken"`
}

// DecodeConfig builds an adapter Config from a channel's decrypted
// credential bundle: JSON in the shape of the channel type's settings
// struct. The resulting Config lives only for the call it was built
// for.
func DecodeConfig(typ domain.ChannelType, name, plaintext string) (Config, error) {
	cfg := Config{Type: typ, Name: name}
	var err error
	switch typ {
	case domain.ChannelTelegram:
		cfg.Telegram = &TelegramSettings{}
		err = json.Unmarshal([]byte(plaintext), cfg.Telegram)
	case domain.ChannelWhatsApp:
		cfg.WhatsApp = &WhatsAppSettings{}
		err = json.Unmarshal([]byte(plaintext), cfg.WhatsApp)
	case domain.ChannelSlack:
		cfg.Slack = &SlackSettings{}
		err = json.Unmarshal([]byte(plaintext), cfg.Slack)
	case domain.ChannelDiscord:
		cfg.Discord = &DiscordSettings{}
		err = json.Unmarshal([]byte(plaintext), cfg.Discord)
	default:
		return Config{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedChannel, typ)
	}
	if err != nil {
		return Config{}, fmt.Errorf("decode %s credential bundle: %w", typ, err)
	}
	return cfg, nil
}

// Adapter converts between one platform's wire shapes and the hub's
// normalized model. Adapters are stateless: all credentials arrive
// per-call through Config.
type Adapter interface {
	Type() domain.ChannelType

	// SendMessage delivers text and/or attachments to a recipient and
	// returns the platform's message id. Fails with domain.ErrNoContent
	// when the payload is empty and domain.ErrChannelDelivery on
	// transport failure. When only attachments are present, the first
	// attachment's mime class selects image/video/document delivery.
	SendMessage(ctx context.Context, cfg Config, recipientID string, payload domain.OutboundPayload) (string, error)

	// ReceiveMessage normalizes one raw platform event. Unrecognized
	// payload shapes fail with domain.ErrUnsupportedPayload rather than
	// silently dropping data.
	ReceiveMessage(ctx context.Context, cfg Config, rawEvent []byte) (*domain.NormalizedMessage, error)

	// UploadDocument pushes a file through the platform's document
	// endpoint and returns the platform's file id.
	UploadDocument(ctx context.Context, cfg Config, recipientID string, doc domain.DocumentUpload) (string, error)

	// GetMetadata reports out-of-band health. It never blocks message
	// flow; failures surface inside the returned snapshot.
	GetMetadata(ctx context.Context, cfg Config) (*domain.ChannelHealth, error)
}

// mimeClass buckets a mime type for outbound delivery selection.
type mimeClass int

const (
	classDocument mimeClass = iota
	classImage
	classVideo
	classAudio
)

func classifyMime(mime string) mimeClass {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return classImage
	case strings.HasPrefix(mime, "video/"):
		return classVideo
	case strings.HasPrefix(mime, "audio/"):
		return classAudio
	default:
		return classDocument
	}
}

// validatePayload enforces the no-content rule shared by every adapter.
func validatePayload(payload domain.OutboundPayload) error {
	if payload.Text == "" && len(payload.Attachments) == 0 {
		return domain.ErrNoContent
	}
	return nil
}
