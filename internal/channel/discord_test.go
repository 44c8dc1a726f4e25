package channel

import (
	"context"
	"errors"
	"testing"

	"chathub/internal/domain"
)

func discordConfig() Config {
	return Config{
		Type:    domain.ChannelDiscord,
		Name:    "@hubbot",
		Discord: &DiscordSettings{BotToken: "discord-test"},
	}
}

func TestDiscordReceiveGuildText(t *testing.T) {
	raw := []byte(`{
		"id": "1100000000000000001",
		"channel_id": "998877",
		"guild_id": "554433",
		"content": "good morning",
		"timestamp": "2026-08-30T09:00:00Z",
		"author": {"id": "42", "username": "grace"}
	}`)

	d := NewDiscord()
	msg, err := d.ReceiveMessage(context.Background(), discordConfig(), raw)
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if msg.ExternalChannelID != "998877" || msg.ExternalMessageID != "1100000000000000001" {
		t.Fatalf("ids: got %q / %q", msg.ExternalChannelID, msg.ExternalMessageID)
	}
	if msg.ChatType != domain.ChatGroup {
		t.Fatalf("guild message should be group, got %s", msg.ChatType)
	}
	if msg.Metadata["guild_id"] != "554433" {
		t.Fatalf("guild id should land in metadata, got %v", msg.Metadata)
	}
}

func TestDiscordReceiveDirectMessage(t *testing.T) {
	raw := []byte(`{
		"id": "1100000000000000002",
		"channel_id": "111222",
		"content": "hey",
		"timestamp": "2026-08-30T09:01:00Z",
		"author": {"id": "42", "username": "grace"}
	}`)

	d := NewDiscord()
	msg, err := d.ReceiveMessage(context.Background(), discordConfig(), raw)
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if msg.ChatType != domain.ChatPrivate {
		t.Fatalf("no guild id should be private, got %s", msg.ChatType)
	}
}

func TestDiscordReceiveAttachment(t *testing.T) {
	raw := []byte(`{
		"id": "1100000000000000003",
		"channel_id": "111222",
		"content": "",
		"timestamp": "2026-08-30T09:02:00Z",
		"author": {"id": "42", "username": "grace"},
		"attachments": [{"url": "https://cdn.discordapp.com/a.mp4", "filename": "clip.mp4", "content_type": "video/mp4", "size": 4096, "width": 640, "height": 480}]
	}`)

	d := NewDiscord()
	msg, err := d.ReceiveMessage(context.Background(), discordConfig(), raw)
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if msg.ContentType != domain.ContentVideo {
		t.Fatalf("mp4 should classify as video, got %s", msg.ContentType)
	}
	att := msg.Attachments[0]
	if att.FileName != "clip.mp4" || att.Width != 640 {
		t.Fatalf("attachment: got %+v", att)
	}
}

func TestDiscordReceiveRejects(t *testing.T) {
	d := NewDiscord()
	cases := [][]byte{
		[]byte(`{"t": "TYPING_START"}`),
		[]byte(`{"id": "1", "channel_id": "2", "author": {"id": "3", "bot": true}, "content": "echo"}`),
		[]byte(`{"id": "1", "channel_id": "2", "author": {"id": "3"}, "content": ""}`),
	}
	for i, raw := range cases {
		if _, err := d.ReceiveMessage(context.Background(), discordConfig(), raw); !errors.Is(err, domain.ErrUnsupportedPayload) {
			t.Errorf("case %d: expected ErrUnsupportedPayload, got %v", i, err)
		}
	}
}

func TestDiscordSendEmptyPayload(t *testing.T) {
	d := NewDiscord()
	if _, err := d.SendMessage(context.Background(), discordConfig(), "111", domain.OutboundPayload{}); !errors.Is(err, domain.ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}
}
