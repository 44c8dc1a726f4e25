package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"chathub/internal/domain"
)

func slackConfig(apiURL string) (Config, *Slack) {
	s := NewSlack()
	s.apiURL = apiURL
	return Config{
		Type:  domain.ChannelSlack,
		Name:  "@hubbot",
		Slack: &SlackSettings{BotToken: "xoxb-test"},
	}, s
}

const slackMessageEvent = `{
	"type": "event_callback",
	"team_id": "T1",
	"event": {
		"type": "message",
		"channel": "C024BE91L",
		"channel_type": "channel",
		"user": "U2147483697",
		"text": "Live long and prosper",
		"ts": "1355517523.000005"
	}
}`

func TestSlackReceiveText(t *testing.T) {
	cfg, s := slackConfig("")
	msg, err := s.ReceiveMessage(context.Background(), cfg, []byte(slackMessageEvent))
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if msg.ExternalChannelID != "C024BE91L" || msg.ExternalMessageID != "1355517523.000005" {
		t.Fatalf("ids: got %q / %q", msg.ExternalChannelID, msg.ExternalMessageID)
	}
	if msg.Content != "Live long and prosper" || msg.ContentType != domain.ContentText {
		t.Fatalf("content: got %s %q", msg.ContentType, msg.Content)
	}
	if msg.ChatType != domain.ChatChannel {
		t.Fatalf("channel_type channel should map to channel, got %s", msg.ChatType)
	}
}

func TestSlackReceiveFileShare(t *testing.T) {
	raw := []byte(`{
		"type": "event_callback",
		"event": {
			"type": "message",
			"subtype": "file_share",
			"channel": "D0HUB",
			"channel_type": "im",
			"user": "U1",
			"text": "here you go",
			"ts": "1700000000.000100",
			"files": [{"id": "F1", "name": "diagram.png", "mimetype": "image/png", "url_private": "https://files.slack.com/F1", "size": 512}]
		}
	}`)

	cfg, s := slackConfig("")
	msg, err := s.ReceiveMessage(context.Background(), cfg, raw)
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if msg.ContentType != domain.ContentImage {
		t.Fatalf("png file should classify as image, got %s", msg.ContentType)
	}
	if msg.ChatType != domain.ChatPrivate {
		t.Fatalf("im should map to private, got %s", msg.ChatType)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].FileName != "diagram.png" {
		t.Fatalf("attachment: got %+v", msg.Attachments)
	}
}

func TestSlackReceiveRejectsNonMessage(t *testing.T) {
	cfg, s := slackConfig("")
	cases := [][]byte{
		[]byte(`{"type": "url_verification", "challenge": "abc"}`),
		[]byte(`{"type": "event_callback", "event": {"type": "reaction_added"}}`),
		[]byte(`{"type": "event_callback", "event": {"type": "message", "bot_id": "B1", "channel": "C1", "ts": "1.2", "text": "echo"}}`),
	}
	for i, raw := range cases {
		if _, err := s.ReceiveMessage(context.Background(), cfg, raw); !errors.Is(err, domain.ErrUnsupportedPayload) {
			t.Errorf("case %d: expected ErrUnsupportedPayload, got %v", i, err)
		}
	}
}

func TestSlackSendText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok": true, "channel": "C024BE91L", "ts": "1503435956.000247"}`)
	}))
	defer srv.Close()

	cfg, s := slackConfig(srv.URL + "/")
	id, err := s.SendMessage(context.Background(), cfg, "C024BE91L", domain.OutboundPayload{Text: "pong"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if id != "1503435956.000247" {
		t.Fatalf("expected the message ts as id, got %q", id)
	}
}

func TestSlackSendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok": false, "error": "channel_not_found"}`)
	}))
	defer srv.Close()

	cfg, s := slackConfig(srv.URL + "/")
	_, err := s.SendMessage(context.Background(), cfg, "CMISSING", domain.OutboundPayload{Text: "pong"})
	if !errors.Is(err, domain.ErrChannelDelivery) {
		t.Fatalf("expected ErrChannelDelivery, got %v", err)
	}
}

func TestSlackSendEmptyPayload(t *testing.T) {
	cfg, s := slackConfig("")
	if _, err := s.SendMessage(context.Background(), cfg, "C1", domain.OutboundPayload{}); !errors.Is(err, domain.ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}
}

func TestSlackUploadDocument(t *testing.T) {
	var baseURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/report.pdf":
			fmt.Fprint(w, "%PDF-1.4 fake report")
		case "/files.getUploadURLExternal":
			if r.FormValue("filename") != "report.pdf" {
				t.Errorf("filename: got %q", r.FormValue("filename"))
			}
			if r.FormValue("length") == "" || r.FormValue("length") == "0" {
				t.Errorf("length missing or zero: %q", r.FormValue("length"))
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"ok": true, "upload_url": %q, "file_id": "F900"}`, baseURL+"/upload-slot")
		case "/upload-slot":
			fmt.Fprint(w, "OK")
		case "/files.completeUploadExternal":
			if r.FormValue("channel_id") != "C024BE91L" {
				t.Errorf("channel_id: got %q", r.FormValue("channel_id"))
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"ok": true, "files": [{"id": "F900", "title": ""}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	baseURL = srv.URL

	cfg, s := slackConfig(srv.URL + "/")
	id, err := s.UploadDocument(context.Background(), cfg, "C024BE91L", domain.DocumentUpload{
		URL:      srv.URL + "/report.pdf",
		FileName: "report.pdf",
		MimeType: "application/pdf",
	})
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	if id != "F900" {
		t.Fatalf("expected uploaded file id F900, got %q", id)
	}
}
