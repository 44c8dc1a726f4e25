package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/slack-go/slack"

	"chathub/internal/domain"
)

// Slack implements Adapter for the Slack Web API. Inbound events are
// Events API callback payloads.
type Slack struct {
	httpClient *http.Client
	apiURL     string // override for tests
}

func NewSlack() *Slack {
	return &Slack{httpClient: &http.Client{Timeout: 30 * time.Second}}
}

func (s *Slack) Type() domain.ChannelType { return domain.ChannelSlack }

func (s *Slack) client(cfg Config) (*slack.Client, error) {
	if cfg.Slack == nil {
		return nil, fmt.Errorf("%w: slack settings missing", domain.ErrUnsupportedChannel)
	}
	opts := []slack.Option{}
	if s.apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(s.apiURL))
	}
	return slack.New(cfg.Slack.BotToken, opts...), nil
}

func (s *Slack) SendMessage(ctx context.Context, cfg Config, recipientID string, payload domain.OutboundPayload) (string, error) {
	if err := validatePayload(payload); err != nil {
		return "", err
	}
	client, err := s.client(cfg)
	if err != nil {
		return "", err
	}

	opts := []slack.MsgOption{}
	if payload.Text != "" {
		opts = append(opts, slack.MsgOptionText(payload.Text, false))
	}
	if len(payload.Attachments) > 0 {
		att := payload.Attachments[0]
		slackAtt := slack.Attachment{Title: att.FileName}
		switch classifyMime(att.MimeType) {
		case classImage:
			slackAtt.ImageURL = att.URL
		default:
			slackAtt.Text = att.URL
		}
		opts = append(opts, slack.MsgOptionAttachments(slackAtt))
	}

	_, timestamp, err := client.PostMessageContext(ctx, recipientID, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: slack post: %v", domain.ErrChannelDelivery, err)
	}
	return timestamp, nil
}

// --- Events API payload types ---

type slackCallback struct {
	Type  string `json:"type"`
	Event *struct {
		Type        string      `json:"type"`
		SubType     string      `json:"subtype"`
		Channel     string      `json:"channel"`
		ChannelType string      `json:"channel_type"`
		User        string      `json:"user"`
		Username    string      `json:"username"`
		Text        string      `json:"text"`
		TS          string      `json:"ts"`
		BotID       string      `json:"bot_id"`
		Files       []slackFile `json:"files"`
	} `json:"event"`
}

type slackFile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Mimetype   string `json:"mimetype"`
	URLPrivate string `json:"url_private"`
	Size       int64  `json:"size"`
}

func (s *Slack) ReceiveMessage(ctx context.Context, cfg Config, rawEvent []byte) (*domain.NormalizedMessage, error) {
	var cb slackCallback
	if err := json.Unmarshal(rawEvent, &cb); err != nil {
		return nil, fmt.Errorf("%w: not a slack payload: %v", domain.ErrUnsupportedPayload, err)
	}
	if cb.Type != "event_callback" || cb.Event == nil || cb.Event.Type != "message" {
		return nil, fmt.Errorf("%w: slack payload type %q", domain.ErrUnsupportedPayload, cb.Type)
	}
	ev := cb.Event
	if ev.BotID != "" {
		return nil, fmt.Errorf("%w: slack bot echo", domain.ErrUnsupportedPayload)
	}

	out := &domain.NormalizedMessage{
		ExternalChannelID: ev.Channel,
		ExternalMessageID: ev.TS,
		AuthorID:          ev.User,
		AuthorName:        ev.Username,
		Content:           ev.Text,
		ContentType:       domain.ContentText,
		ChatType:          slackChatType(ev.ChannelType),
		Metadata:          map[string]string{"chat_type": ev.ChannelType},
	}
	if sec, err := strconv.ParseFloat(ev.TS, 64); err == nil {
		out.Timestamp = time.Unix(int64(sec), 0)
	}

	for _, f := range ev.Files {
		out.Attachments = append(out.Attachments, domain.Attachment{
			URL:      f.URLPrivate,
			MimeType: f.Mimetype,
			FileName: f.Name,
			Size:     f.Size,
		})
	}
	if len(ev.Files) > 0 {
		switch classifyMime(ev.Files[0].Mimetype) {
		case classImage:
			out.ContentType = domain.ContentImage
		case classVideo:
			out.ContentType = domain.ContentVideo
		case classAudio:
			out.ContentType = domain.ContentAudio
		default:
			out.ContentType = domain.ContentDocument
		}
	}
	if out.Content == "" && len(out.Attachments) == 0 {
		return nil, fmt.Errorf("%w: slack message carries no content", domain.ErrUnsupportedPayload)
	}

	return out, nil
}

func slackChatType(ct string) domain.ChatType {
	switch ct {
	case "im":
		return domain.ChatPrivate
	case "channel":
		return domain.ChatChannel
	default: // group, mpim
		return domain.ChatGroup
	}
}

func (s *Slack) UploadDocument(ctx context.Context, cfg Config, recipientID string, doc domain.DocumentUpload) (string, error) {
	client, err := s.client(cfg)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", doc.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build fetch request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch document: %v", domain.ErrChannelDelivery, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return "", fmt.Errorf("%w: read document: %v", domain.ErrChannelDelivery, err)
	}

	// UploadFileContext requires a nonzero FileSize up front to reserve
	// the external upload URL.
	summary, err := client.UploadFileContext(ctx, slack.UploadFileParameters{
		Reader:   &buf,
		Filename: doc.FileName,
		FileSize: buf.Len(),
		Channel:  recipientID,
	})
	if err != nil {
		return "", fmt.Errorf("%w: slack upload: %v", domain.ErrChannelDelivery, err)
	}
	return summary.ID, nil
}

func (s *Slack) GetMetadata(ctx context.Context, cfg Config) (*domain.ChannelHealth, error) {
	health := &domain.ChannelHealth{CheckedAt: time.Now().UTC()}
	client, err := s.client(cfg)
	if err != nil {
		health.LastError = err.Error()
		return health, nil
	}
	auth, err := client.AuthTestContext(ctx)
	if err != nil {
		health.LastError = err.Error()
		return health, nil
	}
	health.Healthy = true
	health.Metadata = map[string]string{"user": auth.User, "user_id": auth.UserID, "team": auth.Team}
	return health, nil
}
