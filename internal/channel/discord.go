package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"chathub/internal/domain"
)

// Discord implements Adapter over the Discord REST API. Sessions are
// created per call and never opened as a gateway connection; inbound
// traffic arrives as MESSAGE_CREATE payloads handed in by the ingress.
type Discord struct {
	httpClient *http.Client
}

func NewDiscord() *Discord {
	return &Discord{httpClient: &http.Client{Timeout: 30 * time.Second}}
}

func (d *Discord) Type() domain.ChannelType { return domain.ChannelDiscord }

func (d *Discord) session(cfg Config) (*discordgo.Session, error) {
	if cfg.Discord == nil {
		return nil, fmt.Errorf("%w: discord settings missing", domain.ErrUnsupportedChannel)
	}
	sess, err := discordgo.New("Bot " + cfg.Discord.BotToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return sess, nil
}

func (d *Discord) SendMessage(ctx context.Context, cfg Config, recipientID string, payload domain.OutboundPayload) (string, error) {
	if err := validatePayload(payload); err != nil {
		return "", err
	}
	sess, err := d.session(cfg)
	if err != nil {
		return "", err
	}

	send := &discordgo.MessageSend{Content: payload.Text}
	if len(payload.Attachments) > 0 {
		att := payload.Attachments[0]
		switch classifyMime(att.MimeType) {
		case classImage:
			send.Embeds = []*discordgo.MessageEmbed{{Image: &discordgo.MessageEmbedImage{URL: att.URL}}}
		default:
			// Non-image attachments go out as a plain link; Discord
			// unfurls what it can.
			if send.Content != "" {
				send.Content += "\n"
			}
			send.Content += att.URL
		}
	}

	msg, err := sess.ChannelMessageSendComplex(recipientID, send, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("%w: discord send: %v", domain.ErrChannelDelivery, err)
	}
	return msg.ID, nil
}

type discordCreate struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Author    *struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Bot      bool   `json:"bot"`
	} `json:"author"`
	Attachments []struct {
		URL         string `json:"url"`
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
		Size        int64  `json:"size"`
		Width       int    `json:"width"`
		Height      int    `json:"height"`
	} `json:"attachments"`
}

func (d *Discord) ReceiveMessage(ctx context.Context, cfg Config, rawEvent []byte) (*domain.NormalizedMessage, error) {
	var ev discordCreate
	if err := json.Unmarshal(rawEvent, &ev); err != nil {
		return nil, fmt.Errorf("%w: not a discord payload: %v", domain.ErrUnsupportedPayload, err)
	}
	if ev.ID == "" || ev.ChannelID == "" || ev.Author == nil {
		return nil, fmt.Errorf("%w: discord payload missing message fields", domain.ErrUnsupportedPayload)
	}
	if ev.Author.Bot {
		return nil, fmt.Errorf("%w: discord bot echo", domain.ErrUnsupportedPayload)
	}

	chatType := domain.ChatPrivate
	if ev.GuildID != "" {
		chatType = domain.ChatGroup
	}

	out := &domain.NormalizedMessage{
		ExternalChannelID: ev.ChannelID,
		ExternalMessageID: ev.ID,
		AuthorID:          ev.Author.ID,
		AuthorName:        ev.Author.Username,
		Content:           ev.Content,
		ContentType:       domain.ContentText,
		ChatType:          chatType,
	}
	if ts, err := time.Parse(time.RFC3339, ev.Timestamp); err == nil {
		out.Timestamp = ts
	}
	if ev.GuildID != "" {
		out.Metadata = map[string]string{"guild_id": ev.GuildID}
	}

	for _, a := range ev.Attachments {
		out.Attachments = append(out.Attachments, domain.Attachment{
			URL:      a.URL,
			MimeType: a.ContentType,
			FileName: a.Filename,
			Size:     a.Size,
			Width:    a.Width,
			Height:   a.Height,
		})
	}
	if len(ev.Attachments) > 0 {
		switch classifyMime(ev.Attachments[0].ContentType) {
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
		return nil, fmt.Errorf("%w: discord message carries no content", domain.ErrUnsupportedPayload)
	}

	return out, nil
}

func (d *Discord) UploadDocument(ctx context.Context, cfg Config, recipientID string, doc domain.DocumentUpload) (string, error) {
	sess, err := d.session(cfg)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", doc.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build fetch request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch document: %v", domain.ErrChannelDelivery, err)
	}
	defer resp.Body.Close()

	msg, err := sess.ChannelFileSend(recipientID, doc.FileName, io.Reader(resp.Body), discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("%w: discord upload: %v", domain.ErrChannelDelivery, err)
	}
	return msg.ID, nil
}

func (d *Discord) GetMetadata(ctx context.Context, cfg Config) (*domain.ChannelHealth, error) {
	health := &domain.ChannelHealth{CheckedAt: time.Now().UTC()}
	sess, err := d.session(cfg)
	if err != nil {
		health.LastError = err.Error()
		return health, nil
	}
	me, err := sess.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		health.LastError = err.Error()
		return health, nil
	}
	health.Healthy = true
	health.Metadata = map[string]string{"id": me.ID, "username": me.Username}
	return health, nil
}
