package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chathub/internal/domain"
)

const telegramMaxMsgLen = 4000

// Telegram implements Adapter for the Telegram Bot API.
type Telegram struct{}

func NewTelegram() *Telegram { return &Telegram{} }

func (t *Telegram) Type() domain.ChannelType { return domain.ChannelTelegram }

func (t *Telegram) bot(cfg Config) (*tgbotapi.BotAPI, error) {
	settings := cfg.Telegram
	if settings == nil {
		return nil, fmt.Errorf("%w: telegram settings missing", domain.ErrUnsupportedChannel)
	}
	return tgbotapi.NewBotAPIWithAPIEndpoint(settings.Token, settings.Endpoint())
}

// Endpoint returns the Bot API endpoint format string, defaulting to
// the public Bot API.
func (s *TelegramSettings) Endpoint() string {
	if s.APIEndpoint != "" {
		return s.APIEndpoint
	}
	return tgbotapi.APIEndpoint
}

// FileEndpoint derives the file-download endpoint format from Endpoint,
// so a test override of the API endpoint carries over.
func (s *TelegramSettings) FileEndpoint() string {
	return strings.Replace(s.Endpoint(), "/bot%s/%s", "/file/bot%s/%s", 1)
}

func (t *Telegram) SendMessage(ctx context.Context, cfg Config, recipientID string, payload domain.OutboundPayload) (string, error) {
	if err := validatePayload(payload); err != nil {
		return "", err
	}
	chatID, err := strconv.ParseInt(recipientID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: invalid telegram chat id %q", domain.ErrChannelDelivery, recipientID)
	}

	bot, err := t.bot(cfg)
	if err != nil {
		return "", fmt.Errorf("%w: telegram connect: %v", domain.ErrChannelDelivery, err)
	}

	// Attachments present: the first attachment's mime class selects the
	// delivery method, remaining text rides along as the caption.
	if len(payload.Attachments) > 0 {
		att := payload.Attachments[0]
		var msg tgbotapi.Chattable
		switch classifyMime(att.MimeType) {
		case classImage:
			photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(att.URL))
			photo.Caption = payload.Text
			msg = photo
		case classVideo:
			video := tgbotapi.NewVideo(chatID, tgbotapi.FileURL(att.URL))
			video.Caption = payload.Text
			msg = video
		default:
			doc := tgbotapi.NewDocument(chatID, tgbotapi.FileURL(att.URL))
			doc.Caption = payload.Text
			msg = doc
		}
		sent, err := bot.Send(msg)
		if err != nil {
			return "", fmt.Errorf("%w: telegram send: %v", domain.ErrChannelDelivery, err)
		}
		return strconv.Itoa(sent.MessageID), nil
	}

	return t.sendText(bot, cfg, chatID, payload.Text)
}

// sendText splits long text on the Bot API's message size limit and
// returns the id of the first chunk, which is the reference other
// messages reply to.
func (t *Telegram) sendText(bot *tgbotapi.BotAPI, cfg Config, chatID int64, text string) (string, error) {
	firstID := ""
	for len(text) > 0 {
		chunk := text
		if len(chunk) > telegramMaxMsgLen {
			chunk = text[:telegramMaxMsgLen]
		}
		text = text[len(chunk):]

		msg := tgbotapi.NewMessage(chatID, chunk)
		if cfg.Telegram.ParseMode != "" {
			msg.ParseMode = cfg.Telegram.ParseMode
		}
		sent, err := bot.Send(msg)
		if err != nil {
			return "", fmt.Errorf("%w: telegram send: %v", domain.ErrChannelDelivery, err)
		}
		if firstID == "" {
			firstID = strconv.Itoa(sent.MessageID)
		}
	}
	return firstID, nil
}

func (t *Telegram) ReceiveMessage(ctx context.Context, cfg Config, rawEvent []byte) (*domain.NormalizedMessage, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(rawEvent, &update); err != nil {
		return nil, fmt.Errorf("%w: not a telegram update: %v", domain.ErrUnsupportedPayload, err)
	}
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return nil, fmt.Errorf("%w: telegram update carries no message", domain.ErrUnsupportedPayload)
	}

	out := &domain.NormalizedMessage{
		ExternalChannelID: strconv.FormatInt(msg.Chat.ID, 10),
		ExternalMessageID: strconv.Itoa(msg.MessageID),
		ChatType:          telegramChatType(msg.Chat.Type),
		Timestamp:         time.Unix(int64(msg.Date), 0),
		Metadata:          map[string]string{"chat_type": msg.Chat.Type},
	}
	if msg.From != nil {
		out.AuthorID = strconv.FormatInt(msg.From.ID, 10)
		out.AuthorName = telegramDisplayName(msg.From)
	}

	switch {
	case msg.Text != "":
		out.ContentType = domain.ContentText
		out.Content = msg.Text

	case len(msg.Photo) > 0:
		out.ContentType = domain.ContentImage
		out.Content = msg.Caption
		best := bestPhoto(msg.Photo)
		out.Attachments = []domain.Attachment{{
			URL:      best.FileID,
			MimeType: "image/jpeg",
			Width:    best.Width,
			Height:   best.Height,
			Size:     int64(best.FileSize),
		}}

	case msg.Document != nil:
		out.ContentType = domain.ContentDocument
		out.Content = msg.Caption
		out.Attachments = []domain.Attachment{{
			URL:      msg.Document.FileID,
			MimeType: msg.Document.MimeType,
			FileName: msg.Document.FileName,
			Size:     int64(msg.Document.FileSize),
		}}

	case msg.Voice != nil:
		out.ContentType = domain.ContentVoice
		out.Attachments = []domain.Attachment{{
			URL:      msg.Voice.FileID,
			MimeType: msg.Voice.MimeType,
			Duration: msg.Voice.Duration,
		}}

	case msg.Audio != nil:
		out.ContentType = domain.ContentAudio
		out.Content = msg.Caption
		out.Attachments = []domain.Attachment{{
			URL:      msg.Audio.FileID,
			MimeType: msg.Audio.MimeType,
			FileName: msg.Audio.FileName,
			Duration: msg.Audio.Duration,
		}}

	case msg.Video != nil:
		out.ContentType = domain.ContentVideo
		out.Content = msg.Caption
		out.Attachments = []domain.Attachment{{
			URL:      msg.Video.FileID,
			MimeType: msg.Video.MimeType,
			FileName: msg.Video.FileName,
			Width:    msg.Video.Width,
			Height:   msg.Video.Height,
			Duration: msg.Video.Duration,
		}}

	case msg.Sticker != nil:
		out.ContentType = domain.ContentSticker
		out.Attachments = []domain.Attachment{{
			URL:      msg.Sticker.FileID,
			MimeType: "image/webp",
			Width:    msg.Sticker.Width,
			Height:   msg.Sticker.Height,
		}}

	case msg.Location != nil:
		out.ContentType = domain.ContentLocation
		out.Content = fmt.Sprintf("%f,%f", msg.Location.Latitude, msg.Location.Longitude)

	default:
		return nil, fmt.Errorf("%w: telegram message %d has no recognized content", domain.ErrUnsupportedPayload, msg.MessageID)
	}

	return out, nil
}

// bestPhoto picks the highest-resolution variant Telegram offered.
func bestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Width*s.Height > best.Width*best.Height {
			best = s
		}
	}
	return best
}

func telegramChatType(t string) domain.ChatType {
	switch t {
	case "group", "supergroup":
		return domain.ChatGroup
	case "channel":
		return domain.ChatChannel
	default:
		return domain.ChatPrivate
	}
}

func telegramDisplayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	return name
}

func (t *Telegram) UploadDocument(ctx context.Context, cfg Config, recipientID string, doc domain.DocumentUpload) (string, error) {
	chatID, err := strconv.ParseInt(recipientID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: invalid telegram chat id %q", domain.ErrChannelDelivery, recipientID)
	}
	bot, err := t.bot(cfg)
	if err != nil {
		return "", fmt.Errorf("%w: telegram connect: %v", domain.ErrChannelDelivery, err)
	}
	upload := tgbotapi.NewDocument(chatID, tgbotapi.FileURL(doc.URL))
	sent, err := bot.Send(upload)
	if err != nil {
		return "", fmt.Errorf("%w: telegram upload: %v", domain.ErrChannelDelivery, err)
	}
	if sent.Document != nil {
		return sent.Document.FileID, nil
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (t *Telegram) GetMetadata(ctx context.Context, cfg Config) (*domain.ChannelHealth, error) {
	health := &domain.ChannelHealth{CheckedAt: time.Now().UTC()}
	bot, err := t.bot(cfg)
	if err != nil {
		health.LastError = err.Error()
		return health, nil
	}
	health.Healthy = true
	health.Metadata = map[string]string{
		"username": bot.Self.UserName,
		"bot_id":   strconv.FormatInt(bot.Self.ID, 10),
	}
	return health, nil
}
