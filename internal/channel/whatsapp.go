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

	"chathub/internal/domain"
)

const whatsappAPIBase = "https://graph.facebook.com/v21.0"

// WhatsApp implements Adapter for the WhatsApp Business Cloud API.
type WhatsApp struct {
	client *http.Client
}

func NewWhatsApp() *WhatsApp {
	return &WhatsApp{client: &http.Client{Timeout: 30 * time.Second}}
}

func (w *WhatsApp) Type() domain.ChannelType { return domain.ChannelWhatsApp }

func (w *WhatsApp) apiBase(cfg Config) string {
	if cfg.WhatsApp == nil {
		return whatsappAPIBase
	}
	return cfg.WhatsApp.BaseURL()
}

// BaseURL returns the Graph API base, defaulting to the public API.
func (s *WhatsAppSettings) BaseURL() string {
	if s.APIBase != "" {
		return s.APIBase
	}
	return whatsappAPIBase
}

func (w *WhatsApp) SendMessage(ctx context.Context, cfg Config, recipientID string, payload domain.OutboundPayload) (string, error) {
	if err := validatePayload(payload); err != nil {
		return "", err
	}

	body := map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipientID,
	}

	if len(payload.Attachments) > 0 {
		att := payload.Attachments[0]
		media := map[string]any{"link": att.URL}
		if payload.Text != "" {
			media["caption"] = payload.Text
		}
		switch classifyMime(att.MimeType) {
		case classImage:
			body["type"] = "image"
			body["image"] = media
		case classVideo:
			body["type"] = "video"
			body["video"] = media
		case classAudio:
			delete(media, "caption") // the audio endpoint rejects captions
			body["type"] = "audio"
			body["audio"] = media
		default:
			if att.FileName != "" {
				media["filename"] = att.FileName
			}
			body["type"] = "document"
			body["document"] = media
		}
	} else {
		body["type"] = "text"
		body["text"] = map[string]string{"body": payload.Text}
	}

	return w.post(ctx, cfg, body)
}

// post sends one Cloud API message call and returns the platform
// message id from the response.
func (w *WhatsApp) post(ctx context.Context, cfg Config, body map[string]any) (string, error) {
	settings := cfg.WhatsApp
	if settings == nil {
		return "", fmt.Errorf("%w: whatsapp settings missing", domain.ErrUnsupportedChannel)
	}
	url := fmt.Sprintf("%s/%s/messages", w.apiBase(cfg), settings.PhoneNumberID)

	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+settings.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: whatsapp send: %v", domain.ErrChannelDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: whatsapp API %d: %s", domain.ErrChannelDelivery, resp.StatusCode, string(respBody))
	}

	var result struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || len(result.Messages) == 0 {
		return "", nil // sent, but the API gave us no id to correlate
	}
	return result.Messages[0].ID, nil
}

// --- Cloud API webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Field string  `json:"field"`
	Value waValue `json:"value"`
}

type waValue struct {
	Contacts []waContact `json:"contacts"`
	Messages []waMessage `json:"messages"`
}

type waContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type waMessage struct {
	ID        string   `json:"id"`
	From      string   `json:"from"`
	Timestamp string   `json:"timestamp"`
	Type      string   `json:"type"`
	Text      *waText  `json:"text,omitempty"`
	Image     *waMedia `json:"image,omitempty"`
	Document  *waMedia `json:"document,omitempty"`
	Audio     *waMedia `json:"audio,omitempty"`
	Video     *waMedia `json:"video,omitempty"`
	Sticker   *waMedia `json:"sticker,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
	Voice    bool   `json:"voice,omitempty"`
}

func (w *WhatsApp) ReceiveMessage(ctx context.Context, cfg Config, rawEvent []byte) (*domain.NormalizedMessage, error) {
	var payload waPayload
	if err := json.Unmarshal(rawEvent, &payload); err != nil {
		return nil, fmt.Errorf("%w: not a whatsapp payload: %v", domain.ErrUnsupportedPayload, err)
	}

	msg, contact, ok := firstMessage(payload)
	if !ok {
		return nil, fmt.Errorf("%w: whatsapp payload carries no message", domain.ErrUnsupportedPayload)
	}

	out := &domain.NormalizedMessage{
		ExternalChannelID: msg.From,
		ExternalMessageID: msg.ID,
		AuthorID:          msg.From,
		ChatType:          domain.ChatPrivate, // Cloud API webhooks are 1:1 chats
		Metadata:          map[string]string{"chat_type": "private"},
	}
	if contact != nil {
		out.AuthorName = contact.Profile.Name
	}
	if ts, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil {
		out.Timestamp = time.Unix(ts, 0)
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return nil, fmt.Errorf("%w: whatsapp text message without body", domain.ErrUnsupportedPayload)
		}
		out.ContentType = domain.ContentText
		out.Content = msg.Text.Body

	case "image":
		if msg.Image == nil {
			return nil, errMissingMedia(msg.Type)
		}
		out.ContentType = domain.ContentImage
		out.Content = msg.Image.Caption
		out.Attachments = []domain.Attachment{{URL: msg.Image.ID, MimeType: msg.Image.MimeType}}

	case "document":
		if msg.Document == nil {
			return nil, errMissingMedia(msg.Type)
		}
		out.ContentType = domain.ContentDocument
		out.Content = msg.Document.Caption
		out.Attachments = []domain.Attachment{{URL: msg.Document.ID, MimeType: msg.Document.MimeType, FileName: msg.Document.Filename}}

	case "audio":
		if msg.Audio == nil {
			return nil, errMissingMedia(msg.Type)
		}
		// The Cloud API flags voice notes on the media object.
		out.ContentType = domain.ContentAudio
		if msg.Audio.Voice {
			out.ContentType = domain.ContentVoice
		}
		out.Attachments = []domain.Attachment{{URL: msg.Audio.ID, MimeType: msg.Audio.MimeType}}

	case "video":
		if msg.Video == nil {
			return nil, errMissingMedia(msg.Type)
		}
		out.ContentType = domain.ContentVideo
		out.Content = msg.Video.Caption
		out.Attachments = []domain.Attachment{{URL: msg.Video.ID, MimeType: msg.Video.MimeType}}

	case "sticker":
		if msg.Sticker == nil {
			return nil, errMissingMedia(msg.Type)
		}
		out.ContentType = domain.ContentSticker
		out.Attachments = []domain.Attachment{{URL: msg.Sticker.ID, MimeType: msg.Sticker.MimeType}}

	default:
		return nil, fmt.Errorf("%w: whatsapp message type %q", domain.ErrUnsupportedPayload, msg.Type)
	}

	return out, nil
}

// errMissingMedia rejects webhooks whose declared type has no matching
// media object. Webhook bodies are external input; they fail, never crash.
func errMissingMedia(typ string) error {
	return fmt.Errorf("%w: whatsapp %s message without %s object", domain.ErrUnsupportedPayload, typ, typ)
}

func firstMessage(payload waPayload) (*waMessage, *waContact, bool) {
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if len(change.Value.Messages) == 0 {
				continue
			}
			msg := &change.Value.Messages[0]
			var contact *waContact
			for i := range change.Value.Contacts {
				if change.Value.Contacts[i].WaID == msg.From {
					contact = &change.Value.Contacts[i]
					break
				}
			}
			return msg, contact, true
		}
	}
	return nil, nil, false
}

func (w *WhatsApp) UploadDocument(ctx context.Context, cfg Config, recipientID string, doc domain.DocumentUpload) (string, error) {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipientID,
		"type":              "document",
		"document": map[string]any{
			"link":     doc.URL,
			"filename": doc.FileName,
		},
	}
	return w.post(ctx, cfg, body)
}

func (w *WhatsApp) GetMetadata(ctx context.Context, cfg Config) (*domain.ChannelHealth, error) {
	health := &domain.ChannelHealth{CheckedAt: time.Now().UTC()}
	settings := cfg.WhatsApp
	if settings == nil {
		health.LastError = "whatsapp settings missing"
		return health, nil
	}

	url := fmt.Sprintf("%s/%s", w.apiBase(cfg), settings.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		health.LastError = err.Error()
		return health, nil
	}
	req.Header.Set("Authorization", "Bearer "+settings.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		health.LastError = err.Error()
		return health, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		health.LastError = fmt.Sprintf("whatsapp API %d", resp.StatusCode)
		return health, nil
	}
	health.Healthy = true
	return health, nil
}
