// Package attach renders message attachments into completion content
// blocks.
package attach

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"chathub/internal/channel"
	"chathub/internal/domain"
)

// maxInlineImageBytes caps how much image data gets inlined into a
// completion request.
const maxInlineImageBytes = 8 << 20

// Processor turns one attachment into a content block. The channel
// config carries the decrypted credentials platform-hosted attachments
// need for retrieval; it lives only for the call. Failures are the
// caller's to skip: a broken attachment never aborts context
// construction.
type Processor interface {
	Process(ctx context.Context, att domain.Attachment, cfg channel.Config) (domain.ContentBlock, error)
}

// HTTPProcessor fetches image attachments and inlines them as data
// URLs, resolving platform-native references (Telegram file ids,
// WhatsApp media ids, Slack private URLs) through the channel's
// credentials. Audio, voice, and document attachments are rendered as
// marker text blocks; transcription and extraction backends slot in
// behind the same interface.
type HTTPProcessor struct {
	client *http.Client
}

func NewHTTPProcessor() *HTTPProcessor {
	return &HTTPProcessor{client: &http.Client{Timeout: 30 * time.Second}}
}

func (p *HTTPProcessor) Process(ctx context.Context, att domain.Attachment, cfg channel.Config) (domain.ContentBlock, error) {
	switch {
	case strings.HasPrefix(att.MimeType, "image/"):
		return p.inlineImage(ctx, att, cfg)
	case strings.HasPrefix(att.MimeType, "audio/"):
		return domain.ContentBlock{
			Type: domain.BlockText,
			Text: fmt.Sprintf("[audio message, %ds, transcription unavailable]", att.Duration),
		}, nil
	default:
		name := att.FileName
		if name == "" {
			name = att.URL
		}
		return domain.ContentBlock{
			Type: domain.BlockText,
			Text: fmt.Sprintf("[document %q, text extraction unavailable]", name),
		}, nil
	}
}

func (p *HTTPProcessor) inlineImage(ctx context.Context, att domain.Attachment, cfg channel.Config) (domain.ContentBlock, error) {
	// Already an inline reference the provider accepts.
	if strings.HasPrefix(att.URL, "data:") {
		return domain.ContentBlock{Type: domain.BlockImage, ImageURL: att.URL}, nil
	}

	fetchURL, auth, err := p.resolveImage(ctx, att.URL, cfg)
	if err != nil {
		return domain.ContentBlock{}, err
	}

	data, err := p.fetch(ctx, fetchURL, auth)
	if err != nil {
		return domain.ContentBlock{}, fmt.Errorf("fetch image: %w", err)
	}

	mime := att.MimeType
	if mime == "" {
		mime = "image/jpeg"
	}
	url := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
	return domain.ContentBlock{Type: domain.BlockImage, ImageURL: url}, nil
}

// resolveImage turns an attachment reference into a fetchable URL plus
// the Authorization header the fetch needs, if any. Direct URLs pass
// through (Slack private URLs get the bot token); bare platform file
// ids are resolved through the platform's media API.
func (p *HTTPProcessor) resolveImage(ctx context.Context, ref string, cfg channel.Config) (fetchURL, auth string, err error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		if cfg.Slack != nil {
			return ref, "Bearer " + cfg.Slack.BotToken, nil
		}
		return ref, "", nil
	}

	switch {
	case cfg.Telegram != nil:
		fetchURL, err = p.telegramFileURL(ctx, ref, cfg.Telegram)
		return fetchURL, "", err
	case cfg.WhatsApp != nil:
		return p.whatsappMediaURL(ctx, ref, cfg.WhatsApp)
	default:
		return "", "", fmt.Errorf("attachment reference %q is not fetchable", ref)
	}
}

// telegramFileURL resolves a Bot API file id via getFile. The download
// URL embeds the bot token; it is fetched immediately and never stored.
func (p *HTTPProcessor) telegramFileURL(ctx context.Context, fileID string, s *channel.TelegramSettings) (string, error) {
	getFileURL := fmt.Sprintf(s.Endpoint(), s.Token, "getFile") + "?file_id=" + neturl.QueryEscape(fileID)
	body, err := p.fetch(ctx, getFileURL, "")
	if err != nil {
		return "", fmt.Errorf("telegram getFile: %w", err)
	}

	var resp struct {
		OK     bool `json:"ok"`
		Result struct {
			FilePath string `json:"file_path"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("telegram getFile: %w", err)
	}
	if !resp.OK || resp.Result.FilePath == "" {
		return "", fmt.Errorf("telegram getFile: no file path for %q", fileID)
	}
	return fmt.Sprintf(s.FileEndpoint(), s.Token, resp.Result.FilePath), nil
}

// whatsappMediaURL resolves a Cloud API media id to its short-lived
// download URL; the download itself needs the same bearer token.
func (p *HTTPProcessor) whatsappMediaURL(ctx context.Context, mediaID string, s *channel.WhatsAppSettings) (fetchURL, auth string, err error) {
	auth = "Bearer " + s.AccessToken
	body, err := p.fetch(ctx, s.BaseURL()+"/"+mediaID, auth)
	if err != nil {
		return "", "", fmt.Errorf("whatsapp media lookup: %w", err)
	}

	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", fmt.Errorf("whatsapp media lookup: %w", err)
	}
	if resp.URL == "" {
		return "", "", fmt.Errorf("whatsapp media %q has no download url", mediaID)
	}
	return resp.URL, auth, nil
}

func (p *HTTPProcessor) fetch(ctx context.Context, url, auth string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxInlineImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxInlineImageBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", maxInlineImageBytes)
	}
	return data, nil
}
