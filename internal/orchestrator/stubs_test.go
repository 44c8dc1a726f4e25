package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"chathub/internal/channel"
	"chathub/internal/domain"
	"chathub/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryStore is an in-memory ConversationStore + MessageStore with the
// same uniqueness semantics as the SQLite implementation.
type memoryStore struct {
	mu            sync.Mutex
	conversations map[string]*domain.Conversation // tenant/channel/external key
	byID          map[string]*domain.Conversation
	messages      map[string][]domain.Message // conversation id -> chronological
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		conversations: make(map[string]*domain.Conversation),
		byID:          make(map[string]*domain.Conversation),
		messages:      make(map[string][]domain.Message),
	}
}

func convKey(tenantID, channelID, externalChannelID string) string {
	return tenantID + "/" + channelID + "/" + externalChannelID
}

func (m *memoryStore) FindConversationByExternalID(_ context.Context, tenantID, channelID, externalChannelID string) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[convKey(tenantID, channelID, externalChannelID)]
	if !ok {
		return nil, nil
	}
	cp := *conv
	return &cp, nil
}

func (m *memoryStore) CreateConversation(_ context.Context, conv *domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := convKey(conv.TenantID, conv.ChannelID, conv.ExternalChannelID)
	if _, exists := m.conversations[key]; exists {
		return store.ErrConflict
	}
	cp := *conv
	m.conversations[key] = &cp
	m.byID[conv.ID] = &cp
	return nil
}

func (m *memoryStore) UpdateConversation(_ context.Context, conv *domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.byID[conv.ID]
	if !ok {
		return fmt.Errorf("conversation %s not found", conv.ID)
	}
	*existing = *conv
	return nil
}

func (m *memoryStore) CreateMessage(_ context.Context, _ string, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], *msg)
	return nil
}

func (m *memoryStore) FindMessagesByConversation(_ context.Context, _ string, conversationID string, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.messages[conversationID]
	// Newest first, like the SQLite store.
	out := make([]domain.Message, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *memoryStore) UpdateMessage(_ context.Context, _ string, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[msg.ConversationID]
	for i := range msgs {
		if msgs[i].ID == msg.ID {
			msgs[i] = *msg
			return nil
		}
	}
	return fmt.Errorf("message %s not found", msg.ID)
}

func (m *memoryStore) conversationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conversations)
}

func (m *memoryStore) messagesFor(conversationID string) []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Message(nil), m.messages[conversationID]...)
}

func (m *memoryStore) anyConversation() *domain.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byID {
		cp := *c
		return &cp
	}
	return nil
}

// stubDirectory serves fixed channels and agents.
type stubDirectory struct {
	channels map[string]*domain.Channel
	agents   map[string]*domain.Agent
	first    *domain.Agent
}

func (d *stubDirectory) GetChannel(_ context.Context, tenantID, channelID string) (*domain.Channel, error) {
	ch, ok := d.channels[tenantID+"/"+channelID]
	if !ok {
		return nil, fmt.Errorf("channel %s not found", channelID)
	}
	return ch, nil
}

func (d *stubDirectory) GetAgent(_ context.Context, tenantID, agentID string) (*domain.Agent, error) {
	a, ok := d.agents[tenantID+"/"+agentID]
	if !ok {
		return nil, fmt.Errorf("agent %s not found", agentID)
	}
	return a, nil
}

func (d *stubDirectory) FirstActiveAgent(context.Context, string) (*domain.Agent, error) {
	return d.first, nil
}

// plainDecryptor passes ciphertext through unchanged so fixtures can
// store plaintext bundles.
type plainDecryptor struct{}

func (plainDecryptor) Decrypt(ciphertext string) (string, error) { return ciphertext, nil }

// scriptedAdapter is a telegram-typed adapter whose raw events are
// pre-normalized JSON and whose sends are recorded.
type scriptedAdapter struct {
	mu      sync.Mutex
	sends   []domain.OutboundPayload
	sendErr error
}

func (a *scriptedAdapter) Type() domain.ChannelType { return domain.ChannelTelegram }

func (a *scriptedAdapter) SendMessage(_ context.Context, _ channel.Config, _ string, payload domain.OutboundPayload) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return "", a.sendErr
	}
	a.sends = append(a.sends, payload)
	return fmt.Sprintf("ext-%d", len(a.sends)), nil
}

func (a *scriptedAdapter) ReceiveMessage(_ context.Context, _ channel.Config, rawEvent []byte) (*domain.NormalizedMessage, error) {
	var msg domain.NormalizedMessage
	if err := json.Unmarshal(rawEvent, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnsupportedPayload, err)
	}
	if msg.ContentType == "" {
		msg.ContentType = domain.ContentText
	}
	if msg.ChatType == "" {
		msg.ChatType = domain.ChatPrivate
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return &msg, nil
}

func (a *scriptedAdapter) UploadDocument(context.Context, channel.Config, string, domain.DocumentUpload) (string, error) {
	return "file-1", nil
}

func (a *scriptedAdapter) GetMetadata(context.Context, channel.Config) (*domain.ChannelHealth, error) {
	return &domain.ChannelHealth{Healthy: true, CheckedAt: time.Now().UTC()}, nil
}

func (a *scriptedAdapter) sendCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sends)
}

// scriptedProvider returns queued results and counts calls.
type scriptedProvider struct {
	mu      sync.Mutex
	calls   int
	results []*domain.CompletionResult
	err     error
}

func (p *scriptedProvider) Name() string { return "openai" }

func (p *scriptedProvider) Complete(_ context.Context, _ domain.CompletionRequest) (*domain.CompletionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if len(p.results) == 0 {
		return &domain.CompletionResult{Content: "ok", FinishReason: "stop"}, nil
	}
	result := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	return result, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// stubAttachments renders text markers and can fail per mime type.
type stubAttachments struct {
	failMime string
}

func (s *stubAttachments) Process(_ context.Context, att domain.Attachment, _ channel.Config) (domain.ContentBlock, error) {
	if s.failMime != "" && att.MimeType == s.failMime {
		return domain.ContentBlock{}, fmt.Errorf("cannot process %s", att.MimeType)
	}
	if att.MimeType == "image/png" || att.MimeType == "image/jpeg" {
		return domain.ContentBlock{Type: domain.BlockImage, ImageURL: att.URL}, nil
	}
	return domain.ContentBlock{Type: domain.BlockText, Text: "[attachment " + att.URL + "]"}, nil
}
