package store

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chathub/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newConversation(extID string) *domain.Conversation {
	return &domain.Conversation{
		TenantID:          "t1",
		ChannelID:         "c1",
		ExternalChannelID: extID,
		Type:              domain.ConversationPrivate,
		Status:            domain.StatusOpen,
		Participants: []domain.Participant{
			{ExternalID: "u1", DisplayName: "Ada", Role: domain.RoleUser, JoinedAt: time.Now().UTC()},
		},
	}
}

func TestSQLite_ConversationRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conv := newConversation("U1")
	if err := s.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := s.FindConversationByExternalID(ctx, "t1", "c1", "U1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got == nil {
		t.Fatal("expected conversation")
	}
	if got.Status != domain.StatusOpen || got.Type != domain.ConversationPrivate {
		t.Fatalf("bad round trip: %+v", got)
	}
	if len(got.Participants) != 1 || got.Participants[0].DisplayName != "Ada" {
		t.Fatalf("participants lost: %+v", got.Participants)
	}
}

func TestSQLite_FindMissingConversationIsNilNil(t *testing.T) {
	s := testStore(t)
	got, err := s.FindConversationByExternalID(context.Background(), "t1", "c1", "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for missing conversation")
	}
}

func TestSQLite_ExternalIDUniqueness(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateConversation(ctx, newConversation("U1")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := s.CreateConversation(ctx, newConversation("U1"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSQLite_TenantScoping(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conv := newConversation("U1")
	if err := s.CreateConversation(ctx, conv); err != nil {
		t.Fatal(err)
	}

	got, err := s.FindConversationByExternalID(ctx, "other-tenant", "c1", "U1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("conversation leaked across tenants")
	}

	msgs, err := s.FindMessagesByConversation(ctx, "other-tenant", conv.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatal("messages leaked across tenants")
	}
}

func TestSQLite_MessagesNewestFirstWithMetadata(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conv := newConversation("U1")
	if err := s.CreateConversation(ctx, conv); err != nil {
		t.Fatal(err)
	}

	base := time.Now().UTC().Add(-time.Minute)
	for i, content := range []string{"first", "second", "third"} {
		msg := &domain.Message{
			ConversationID: conv.ID,
			Role:           domain.RoleUser,
			ContentType:    domain.ContentText,
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		if err := s.CreateMessage(ctx, "t1", msg); err != nil {
			t.Fatalf("create message %d: %v", i, err)
		}
	}

	reply := &domain.Message{
		ConversationID: conv.ID,
		Role:           domain.RoleAgent,
		ContentType:    domain.ContentText,
		Content:        "reply",
		CreatedAt:      base.Add(10 * time.Second),
		Metadata: domain.MessageMetadata{
			Model:       "gpt-4o-mini",
			TotalTokens: 42,
			ToolCalls:   []domain.ToolCall{{ID: "tc1", Name: "mcp_kb_search", Arguments: map[string]any{"q": "x"}}},
		},
	}
	if err := s.CreateMessage(ctx, "t1", reply); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.FindMessagesByConversation(ctx, "t1", conv.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "reply" || msgs[1].Content != "third" {
		t.Fatalf("expected newest first, got %q then %q", msgs[0].Content, msgs[1].Content)
	}
	if msgs[0].Metadata.Model != "gpt-4o-mini" || len(msgs[0].Metadata.ToolCalls) != 1 {
		t.Fatalf("metadata lost: %+v", msgs[0].Metadata)
	}
}

func TestSQLite_UpdateMessageAttachesExternalID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conv := newConversation("U1")
	if err := s.CreateConversation(ctx, conv); err != nil {
		t.Fatal(err)
	}
	msg := &domain.Message{
		ConversationID: conv.ID,
		Role:           domain.RoleAgent,
		ContentType:    domain.ContentText,
		Content:        "hi",
		Status:         domain.MessagePending,
	}
	if err := s.CreateMessage(ctx, "t1", msg); err != nil {
		t.Fatal(err)
	}

	msg.ExternalMessageID = "ext-99"
	msg.Status = domain.MessageSent
	if err := s.UpdateMessage(ctx, "t1", msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.FindMessagesByConversation(ctx, "t1", conv.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].ExternalMessageID != "ext-99" || msgs[0].Status != domain.MessageSent {
		t.Fatalf("update lost: %+v", msgs[0])
	}
}

func TestSQLite_UpdateConversationStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conv := newConversation("U1")
	if err := s.CreateConversation(ctx, conv); err != nil {
		t.Fatal(err)
	}
	conv.Status = domain.StatusPaused
	conv.MessageCount = 7
	if err := s.UpdateConversation(ctx, conv); err != nil {
		t.Fatal(err)
	}
	got, _ := s.FindConversationByExternalID(ctx, "t1", "c1", "U1")
	if got.Status != domain.StatusPaused || got.MessageCount != 7 {
		t.Fatalf("update lost: %+v", got)
	}
}
