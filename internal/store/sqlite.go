package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"chathub/internal/domain"
)

// SQLiteStore implements ConversationStore and MessageStore on a single
// SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id                  TEXT PRIMARY KEY,
		tenant_id           TEXT NOT NULL,
		channel_id          TEXT NOT NULL,
		agent_id            TEXT,
		external_channel_id TEXT NOT NULL,
		type                TEXT NOT NULL,
		status              TEXT NOT NULL,
		participants        TEXT,
		context             TEXT,
		message_count       INTEGER DEFAULT 0,
		last_activity_at    DATETIME,
		created_at          DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_external
		ON conversations(channel_id, external_channel_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_tenant ON conversations(tenant_id);

	CREATE TABLE IF NOT EXISTS messages (
		id                  TEXT PRIMARY KEY,
		conversation_id     TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		tenant_id           TEXT NOT NULL,
		role                TEXT NOT NULL,
		content_type        TEXT NOT NULL,
		content             TEXT,
		attachments         TEXT,
		external_message_id TEXT,
		author_id           TEXT,
		author_name         TEXT,
		metadata            TEXT,
		status              TEXT,
		created_at          DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.LastActivityAt.IsZero() {
		conv.LastActivityAt = now
	}

	participants, err := json.Marshal(conv.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	contextJSON, err := json.Marshal(conv.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations
		 (id, tenant_id, channel_id, agent_id, external_channel_id, type, status, participants, context, message_count, last_activity_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.TenantID, conv.ChannelID, conv.AgentID, conv.ExternalChannelID,
		conv.Type, conv.Status, string(participants), string(contextJSON),
		conv.MessageCount, conv.LastActivityAt, conv.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: conversation for (%s, %s) exists", ErrConflict, conv.ChannelID, conv.ExternalChannelID)
		}
		return err
	}
	return nil
}

const conversationColumns = `id, tenant_id, channel_id, agent_id, external_channel_id, type, status, participants, context, message_count, last_activity_at, created_at`

func (s *SQLiteStore) FindConversationByExternalID(ctx context.Context, tenantID, channelID, externalChannelID string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE tenant_id = ? AND channel_id = ? AND external_channel_id = ?`,
		tenantID, channelID, externalChannelID,
	)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var conv domain.Conversation
	var agentID sql.NullString
	var participants, contextJSON sql.NullString
	err := row.Scan(&conv.ID, &conv.TenantID, &conv.ChannelID, &agentID,
		&conv.ExternalChannelID, &conv.Type, &conv.Status,
		&participants, &contextJSON, &conv.MessageCount,
		&conv.LastActivityAt, &conv.CreatedAt)
	if err != nil {
		return nil, err
	}
	conv.AgentID = agentID.String
	if participants.Valid && participants.String != "" {
		if err := json.Unmarshal([]byte(participants.String), &conv.Participants); err != nil {
			return nil, fmt.Errorf("unmarshal participants: %w", err)
		}
	}
	if contextJSON.Valid && contextJSON.String != "" && contextJSON.String != "null" {
		if err := json.Unmarshal([]byte(contextJSON.String), &conv.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	return &conv, nil
}

func (s *SQLiteStore) UpdateConversation(ctx context.Context, conv *domain.Conversation) error {
	participants, err := json.Marshal(conv.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	contextJSON, err := json.Marshal(conv.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET agent_id=?, type=?, status=?, participants=?, context=?, message_count=?, last_activity_at=?
		 WHERE id=? AND tenant_id=?`,
		conv.AgentID, conv.Type, conv.Status, string(participants), string(contextJSON),
		conv.MessageCount, conv.LastActivityAt, conv.ID, conv.TenantID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("conversation %s not found for tenant %s", conv.ID, conv.TenantID)
	}
	return nil
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, tenantID string, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages
		 (id, conversation_id, tenant_id, role, content_type, content, attachments, external_message_id, author_id, author_name, metadata, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, tenantID, msg.Role, msg.ContentType, msg.Content,
		string(attachments), msg.ExternalMessageID, msg.AuthorID, msg.AuthorName,
		string(metadata), msg.Status, msg.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) FindMessagesByConversation(ctx context.Context, tenantID, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content_type, content, attachments, external_message_id, author_id, author_name, metadata, status, created_at
		 FROM messages WHERE tenant_id = ? AND conversation_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		tenantID, conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var attachments, metadata, extID, authorID, authorName, status sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.ContentType, &m.Content,
			&attachments, &extID, &authorID, &authorName, &metadata, &status, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ExternalMessageID = extID.String
		m.AuthorID = authorID.String
		m.AuthorName = authorName.String
		m.Status = domain.MessageStatus(status.String)
		if attachments.Valid && attachments.String != "" && attachments.String != "null" {
			if err := json.Unmarshal([]byte(attachments.String), &m.Attachments); err != nil {
				return nil, fmt.Errorf("unmarshal attachments: %w", err)
			}
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) UpdateMessage(ctx context.Context, tenantID string, msg *domain.Message) error {
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET external_message_id=?, metadata=?, status=? WHERE id=? AND tenant_id=?`,
		msg.ExternalMessageID, string(metadata), msg.Status, msg.ID, tenantID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("message %s not found for tenant %s", msg.ID, tenantID)
	}
	return nil
}
