// Package postgres provides a Postgres-backed message store for deployments that
// keep message history beyond the Redis TTL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"courier/internal/domain"
)

// Store implements ports.MessageStore in Postgres.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a message store backed by the given pool.
// It ensures the schema exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	s := &Store{pool: pool, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure message schema: %w", err)
	}
	logger.Info("message store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			message_id  TEXT PRIMARY KEY,
			body        JSONB NOT NULL,
			version     BIGINT NOT NULL,
			total       INT NOT NULL,
			created_at  TIMESTAMPTZ DEFAULT NOW(),
			updated_at  TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS message_references (
			reference     TEXT PRIMARY KEY,
			message_id    TEXT NOT NULL REFERENCES messages(message_id) ON DELETE CASCADE,
			recipient_id  TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS message_responses (
			message_id    TEXT NOT NULL REFERENCES messages(message_id) ON DELETE CASCADE,
			recipient_id  TEXT NOT NULL,
			responded_at  TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (message_id, recipient_id)
		);
		CREATE TABLE IF NOT EXISTS conversations (
			conversation_id  TEXT PRIMARY KEY,
			message_id       TEXT DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_refs_message ON message_references(message_id);
		CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
	`)
	return err
}

// SaveMessage inserts a message as version 1.
func (s *Store) SaveMessage(ctx context.Context, msg *domain.Message) error {
	stored := msg.Clone()
	stored.Version = 1

	body, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (message_id, body, version, total)
		VALUES ($1, $2, 1, $3)
	`, msg.ID, body, msg.AddressedRecipients())
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}

	msg.Version = 1
	return nil
}

// UpdateMessage replaces a message when the stored version matches msg.Version.
func (s *Store) UpdateMessage(ctx context.Context, msg *domain.Message) error {
	next := msg.Clone()
	next.Version++

	body, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET body = $2, version = version + 1, updated_at = NOW()
		WHERE message_id = $1 AND version = $3
	`, msg.ID, body, msg.Version)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}

	if tag.RowsAffected() == 0 {
		exists, err := s.MessageExists(ctx, msg.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrVersionConflict
	}

	msg.Version++
	return nil
}

// GetMessageByID retrieves a message by id.
func (s *Store) GetMessageByID(ctx context.Context, id string) (*domain.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT body FROM messages WHERE message_id = $1`, id)
	return scanMessage(row)
}

// MessageExists reports whether a message id is stored.
func (s *Store) MessageExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE message_id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("message exists: %w", err)
	}
	return exists, nil
}

// DeleteMessage removes a message. References and responses cascade.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE message_id = $1`, id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// SaveMessageReference maps a reference to a message recipient.
func (s *Store) SaveMessageReference(ctx context.Context, messageID, recipientID, ref string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO message_references (reference, message_id, recipient_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (reference) DO UPDATE SET
			message_id   = EXCLUDED.message_id,
			recipient_id = EXCLUDED.recipient_id
	`, ref, messageID, recipientID)
	if err != nil {
		return fmt.Errorf("save reference: %w", err)
	}
	return nil
}

// GetMessageByReference retrieves the message a reference belongs to.
func (s *Store) GetMessageByReference(ctx context.Context, ref string) (*domain.Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT m.body FROM messages m
		JOIN message_references r ON r.message_id = m.message_id
		WHERE r.reference = $1
	`, ref)
	return scanMessage(row)
}

// GetRecipientIDByReference retrieves the recipient id a reference belongs to.
func (s *Store) GetRecipientIDByReference(ctx context.Context, ref string) (string, error) {
	var recipientID string
	err := s.pool.QueryRow(ctx, `SELECT recipient_id FROM message_references WHERE reference = $1`, ref).Scan(&recipientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("get reference: %w", err)
	}
	return recipientID, nil
}

// SaveConversation records a conversation, replacing the last message id.
func (s *Store) SaveConversation(ctx context.Context, conv domain.Conversation) error {
	created := conv.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (conversation_id, message_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id) DO UPDATE SET message_id = EXCLUDED.message_id
	`, conv.ID, conv.MessageID, created)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// GetConversationByID retrieves a conversation by id.
func (s *Store) GetConversationByID(ctx context.Context, id string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := s.pool.QueryRow(ctx, `
		SELECT conversation_id, message_id, created_at FROM conversations WHERE conversation_id = $1
	`, id).Scan(&conv.ID, &conv.MessageID, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

// IsKnownConversation reports whether a conversation id has been recorded.
func (s *Store) IsKnownConversation(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM conversations WHERE conversation_id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("conversation exists: %w", err)
	}
	return exists, nil
}

// RecordResponse marks a recipient as having responded to a message.
func (s *Store) RecordResponse(ctx context.Context, messageID, recipientID string) (domain.ResponseState, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.ResponseState{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var total int
	if err := tx.QueryRow(ctx, `SELECT total FROM messages WHERE message_id = $1 FOR UPDATE`, messageID).Scan(&total); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ResponseState{}, domain.ErrNotFound
		}
		return domain.ResponseState{}, fmt.Errorf("lock message: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO message_responses (message_id, recipient_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, messageID, recipientID); err != nil {
		return domain.ResponseState{}, fmt.Errorf("record response: %w", err)
	}

	var responded int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM message_responses WHERE message_id = $1`, messageID).Scan(&responded); err != nil {
		return domain.ResponseState{}, fmt.Errorf("count responses: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ResponseState{}, fmt.Errorf("commit: %w", err)
	}
	return domain.ResponseState{Total: total, Responded: responded}, nil
}

// ResponseState returns the response counts of a message.
func (s *Store) ResponseState(ctx context.Context, messageID string) (domain.ResponseState, error) {
	var state domain.ResponseState
	err := s.pool.QueryRow(ctx, `
		SELECT m.total, (SELECT COUNT(*) FROM message_responses r WHERE r.message_id = m.message_id)
		FROM messages m WHERE m.message_id = $1
	`, messageID).Scan(&state.Total, &state.Responded)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return state, domain.ErrNotFound
		}
		return state, fmt.Errorf("response state: %w", err)
	}
	return state, nil
}

// PurgeBefore deletes messages created before cutoff along with conversations
// that have not been reused since. It returns the number of messages removed.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge messages: %w", err)
	}

	if _, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE created_at < $1`, cutoff); err != nil {
		return tag.RowsAffected(), fmt.Errorf("purge conversations: %w", err)
	}

	s.logger.Info("purged messages", "cutoff", cutoff, "count", tag.RowsAffected())
	return tag.RowsAffected(), nil
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}

	var msg domain.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return &msg, nil
}
