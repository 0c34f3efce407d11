package telegram

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"recipe-assistant/internal/conversation"
)

const sessionTimeLayout = time.RFC3339

// SessionRepository keeps the running conversation of each chat.
// A session expires ttl after its last update.
type SessionRepository struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSessionRepository creates a new SessionRepository instance
func NewSessionRepository(db *sql.DB, ttl time.Duration) *SessionRepository {
	return &SessionRepository{db: db, ttl: ttl, now: time.Now}
}

// Load returns the active conversation of chatID, or nil when there is none.
func (sr *SessionRepository) Load(ctx context.Context, chatID int64) (*conversation.Conversation, error) {
	var raw string
	err := sr.db.QueryRowContext(ctx,
		`SELECT conversation FROM telegram_sessions WHERE chat_id = ? AND expires_at > ?`,
		chatID, sr.now().UTC().Format(sessionTimeLayout)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var conv conversation.Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &conv, nil
}

// Save replaces the conversation of chatID and extends its expiry.
func (sr *SessionRepository) Save(ctx context.Context, chatID int64, conv *conversation.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	now := sr.now().UTC()
	_, err = sr.db.ExecContext(ctx, `
		INSERT INTO telegram_sessions (chat_id, conversation, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			conversation = excluded.conversation,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		chatID, string(data), now.Add(sr.ttl).Format(sessionTimeLayout), now.Format(sessionTimeLayout))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete removes a session
func (sr *SessionRepository) Delete(ctx context.Context, chatID int64) error {
	if _, err := sr.db.ExecContext(ctx, `DELETE FROM telegram_sessions WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// CleanupExpired removes all expired sessions and returns how many were deleted.
func (sr *SessionRepository) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := sr.db.ExecContext(ctx, `DELETE FROM telegram_sessions WHERE expires_at <= ?`,
		sr.now().UTC().Format(sessionTimeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up sessions: %w", err)
	}
	return res.RowsAffected()
}
