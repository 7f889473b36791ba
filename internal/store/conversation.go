package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/matheus3301/wadesk/internal/apperr"
)

// ListConversations returns a session's conversations ordered by last
// message timestamp descending.
func (db *DB) ListConversations(ctx context.Context, sessionID string) ([]Conversation, error) {
	var convs []Conversation
	err := db.SelectContext(ctx, &convs, `
		SELECT * FROM conversations
		WHERE session_id = ?
		ORDER BY last_message_at DESC, id DESC`, sessionID)
	if err != nil {
		return nil, apperr.Internal("list conversations", err)
	}
	return convs, nil
}

// GetConversation returns a single conversation by id.
func (db *DB) GetConversation(ctx context.Context, conversationID int64) (*Conversation, error) {
	var c Conversation
	err := db.GetContext(ctx, &c, `SELECT * FROM conversations WHERE id = ?`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("conversation")
	}
	if err != nil {
		return nil, apperr.Internal("get conversation", err)
	}
	return &c, nil
}

// MarkConversationRead resets a conversation's unread counter.
func (db *DB) MarkConversationRead(ctx context.Context, conversationID int64) error {
	now := time.Now().UnixMilli()
	res, err := db.ExecContext(ctx, `
		UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?`,
		now, conversationID)
	if err != nil {
		return apperr.Internal("mark conversation read", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("conversation")
	}
	return nil
}
