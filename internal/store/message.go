package store

import (
	"context"
	"time"

	"github.com/matheus3301/wadesk/internal/apperr"
)

// IngestParams describes one message event to reconcile into the store.
type IngestParams struct {
	SessionID         string
	ExternalChatID    string
	ExternalMessageID string
	ChatDisplayName   string
	ContactNumber     string
	IsGroup           bool
	FromAddress       string
	ToAddress         string
	Kind              string
	TextContent       string
	MediaRef          string
	IsFromMe          bool
	SentAt            int64
	DeliveryStatus    string
}

// IngestMessage reconciles one message event in a single transaction:
// resolve-or-create the conversation, insert the message if its dedup key
// (session_id, external_message_id) is unseen, and on a fresh insert bump
// the conversation's last_message_at and unread_count. Redelivered events
// return the already-stored row with inserted=false and touch nothing,
// so the first-recorded sent_at always wins.
func (db *DB) IngestMessage(ctx context.Context, p IngestParams) (*Message, bool, error) {
	now := time.Now().UnixMilli()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, apperr.Internal("begin ingest tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	// First-writer-wins conversation resolution: a unique conflict means
	// someone already created it, so update display fields and proceed.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (session_id, external_chat_id, display_name, contact_number, is_group, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, external_chat_id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE conversations.display_name END,
			contact_number = CASE WHEN excluded.contact_number != '' THEN excluded.contact_number ELSE conversations.contact_number END,
			updated_at = excluded.updated_at`,
		p.SessionID, p.ExternalChatID, p.ChatDisplayName, p.ContactNumber, p.IsGroup, now, now); err != nil {
		return nil, false, apperr.Internal("upsert conversation", err)
	}

	var convID int64
	if err := tx.GetContext(ctx, &convID, `
		SELECT id FROM conversations WHERE session_id = ? AND external_chat_id = ?`,
		p.SessionID, p.ExternalChatID); err != nil {
		return nil, false, apperr.Internal("resolve conversation", err)
	}

	deliveryStatus := p.DeliveryStatus
	if deliveryStatus == "" {
		deliveryStatus = "received"
	}

	// ingest_seq is assigned inside the transaction; ingestion for one
	// session is single-threaded, so MAX+1 cannot race for a conversation.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, session_id, external_message_id, from_address, to_address,
			kind, text_content, media_ref, is_from_me, sent_at, ingest_seq, delivery_status, created_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			COALESCE((SELECT MAX(ingest_seq) FROM messages WHERE conversation_id = ?), 0) + 1, ?, ?
		WHERE 1
		ON CONFLICT(session_id, external_message_id) DO NOTHING`,
		convID, p.SessionID, p.ExternalMessageID, p.FromAddress, p.ToAddress,
		p.Kind, p.TextContent, p.MediaRef, p.IsFromMe, p.SentAt,
		convID, deliveryStatus, now)
	if err != nil {
		return nil, false, apperr.Internal("insert message", err)
	}

	inserted, _ := res.RowsAffected()
	if inserted > 0 {
		unreadDelta := 0
		if !p.IsFromMe {
			unreadDelta = 1
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE conversations SET
				last_message_at = MAX(last_message_at, ?),
				unread_count = unread_count + ?,
				updated_at = ?
			WHERE id = ?`,
			p.SentAt, unreadDelta, now, convID); err != nil {
			return nil, false, apperr.Internal("update conversation counters", err)
		}
	}

	var m Message
	if err := tx.GetContext(ctx, &m, `
		SELECT * FROM messages WHERE session_id = ? AND external_message_id = ?`,
		p.SessionID, p.ExternalMessageID); err != nil {
		return nil, false, apperr.Internal("fetch ingested message", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, apperr.Internal("commit ingest tx", err)
	}
	return &m, inserted > 0, nil
}

// ListMessages returns a conversation page ordered by (sent_at, ingest_seq)
// ascending using keyset pagination. The cursor is the (sentAt, ingestSeq)
// of the last message of the previous page; zero values start from the top.
func (db *DB) ListMessages(ctx context.Context, conversationID int64, afterSentAt, afterSeq int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var msgs []Message
	err := db.SelectContext(ctx, &msgs, `
		SELECT * FROM messages
		WHERE conversation_id = ?
		  AND (sent_at > ? OR (sent_at = ? AND ingest_seq > ?))
		ORDER BY sent_at ASC, ingest_seq ASC
		LIMIT ?`,
		conversationID, afterSentAt, afterSentAt, afterSeq, limit)
	if err != nil {
		return nil, apperr.Internal("list messages", err)
	}
	return msgs, nil
}

// GetMessageByExternalID returns a message by its dedup key.
func (db *DB) GetMessageByExternalID(ctx context.Context, sessionID, externalMessageID string) (*Message, error) {
	var m Message
	err := db.GetContext(ctx, &m, `
		SELECT * FROM messages WHERE session_id = ? AND external_message_id = ?`,
		sessionID, externalMessageID)
	if err != nil {
		return nil, apperr.Internal("get message", err)
	}
	return &m, nil
}

// UpdateMessageDeliveryStatus records delivery progress of a local send.
func (db *DB) UpdateMessageDeliveryStatus(ctx context.Context, sessionID, externalMessageID, status string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE messages SET delivery_status = ?
		WHERE session_id = ? AND external_message_id = ?`,
		status, sessionID, externalMessageID)
	if err != nil {
		return apperr.Internal("update delivery status", err)
	}
	return nil
}

// MessageCount returns the total number of stored messages for a session.
func (db *DB) MessageCount(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID)
	return count, err
}
