package store

import (
	"context"
	"time"

	"github.com/matheus3301/wadesk/internal/apperr"
)

// QueueOutbox adds an outgoing message to the send outbox.
func (db *DB) QueueOutbox(ctx context.Context, e *OutboxEntry) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO outbox (session_id, external_message_id, to_address, kind, text_content, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'queued', ?, ?)`,
		e.SessionID, e.ExternalMessageID, e.ToAddress, e.Kind, e.TextContent, now, now)
	if err != nil {
		return apperr.Internal("queue outbox", err)
	}
	return nil
}

// MarkOutboxSending moves an entry to 'sending' and counts the attempt.
func (db *DB) MarkOutboxSending(ctx context.Context, externalMessageID string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE outbox SET status = 'sending', attempts = attempts + 1, updated_at = ?
		WHERE external_message_id = ?`, now, externalMessageID)
	if err != nil {
		return apperr.Internal("mark outbox sending", err)
	}
	return nil
}

// MarkOutboxSent finalizes an entry as delivered to the network.
func (db *DB) MarkOutboxSent(ctx context.Context, externalMessageID string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE outbox SET status = 'sent', error_message = '', updated_at = ?
		WHERE external_message_id = ?`, now, externalMessageID)
	if err != nil {
		return apperr.Internal("mark outbox sent", err)
	}
	return nil
}

// MarkOutboxRetry returns an entry to 'queued' after a retryable failure.
func (db *DB) MarkOutboxRetry(ctx context.Context, externalMessageID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE outbox SET status = 'queued', error_message = ?, updated_at = ?
		WHERE external_message_id = ?`, errMsg, now, externalMessageID)
	if err != nil {
		return apperr.Internal("mark outbox retry", err)
	}
	return nil
}

// MarkOutboxFailed finalizes an entry as undeliverable.
func (db *DB) MarkOutboxFailed(ctx context.Context, externalMessageID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ?
		WHERE external_message_id = ?`, errMsg, now, externalMessageID)
	if err != nil {
		return apperr.Internal("mark outbox failed", err)
	}
	return nil
}

// PendingOutbox returns queued entries oldest-first. Entries a crash
// left in 'sending' are not re-driven: the attempt may have reached the
// network, and a replay would duplicate the message on the wire.
func (db *DB) PendingOutbox(ctx context.Context) ([]OutboxEntry, error) {
	var entries []OutboxEntry
	err := db.SelectContext(ctx, &entries, `
		SELECT * FROM outbox WHERE status = 'queued' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, apperr.Internal("pending outbox", err)
	}
	return entries, nil
}

// GetOutboxEntry returns a single outbox entry by its message id.
func (db *DB) GetOutboxEntry(ctx context.Context, externalMessageID string) (*OutboxEntry, error) {
	var e OutboxEntry
	err := db.GetContext(ctx, &e, `
		SELECT * FROM outbox WHERE external_message_id = ?`, externalMessageID)
	if err != nil {
		return nil, apperr.Internal("get outbox entry", err)
	}
	return &e, nil
}
