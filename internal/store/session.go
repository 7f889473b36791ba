package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/matheus3301/wadesk/internal/apperr"
)

// CreateSession inserts a new session in the disconnected state. Returns
// Conflict when the owner already has a session with that name.
func (db *DB) CreateSession(ctx context.Context, ownerID, name string) (*Session, error) {
	now := time.Now().UnixMilli()
	s := &Session{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Status:    StatusDisconnected,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (id, owner_id, name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.OwnerID, s.Name, s.Status, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("session name already in use").WithCause(err)
		}
		return nil, apperr.Internal("create session", err)
	}
	return s, nil
}

// GetSession fetches a session scoped to its owner. A session belonging to
// a different owner yields NotFound, never an existence leak.
func (db *DB) GetSession(ctx context.Context, sessionID, ownerID string) (*Session, error) {
	var s Session
	err := db.GetContext(ctx, &s, `
		SELECT * FROM sessions WHERE id = ? AND owner_id = ?`, sessionID, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("session")
	}
	if err != nil {
		return nil, apperr.Internal("get session", err)
	}
	return &s, nil
}

// ListSessions returns an owner's sessions ordered newest-created-first.
func (db *DB) ListSessions(ctx context.Context, ownerID string) ([]Session, error) {
	var sessions []Session
	err := db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, apperr.Internal("list sessions", err)
	}
	return sessions, nil
}

// UpdateSessionStatus persists a status transition. Called only by the
// session manager. Transient fields follow the status: qr_payload is
// cleared on any transition out of connecting.
func (db *DB) UpdateSessionStatus(ctx context.Context, sessionID string, status Status) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, updated_at = ?,
			qr_payload = CASE WHEN ? = 'connecting' THEN qr_payload ELSE '' END
		WHERE id = ?`,
		status, now, status, sessionID)
	if err != nil {
		return apperr.Internal("update session status", err)
	}
	return nil
}

// SetSessionQR stores the QR payload while the session is connecting.
func (db *DB) SetSessionQR(ctx context.Context, sessionID, qrPayload string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE sessions SET qr_payload = ?, updated_at = ? WHERE id = ?`,
		qrPayload, now, sessionID)
	if err != nil {
		return apperr.Internal("set session qr", err)
	}
	return nil
}

// SetSessionConnected marks a session connected: records the phone number
// and connection time, clears the QR payload and any previous error.
func (db *DB) SetSessionConnected(ctx context.Context, sessionID, phoneNumber string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, phone_number = ?, last_connected_at = ?,
			qr_payload = '', last_error = '', updated_at = ?
		WHERE id = ?`,
		StatusConnected, phoneNumber, now, now, sessionID)
	if err != nil {
		return apperr.Internal("set session connected", err)
	}
	return nil
}

// SetSessionError marks a session failed with a human-readable reason.
func (db *DB) SetSessionError(ctx context.Context, sessionID, reason string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, last_error = ?, qr_payload = '', updated_at = ?
		WHERE id = ?`,
		StatusError, reason, now, sessionID)
	if err != nil {
		return apperr.Internal("set session error", err)
	}
	return nil
}

// ResetStaleStatuses marks every connecting/connected session
// disconnected. Run at daemon startup: a status claiming a live connection
// with no worker behind it is left over from a previous process.
func (db *DB) ResetStaleStatuses(ctx context.Context) (int64, error) {
	now := time.Now().UnixMilli()
	res, err := db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, qr_payload = '', updated_at = ?
		WHERE status IN (?, ?)`,
		StatusDisconnected, now, StatusConnecting, StatusConnected)
	if err != nil {
		return 0, apperr.Internal("reset stale statuses", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteSession removes a session and cascades its conversations and
// messages. The caller must tear down any live connection first.
func (db *DB) DeleteSession(ctx context.Context, sessionID, ownerID string) error {
	res, err := db.ExecContext(ctx, `
		DELETE FROM sessions WHERE id = ? AND owner_id = ?`, sessionID, ownerID)
	if err != nil {
		return apperr.Internal("delete session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("session")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
