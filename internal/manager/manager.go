// Package manager owns the lifecycle of live sessions: one worker per
// active session drives the connection adapter through the
// connect/QR/ready state machine and is the sole writer of that session's
// status transitions.
package manager

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wadesk/internal/adapter"
	"github.com/matheus3301/wadesk/internal/apperr"
	"github.com/matheus3301/wadesk/internal/bus"
	"github.com/matheus3301/wadesk/internal/store"
	"github.com/matheus3301/wadesk/internal/syncengine"
)

// Manager serializes lifecycle commands per session and tracks live
// workers. Live state is looked up by session id, never stored in shared
// globals.
type Manager struct {
	db        *store.DB
	adapter   adapter.Adapter
	engine    *syncengine.Engine
	bus       *bus.Bus
	logger    *zap.Logger
	qrTimeout time.Duration
	stopGrace time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

// slot holds per-session live state. busy marks an in-flight lifecycle
// command; a second command on the same session is rejected, never
// interleaved.
type slot struct {
	busy bool
	w    *worker
}

// New creates a session manager.
func New(db *store.DB, a adapter.Adapter, engine *syncengine.Engine, b *bus.Bus, logger *zap.Logger, qrTimeout, stopGrace time.Duration) *Manager {
	return &Manager{
		db:        db,
		adapter:   a,
		engine:    engine,
		bus:       b,
		logger:    logger,
		qrTimeout: qrTimeout,
		stopGrace: stopGrace,
		slots:     make(map[string]*slot),
	}
}

// Start begins connecting a session. A session that is already
// connecting/connected is a no-op returning its current state rather than
// opening a second adapter handle.
func (m *Manager) Start(ctx context.Context, ownerID, sessionID string) (*store.Session, error) {
	sess, err := m.db.GetSession(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}

	sl, err := m.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer m.release(sessionID)

	if sl.w != nil {
		return m.db.GetSession(ctx, sessionID, ownerID)
	}

	// A live-looking status with no worker behind it is stale (previous
	// process); fall back to disconnected before starting over.
	if sess.Status == store.StatusConnecting || sess.Status == store.StatusConnected {
		if err := m.persistStatus(ctx, sessionID, sess.Status, store.StatusDisconnected); err != nil {
			return nil, err
		}
		sess.Status = store.StatusDisconnected
	}

	if err := m.persistStatus(ctx, sessionID, sess.Status, store.StatusConnecting); err != nil {
		return nil, err
	}

	w := newWorker(m, sessionID)
	sl.w = w
	go w.run()

	return m.db.GetSession(ctx, sessionID, ownerID)
}

// Stop tears down a session's live connection and marks it disconnected.
// Cancellation of an in-flight open is cooperative; after the grace period
// the session is marked disconnected regardless.
func (m *Manager) Stop(ctx context.Context, ownerID, sessionID string) (*store.Session, error) {
	sess, err := m.db.GetSession(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}

	sl, err := m.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer m.release(sessionID)

	if sl.w != nil {
		w := sl.w
		w.stop()
		select {
		case <-w.done:
		case <-time.After(m.stopGrace):
			m.logger.Warn("worker did not stop within grace period",
				zap.String("session_id", sessionID))
		}
		sl.w = nil
	}

	if sess.Status != store.StatusDisconnected {
		if err := m.persistStatus(ctx, sessionID, sess.Status, store.StatusDisconnected); err != nil {
			return nil, err
		}
	}
	return m.db.GetSession(ctx, sessionID, ownerID)
}

// Send records and queues an outbound message for a connected session.
func (m *Manager) Send(ctx context.Context, ownerID, sessionID, toAddress, kind, content string) (*store.Message, error) {
	sess, err := m.db.GetSession(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}
	if sess.Status != store.StatusConnected {
		return nil, apperr.SessionNotConnected(sessionID)
	}
	if _, ok := m.LiveHandle(sessionID); !ok {
		return nil, apperr.SessionNotConnected(sessionID)
	}

	addr := adapter.NormalizeAddress(toAddress)
	msgID := m.adapter.NewMessageID()

	msg, err := m.engine.RecordOutbound(ctx, sessionID, syncengine.OutboundParams{
		ExternalMessageID: msgID,
		ToAddress:         addr,
		Kind:              kind,
		TextContent:       content,
	})
	if err != nil {
		return nil, err
	}

	if err := m.db.QueueOutbox(ctx, &store.OutboxEntry{
		SessionID:         sessionID,
		ExternalMessageID: msgID,
		ToAddress:         addr,
		Kind:              kind,
		TextContent:       content,
	}); err != nil {
		return nil, err
	}
	return msg, nil
}

// Delete tears down any live connection, then removes the session and its
// cascaded conversation history.
func (m *Manager) Delete(ctx context.Context, ownerID, sessionID string) error {
	if _, err := m.Stop(ctx, ownerID, sessionID); err != nil {
		return err
	}
	return m.db.DeleteSession(ctx, sessionID, ownerID)
}

// LiveHandle returns the adapter handle of a session's live worker.
func (m *Manager) LiveHandle(sessionID string) (adapter.Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl := m.slots[sessionID]
	if sl == nil || sl.w == nil {
		return nil, false
	}
	h := sl.w.liveHandle()
	if h == nil {
		return nil, false
	}
	return h, true
}

// StopAll tears down every live worker. Used at daemon shutdown; statuses
// are left as-is and reset on next boot.
func (m *Manager) StopAll() {
	m.mu.Lock()
	var workers []*worker
	for _, sl := range m.slots {
		if sl.w != nil {
			workers = append(workers, sl.w)
		}
	}
	m.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}
	deadline := time.After(m.stopGrace)
	for _, w := range workers {
		select {
		case <-w.done:
		case <-deadline:
			return
		}
	}
}

func (m *Manager) acquire(sessionID string) (*slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl := m.slots[sessionID]
	if sl == nil {
		sl = &slot{}
		m.slots[sessionID] = sl
	}
	if sl.busy {
		return nil, apperr.SessionBusy(sessionID)
	}
	sl.busy = true
	return sl, nil
}

func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl := m.slots[sessionID]
	if sl == nil {
		return
	}
	sl.busy = false
	if sl.w == nil {
		delete(m.slots, sessionID)
	}
}

// clearWorker detaches a finished worker from its slot.
func (m *Manager) clearWorker(w *worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl := m.slots[w.sessionID]
	if sl == nil || sl.w != w {
		return
	}
	sl.w = nil
	if !sl.busy {
		delete(m.slots, w.sessionID)
	}
}

// persistStatus validates, persists and publishes one status transition.
func (m *Manager) persistStatus(ctx context.Context, sessionID string, from, to store.Status) error {
	if err := CheckTransition(from, to); err != nil {
		return apperr.Internal("status transition", err)
	}
	if err := m.db.UpdateSessionStatus(ctx, sessionID, to); err != nil {
		return err
	}
	m.publishStatus(sessionID, from, to)
	return nil
}

func (m *Manager) publishStatus(sessionID string, from, to store.Status) {
	m.bus.Publish(bus.Event{
		Kind:      bus.KindStatusChanged,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Payload:   StatusChange{From: from, To: to},
	})
}
