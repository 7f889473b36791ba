package manager

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wadesk/internal/adapter"
	"github.com/matheus3301/wadesk/internal/bus"
	"github.com/matheus3301/wadesk/internal/store"
)

// worker is the sole owner of one session's adapter handle and the sole
// consumer of its ordered event stream, so no two transitions for the same
// session ever execute concurrently.
type worker struct {
	sessionID string
	mgr       *Manager
	logger    *zap.Logger

	openCtx    context.Context
	cancelOpen context.CancelFunc
	stopOnce   sync.Once
	stopCh     chan struct{}
	done       chan struct{}

	hmu    sync.Mutex
	handle adapter.Handle

	status store.Status // current status; only the worker mutates it
}

func newWorker(m *Manager, sessionID string) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &worker{
		sessionID:  sessionID,
		mgr:        m,
		logger:     m.logger.With(zap.String("session_id", sessionID)),
		openCtx:    ctx,
		cancelOpen: cancel,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		status:     store.StatusConnecting,
	}
}

// stop requests cooperative teardown: cancels an in-flight open and wakes
// the event loop. Safe to call more than once.
func (w *worker) stop() {
	w.stopOnce.Do(func() {
		w.cancelOpen()
		close(w.stopCh)
	})
}

func (w *worker) liveHandle() adapter.Handle {
	w.hmu.Lock()
	defer w.hmu.Unlock()
	return w.handle
}

func (w *worker) setHandle(h adapter.Handle) {
	w.hmu.Lock()
	w.handle = h
	w.hmu.Unlock()
}

func (w *worker) run() {
	defer close(w.done)
	defer w.mgr.clearWorker(w)

	ctx := context.Background()

	handle, err := w.mgr.adapter.Open(w.openCtx, w.sessionID)
	if err != nil {
		select {
		case <-w.stopCh:
			// Cancelled by a stop command; the command persists the
			// disconnected status.
		default:
			w.logger.Error("adapter open failed", zap.Error(err))
			w.fail(ctx, err.Error())
		}
		return
	}
	w.setHandle(handle)

	select {
	case <-w.stopCh:
		handle.Close()
		return
	default:
	}

	qrTimer := time.NewTimer(w.mgr.qrTimeout)
	defer qrTimer.Stop()

	for {
		select {
		case evt, ok := <-handle.Events():
			if !ok {
				w.transition(ctx, store.StatusDisconnected)
				return
			}
			if done := w.handleEvent(ctx, handle, evt, qrTimer); done {
				return
			}
		case <-qrTimer.C:
			if w.status == store.StatusConnecting {
				w.logger.Warn("qr window expired before ready")
				handle.Close()
				w.fail(ctx, "qr_expired")
				return
			}
		case <-w.stopCh:
			handle.Close()
			return
		}
	}
}

// handleEvent applies one adapter event. Returns true when the worker is
// finished.
func (w *worker) handleEvent(ctx context.Context, handle adapter.Handle, evt adapter.Event, qrTimer *time.Timer) bool {
	switch evt.Type {
	case adapter.EventQR:
		if err := w.mgr.db.SetSessionQR(ctx, w.sessionID, evt.QRPayload); err != nil {
			w.logger.Error("persist qr payload", zap.Error(err))
		}
		w.publish(bus.KindQR, evt.QRPayload)

	case adapter.EventReady:
		qrTimer.Stop()
		from := w.status
		if err := w.mgr.db.SetSessionConnected(ctx, w.sessionID, evt.PhoneNumber); err != nil {
			w.logger.Error("persist connected status", zap.Error(err))
		}
		w.status = store.StatusConnected
		w.mgr.publishStatus(w.sessionID, from, store.StatusConnected)
		w.publish(bus.KindReady, evt.PhoneNumber)
		w.logger.Info("session ready", zap.String("phone_number", evt.PhoneNumber))

	case adapter.EventMessage:
		if evt.Message != nil {
			w.mgr.engine.IngestInbound(ctx, w.sessionID, evt.Message)
		}

	case adapter.EventDisconnected:
		w.logger.Warn("session disconnected", zap.String("reason", evt.Reason))
		handle.Close()
		// No automatic reconnect; an explicit start command is required.
		w.transition(ctx, store.StatusDisconnected)
		return true

	case adapter.EventAuthFailure:
		w.logger.Warn("session auth failure", zap.String("reason", evt.Reason))
		handle.Close()
		w.fail(ctx, evt.Reason)
		w.publish(bus.KindAuthFailed, evt.Reason)
		return true
	}
	return false
}

func (w *worker) transition(ctx context.Context, to store.Status) {
	from := w.status
	if err := w.mgr.persistStatus(ctx, w.sessionID, from, to); err != nil {
		w.logger.Error("persist status transition", zap.Error(err),
			zap.String("from", string(from)), zap.String("to", string(to)))
		return
	}
	w.status = to
}

func (w *worker) fail(ctx context.Context, reason string) {
	from := w.status
	if err := w.mgr.db.SetSessionError(ctx, w.sessionID, reason); err != nil {
		w.logger.Error("persist error status", zap.Error(err))
	}
	w.status = store.StatusError
	w.mgr.publishStatus(w.sessionID, from, store.StatusError)
}

func (w *worker) publish(kind string, payload any) {
	w.mgr.bus.Publish(bus.Event{
		Kind:      kind,
		SessionID: w.sessionID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
