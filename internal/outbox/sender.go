package outbox

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wadesk/internal/adapter"
	"github.com/matheus3301/wadesk/internal/bus"
	"github.com/matheus3301/wadesk/internal/store"
)

// HandleResolver yields the live network handle for a session, if any.
// Implemented by the session manager.
type HandleResolver interface {
	LiveHandle(sessionID string) (adapter.Handle, bool)
}

// Sender drains the outbox, delivering queued messages through each
// session's live handle. Entries for sessions without a live handle
// stay queued until the session reconnects.
type Sender struct {
	db       *store.DB
	resolver HandleResolver
	bus      *bus.Bus
	logger   *zap.Logger

	poll        time.Duration
	maxAttempts int
	backoff     time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, resolver HandleResolver, b *bus.Bus, logger *zap.Logger, poll time.Duration, maxAttempts int, backoff time.Duration) *Sender {
	return &Sender{
		db:          db,
		resolver:    resolver,
		bus:         b,
		logger:      logger,
		poll:        poll,
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}
}

// Start begins polling the outbox for queued messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sender loop and waits for it to exit.
func (s *Sender) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox(ctx)
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	now := time.Now().UnixMilli()
	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		// Re-queued entries wait out the backoff before the next attempt.
		if entry.Attempts > 0 && now-entry.UpdatedAt < s.backoff.Milliseconds() {
			continue
		}
		handle, ok := s.resolver.LiveHandle(entry.SessionID)
		if !ok {
			continue
		}
		s.deliver(ctx, handle, entry)
	}
}

func (s *Sender) deliver(ctx context.Context, handle adapter.Handle, entry store.OutboxEntry) {
	if err := s.db.MarkOutboxSending(ctx, entry.ExternalMessageID); err != nil {
		s.logger.Error("failed to mark sending", zap.Error(err), zap.String("message_id", entry.ExternalMessageID))
		return
	}
	attempt := entry.Attempts + 1

	content := adapter.SendContent{Kind: entry.Kind, Text: entry.TextContent}
	err := handle.Send(ctx, entry.ToAddress, content, entry.ExternalMessageID)
	if err != nil {
		s.handleSendError(ctx, entry, attempt, err)
		return
	}

	if err := s.db.MarkOutboxSent(ctx, entry.ExternalMessageID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("message_id", entry.ExternalMessageID))
	}
	if err := s.db.UpdateMessageDeliveryStatus(ctx, entry.SessionID, entry.ExternalMessageID, "sent"); err != nil {
		s.logger.Error("failed to update delivery status", zap.Error(err), zap.String("message_id", entry.ExternalMessageID))
	}

	s.logger.Info("message sent",
		zap.String("session_id", entry.SessionID),
		zap.String("message_id", entry.ExternalMessageID),
		zap.Int("attempt", attempt))
	s.bus.Publish(bus.Event{
		Kind:      bus.KindSendAck,
		SessionID: entry.SessionID,
		Timestamp: time.Now(),
		Payload:   map[string]string{"message_id": entry.ExternalMessageID},
	})
}

func (s *Sender) handleSendError(ctx context.Context, entry store.OutboxEntry, attempt int, err error) {
	var sendErr *adapter.SendError
	retryable := errors.As(err, &sendErr) && sendErr.Retryable

	if retryable && attempt < s.maxAttempts {
		s.logger.Warn("send failed, will retry",
			zap.Error(err),
			zap.String("message_id", entry.ExternalMessageID),
			zap.Int("attempt", attempt))
		if err := s.db.MarkOutboxRetry(ctx, entry.ExternalMessageID, err.Error()); err != nil {
			s.logger.Error("failed to mark retry", zap.Error(err), zap.String("message_id", entry.ExternalMessageID))
		}
		return
	}

	s.logger.Error("send failed permanently",
		zap.Error(err),
		zap.String("session_id", entry.SessionID),
		zap.String("message_id", entry.ExternalMessageID),
		zap.Int("attempt", attempt))
	if err := s.db.MarkOutboxFailed(ctx, entry.ExternalMessageID, err.Error()); err != nil {
		s.logger.Error("failed to mark failed", zap.Error(err), zap.String("message_id", entry.ExternalMessageID))
	}
	if err := s.db.UpdateMessageDeliveryStatus(ctx, entry.SessionID, entry.ExternalMessageID, "failed"); err != nil {
		s.logger.Error("failed to update delivery status", zap.Error(err), zap.String("message_id", entry.ExternalMessageID))
	}
	s.bus.Publish(bus.Event{
		Kind:      bus.KindSendFailed,
		SessionID: entry.SessionID,
		Timestamp: time.Now(),
		Payload:   map[string]string{"message_id": entry.ExternalMessageID, "error": err.Error()},
	})
}
