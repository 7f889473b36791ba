// Package syncengine reconciles message events from active sessions into
// the durable conversation history. Ingestion is idempotent on the
// (sessionID, externalMessageID) dedup key, so adapters may redeliver
// events after reconnects without creating duplicate rows.
package syncengine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wadesk/internal/adapter"
	"github.com/matheus3301/wadesk/internal/bus"
	"github.com/matheus3301/wadesk/internal/store"
)

// Engine translates adapter message events and local sends into store rows.
type Engine struct {
	db       *store.DB
	bus      *bus.Bus
	logger   *zap.Logger
	attempts int
	backoff  time.Duration
}

// New creates a sync engine. attempts bounds persistence retries per event.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger, attempts int, backoff time.Duration) *Engine {
	if attempts <= 0 {
		attempts = 1
	}
	return &Engine{
		db:       db,
		bus:      b,
		logger:   logger,
		attempts: attempts,
		backoff:  backoff,
	}
}

// IngestInbound reconciles one inbound (or echoed) message event. Called by
// the owning session's worker, so events for a session arrive in order.
// Persistence failures are retried with bounded backoff and finally
// dropped: one unstorable event must not wedge the live connection.
func (e *Engine) IngestInbound(ctx context.Context, sessionID string, ev *adapter.MessageEvent) {
	p := store.IngestParams{
		SessionID:         sessionID,
		ExternalChatID:    ev.ExternalChatID,
		ExternalMessageID: ev.ExternalMessageID,
		ChatDisplayName:   ev.ChatDisplayName,
		ContactNumber:     ev.ContactNumber,
		IsGroup:           ev.IsGroup,
		FromAddress:       ev.FromAddress,
		ToAddress:         ev.ToAddress,
		Kind:              ev.Kind,
		TextContent:       ev.TextContent,
		MediaRef:          ev.MediaRef,
		IsFromMe:          ev.IsFromMe,
		SentAt:            ev.SentAt,
		DeliveryStatus:    "received",
	}

	msg, inserted, err := e.ingestWithRetry(ctx, p)
	if err != nil {
		e.logger.Error("dropping message event after retries",
			zap.Error(err),
			zap.String("session_id", sessionID),
			zap.String("external_message_id", ev.ExternalMessageID))
		return
	}
	if inserted {
		e.publishUpsert(sessionID, msg)
	}
}

// OutboundParams describes a locally originated send.
type OutboundParams struct {
	ExternalMessageID string
	ToAddress         string
	Kind              string
	TextContent       string
	MediaRef          string
}

// RecordOutbound writes the message row for a local send through the same
// dedup path as inbound events. The network echo of the send carries the
// same external id and is discarded as a duplicate.
func (e *Engine) RecordOutbound(ctx context.Context, sessionID string, p OutboundParams) (*store.Message, error) {
	msg, inserted, err := e.db.IngestMessage(ctx, store.IngestParams{
		SessionID:         sessionID,
		ExternalChatID:    p.ToAddress,
		ExternalMessageID: p.ExternalMessageID,
		FromAddress:       "me",
		ToAddress:         p.ToAddress,
		Kind:              p.Kind,
		TextContent:       p.TextContent,
		MediaRef:          p.MediaRef,
		IsFromMe:          true,
		SentAt:            time.Now().UnixMilli(),
		DeliveryStatus:    "sending",
	})
	if err != nil {
		return nil, err
	}
	if inserted {
		e.publishUpsert(sessionID, msg)
	}
	return msg, nil
}

func (e *Engine) ingestWithRetry(ctx context.Context, p store.IngestParams) (*store.Message, bool, error) {
	var (
		msg      *store.Message
		inserted bool
		err      error
	)
	for attempt := 1; ; attempt++ {
		msg, inserted, err = e.db.IngestMessage(ctx, p)
		if err == nil || attempt >= e.attempts {
			return msg, inserted, err
		}
		e.logger.Warn("ingest attempt failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.String("external_message_id", p.ExternalMessageID))
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(e.backoff):
		}
	}
}

func (e *Engine) publishUpsert(sessionID string, msg *store.Message) {
	e.bus.Publish(bus.Event{
		Kind:      bus.KindMessageUpsert,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Payload:   msg,
	})
}
