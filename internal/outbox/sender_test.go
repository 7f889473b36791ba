package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wadesk/internal/adapter"
	"github.com/matheus3301/wadesk/internal/bus"
	"github.com/matheus3301/wadesk/internal/store"
)

type stubHandle struct {
	mu    sync.Mutex
	sent  []string
	errs  []error // consumed per Send call, nil past the end
	calls int
}

func (h *stubHandle) Events() <-chan adapter.Event { return nil }
func (h *stubHandle) Close()                       {}

func (h *stubHandle) Send(_ context.Context, _ string, _ adapter.SendContent, externalMessageID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var err error
	if h.calls < len(h.errs) {
		err = h.errs[h.calls]
	}
	h.calls++
	if err == nil {
		h.sent = append(h.sent, externalMessageID)
	}
	return err
}

func (h *stubHandle) sentIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.sent...)
}

type stubResolver struct {
	mu      sync.Mutex
	handles map[string]adapter.Handle
}

func (r *stubResolver) LiveHandle(sessionID string) (adapter.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[sessionID]
	return h, ok
}

func (r *stubResolver) set(sessionID string, h adapter.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handles == nil {
		r.handles = map[string]adapter.Handle{}
	}
	r.handles[sessionID] = h
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// queueMessage seeds both the message row and its outbox entry, the way
// the manager records an accepted send.
func queueMessage(t *testing.T, db *store.DB, sessionID, msgID, to, text string) {
	t.Helper()
	ctx := context.Background()
	_, _, err := db.IngestMessage(ctx, store.IngestParams{
		SessionID:         sessionID,
		ExternalChatID:    to,
		ExternalMessageID: msgID,
		FromAddress:       "me",
		ToAddress:         to,
		Kind:              store.KindText,
		TextContent:       text,
		IsFromMe:          true,
		SentAt:            time.Now().UnixMilli(),
		DeliveryStatus:    "sending",
	})
	if err != nil {
		t.Fatal(err)
	}
	err = db.QueueOutbox(ctx, &store.OutboxEntry{
		SessionID:         sessionID,
		ExternalMessageID: msgID,
		ToAddress:         to,
		Kind:              store.KindText,
		TextContent:       text,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func outboxStatus(t *testing.T, db *store.DB, msgID string) string {
	t.Helper()
	e, err := db.GetOutboxEntry(context.Background(), msgID)
	if err != nil {
		t.Fatal(err)
	}
	return e.Status
}

func deliveryStatus(t *testing.T, db *store.DB, sessionID, msgID string) string {
	t.Helper()
	m, err := db.GetMessageByExternalID(context.Background(), sessionID, msgID)
	if err != nil {
		t.Fatal(err)
	}
	return m.DeliveryStatus
}

func newSession(t *testing.T, db *store.DB) *store.Session {
	t.Helper()
	s, err := db.CreateSession(context.Background(), "u1", "work")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSendSuccess(t *testing.T) {
	db := testDB(t)
	s := newSession(t, db)
	handle := &stubHandle{}
	resolver := &stubResolver{}
	resolver.set(s.ID, handle)
	b := bus.New()
	ackCh, unsub := b.Subscribe(bus.KindSendAck, 16)
	defer unsub()

	queueMessage(t, db, s.ID, "MSG1", "+15550002@s.whatsapp.net", "hello")

	sender := NewSender(db, resolver, b, zap.NewNop(), 10*time.Millisecond, 3, 10*time.Millisecond)
	sender.Start(context.Background())
	defer sender.Stop()

	eventually(t, "send", func() bool { return len(handle.sentIDs()) == 1 })
	eventually(t, "sent status", func() bool { return outboxStatus(t, db, "MSG1") == "sent" })
	if got := deliveryStatus(t, db, s.ID, "MSG1"); got != "sent" {
		t.Errorf("delivery status = %q, want sent", got)
	}

	select {
	case evt := <-ackCh:
		if evt.SessionID != s.ID {
			t.Errorf("ack session = %q, want %q", evt.SessionID, s.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("no send_ack event")
	}
}

func TestRetryableErrorRequeuesThenSends(t *testing.T) {
	db := testDB(t)
	s := newSession(t, db)
	handle := &stubHandle{errs: []error{
		&adapter.SendError{Retryable: true, Err: errors.New("not connected")},
	}}
	resolver := &stubResolver{}
	resolver.set(s.ID, handle)

	queueMessage(t, db, s.ID, "MSG1", "+15550002@s.whatsapp.net", "hello")

	sender := NewSender(db, resolver, bus.New(), zap.NewNop(), 10*time.Millisecond, 3, 10*time.Millisecond)
	sender.Start(context.Background())
	defer sender.Stop()

	eventually(t, "retry then send", func() bool { return outboxStatus(t, db, "MSG1") == "sent" })

	e, _ := db.GetOutboxEntry(context.Background(), "MSG1")
	if e.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", e.Attempts)
	}
}

func TestRetriesExhaustedMarksFailed(t *testing.T) {
	db := testDB(t)
	s := newSession(t, db)
	retryable := &adapter.SendError{Retryable: true, Err: errors.New("timed out")}
	handle := &stubHandle{errs: []error{retryable, retryable, retryable}}
	resolver := &stubResolver{}
	resolver.set(s.ID, handle)
	b := bus.New()
	failCh, unsub := b.Subscribe(bus.KindSendFailed, 16)
	defer unsub()

	queueMessage(t, db, s.ID, "MSG1", "+15550002@s.whatsapp.net", "hello")

	sender := NewSender(db, resolver, b, zap.NewNop(), 10*time.Millisecond, 3, 10*time.Millisecond)
	sender.Start(context.Background())
	defer sender.Stop()

	eventually(t, "failed status", func() bool { return outboxStatus(t, db, "MSG1") == "failed" })

	e, _ := db.GetOutboxEntry(context.Background(), "MSG1")
	if e.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", e.Attempts)
	}
	if got := deliveryStatus(t, db, s.ID, "MSG1"); got != "failed" {
		t.Errorf("delivery status = %q, want failed", got)
	}
	select {
	case <-failCh:
	case <-time.After(time.Second):
		t.Fatal("no send_failed event")
	}
}

func TestFatalErrorFailsImmediately(t *testing.T) {
	db := testDB(t)
	s := newSession(t, db)
	handle := &stubHandle{errs: []error{
		&adapter.SendError{Retryable: false, Err: errors.New("unsupported kind")},
	}}
	resolver := &stubResolver{}
	resolver.set(s.ID, handle)

	queueMessage(t, db, s.ID, "MSG1", "+15550002@s.whatsapp.net", "hello")

	sender := NewSender(db, resolver, bus.New(), zap.NewNop(), 10*time.Millisecond, 5, 10*time.Millisecond)
	sender.Start(context.Background())
	defer sender.Stop()

	eventually(t, "failed status", func() bool { return outboxStatus(t, db, "MSG1") == "failed" })

	e, _ := db.GetOutboxEntry(context.Background(), "MSG1")
	if e.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on fatal error)", e.Attempts)
	}
}

func TestNoLiveHandleLeavesQueued(t *testing.T) {
	db := testDB(t)
	s := newSession(t, db)
	resolver := &stubResolver{} // no handle registered

	queueMessage(t, db, s.ID, "MSG1", "+15550002@s.whatsapp.net", "hello")

	sender := NewSender(db, resolver, bus.New(), zap.NewNop(), 10*time.Millisecond, 3, 10*time.Millisecond)
	sender.Start(context.Background())

	time.Sleep(60 * time.Millisecond)
	sender.Stop()

	if got := outboxStatus(t, db, "MSG1"); got != "queued" {
		t.Errorf("status = %q, want queued while session is offline", got)
	}
	e, _ := db.GetOutboxEntry(context.Background(), "MSG1")
	if e.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", e.Attempts)
	}

	// Once the session comes online the entry drains.
	handle := &stubHandle{}
	resolver.set(s.ID, handle)
	sender2 := NewSender(db, resolver, bus.New(), zap.NewNop(), 10*time.Millisecond, 3, 10*time.Millisecond)
	sender2.Start(context.Background())
	defer sender2.Stop()

	eventually(t, "drain after reconnect", func() bool { return outboxStatus(t, db, "MSG1") == "sent" })
}

func TestEntriesDrainOldestFirst(t *testing.T) {
	db := testDB(t)
	s := newSession(t, db)
	handle := &stubHandle{}
	resolver := &stubResolver{}
	resolver.set(s.ID, handle)

	queueMessage(t, db, s.ID, "MSG1", "+15550002@s.whatsapp.net", "first")
	queueMessage(t, db, s.ID, "MSG2", "+15550002@s.whatsapp.net", "second")

	sender := NewSender(db, resolver, bus.New(), zap.NewNop(), 10*time.Millisecond, 3, 10*time.Millisecond)
	sender.Start(context.Background())
	defer sender.Stop()

	eventually(t, "both sent", func() bool { return len(handle.sentIDs()) == 2 })
	ids := handle.sentIDs()
	if ids[0] != "MSG1" || ids[1] != "MSG2" {
		t.Errorf("send order = %v, want [MSG1 MSG2]", ids)
	}
}
