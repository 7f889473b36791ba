package syncengine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wadesk/internal/adapter"
	"github.com/matheus3301/wadesk/internal/bus"
	"github.com/matheus3301/wadesk/internal/store"
)

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

func testSession(t *testing.T, db *store.DB) *store.Session {
	t.Helper()
	s, err := db.CreateSession(context.Background(), "u1", "work")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestIngestInboundCreatesRows(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := New(db, b, zap.NewNop(), 3, time.Millisecond)
	s := testSession(t, db)

	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	e.IngestInbound(context.Background(), s.ID, &adapter.MessageEvent{
		ExternalChatID:    "c1",
		ExternalMessageID: "m1",
		ChatDisplayName:   "Alice",
		Kind:              store.KindText,
		TextContent:       "hello",
		SentAt:            1000,
	})

	convs, err := db.ListConversations(context.Background(), s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].DisplayName != "Alice" {
		t.Fatalf("conversations = %+v, want one named Alice", convs)
	}

	msgs, _ := db.ListMessages(context.Background(), convs[0].ID, 0, 0, 10)
	if len(msgs) != 1 || msgs[0].TextContent != "hello" {
		t.Fatalf("messages = %+v, want one with body hello", msgs)
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindMessageUpsert || evt.SessionID != s.ID {
			t.Errorf("event = %q/%q, want %q/%q", evt.Kind, evt.SessionID, bus.KindMessageUpsert, s.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.upserted event")
	}
}

func TestIngestInboundRedeliveryIsSilent(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := New(db, b, zap.NewNop(), 3, time.Millisecond)
	s := testSession(t, db)

	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	ev := &adapter.MessageEvent{
		ExternalChatID: "c1", ExternalMessageID: "m1",
		Kind: store.KindText, TextContent: "hello", SentAt: 1000,
	}
	e.IngestInbound(context.Background(), s.ID, ev)
	<-ch

	// Redelivery: no second row, no second bus event, no unread bump.
	e.IngestInbound(context.Background(), s.ID, ev)

	select {
	case evt := <-ch:
		t.Errorf("unexpected event %q on redelivery", evt.Kind)
	case <-time.After(100 * time.Millisecond):
	}

	convs, _ := db.ListConversations(context.Background(), s.ID)
	if convs[0].UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", convs[0].UnreadCount)
	}
	msgs, _ := db.ListMessages(context.Background(), convs[0].ID, 0, 0, 10)
	if len(msgs) != 1 {
		t.Errorf("got %d messages, want 1", len(msgs))
	}
}

func TestRecordOutboundDedupsEcho(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := New(db, b, zap.NewNop(), 3, time.Millisecond)
	s := testSession(t, db)

	msg, err := e.RecordOutbound(context.Background(), s.ID, OutboundParams{
		ExternalMessageID: "LOCAL1",
		ToAddress:         "c1",
		Kind:              store.KindText,
		TextContent:       "outgoing",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !msg.IsFromMe || msg.DeliveryStatus != "sending" {
		t.Errorf("message = %+v, want fromMe sending", msg)
	}

	// The network echo of the same send arrives as an inbound event with
	// the same external id; it must not create a second row.
	e.IngestInbound(context.Background(), s.ID, &adapter.MessageEvent{
		ExternalChatID:    "c1",
		ExternalMessageID: "LOCAL1",
		Kind:              store.KindText,
		TextContent:       "outgoing",
		IsFromMe:          true,
		SentAt:            time.Now().UnixMilli(),
	})

	msgs, _ := db.ListMessages(context.Background(), msg.ConversationID, 0, 0, 10)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (echo dedup)", len(msgs))
	}

	convs, _ := db.ListConversations(context.Background(), s.ID)
	if convs[0].UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 for own send", convs[0].UnreadCount)
	}
}

func TestIngestRetriesThenDrops(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := New(db, b, zap.NewNop(), 2, time.Millisecond)
	s := testSession(t, db)

	// Closing the DB forces every persistence attempt to fail; the engine
	// must give up without panicking or blocking.
	_ = db.Close()

	done := make(chan struct{})
	go func() {
		e.IngestInbound(context.Background(), s.ID, &adapter.MessageEvent{
			ExternalChatID: "c1", ExternalMessageID: "m1",
			Kind: store.KindText, SentAt: 1000,
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ingest did not give up after bounded retries")
	}
}
