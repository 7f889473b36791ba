package adapter

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/matheus3301/wadesk/internal/config"

	_ "github.com/mattn/go-sqlite3"
)

// Whatsmeow is the live Adapter backed by the whatsmeow WhatsApp client.
// Each session gets its own credential container on disk, so restoring a
// previously authenticated session needs no QR handshake.
type Whatsmeow struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewWhatsmeow creates the live WhatsApp adapter.
func NewWhatsmeow(cfg *config.Config, logger *zap.Logger) *Whatsmeow {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("Wadesk", [3]uint32{0, 1, 0})
	return &Whatsmeow{cfg: cfg, logger: logger}
}

// Open connects one session to WhatsApp and starts its event stream.
func (a *Whatsmeow) Open(ctx context.Context, sessionID string) (Handle, error) {
	if err := os.MkdirAll(a.cfg.SessionDir(sessionID), 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", a.cfg.SessionCredPath(sessionID)),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create credential store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)

	h := &wmHandle{
		client:    client,
		sessionID: sessionID,
		logger:    a.logger.With(zap.String("session_id", sessionID)),
		events:    make(chan Event, 256),
		done:      make(chan struct{}),
	}
	handlerID := client.AddEventHandler(h.handleEvent)

	if client.Store.ID == nil {
		// No stored credentials: QR pairing. The channel must be obtained
		// before Connect.
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			client.RemoveEventHandler(handlerID)
			return nil, fmt.Errorf("get QR channel: %w", err)
		}
		go h.pumpQR(qrChan)
	}

	if err := client.Connect(); err != nil {
		// Closing the handle stops the QR pump before the handle escapes.
		client.RemoveEventHandler(handlerID)
		h.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}

	return h, nil
}

// NewMessageID mints an uppercase hex message id in the shape WhatsApp
// expects, so the network echo of a local send carries the same id.
func (a *Whatsmeow) NewMessageID() string {
	return "3EB0" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:20]
}

type wmHandle struct {
	client    *whatsmeow.Client
	sessionID string
	logger    *zap.Logger

	seq    atomic.Uint64
	events chan Event

	closeOnce sync.Once
	done      chan struct{}
}

func (h *wmHandle) Events() <-chan Event {
	return h.events
}

func (h *wmHandle) Send(ctx context.Context, toAddress string, content SendContent, externalMessageID string) error {
	to, err := types.ParseJID(toAddress)
	if err != nil {
		return &SendError{Retryable: false, Err: fmt.Errorf("parse address: %w", err)}
	}
	if content.Kind != "text" {
		return &SendError{Retryable: false, Err: fmt.Errorf("kind %q not supported by this transport", content.Kind)}
	}

	_, err = h.client.SendMessage(ctx, to,
		&waE2E.Message{Conversation: proto.String(content.Text)},
		whatsmeow.SendRequestExtra{ID: types.MessageID(externalMessageID)},
	)
	if err != nil {
		return &SendError{Retryable: retryableSendErr(err), Err: err}
	}
	return nil
}

func (h *wmHandle) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.client.Disconnect()
	})
}

// emit appends to the ordered stream; a closed handle discards the event.
func (h *wmHandle) emit(evt Event) {
	evt.Seq = h.seq.Add(1)
	select {
	case <-h.done:
	case h.events <- evt:
	}
}

func (h *wmHandle) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		var phone string
		if h.client.Store.ID != nil {
			phone = "+" + h.client.Store.ID.User
		}
		h.emit(Event{Type: EventReady, PhoneNumber: phone})
	case *events.Message:
		h.emit(Event{Type: EventMessage, Message: parseMessage(evt)})
	case *events.HistorySync:
		h.emitHistory(evt)
	case *events.Disconnected:
		h.emit(Event{Type: EventDisconnected, Reason: "connection closed"})
	case *events.StreamReplaced:
		h.emit(Event{Type: EventDisconnected, Reason: "stream replaced by another client"})
	case *events.LoggedOut:
		h.emit(Event{Type: EventAuthFailure, Reason: evt.Reason.String()})
	}
}

// emitHistory replays the post-pairing conversation backlog through the
// message stream. History rows take the same ingestion path as live
// messages, so a replay after re-pairing dedups against stored rows.
func (h *wmHandle) emitHistory(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}
	replayed := 0
	for _, conv := range data.GetConversations() {
		chat, err := types.ParseJID(conv.GetID())
		if err != nil {
			h.logger.Warn("skipping history conversation with bad chat id",
				zap.String("chat_id", conv.GetID()))
			continue
		}
		// History chat ids may carry a device suffix the live stream
		// never uses; strip it so both feed the same conversation.
		chat = chat.ToNonAD()
		for _, hm := range conv.GetMessages() {
			msg := parseHistoryMessage(chat, conv.GetName(), hm.GetMessage())
			if msg == nil {
				continue
			}
			h.emit(Event{Type: EventMessage, Message: msg})
			replayed++
		}
	}
	if replayed > 0 {
		h.logger.Info("history backlog replayed", zap.Int("messages", replayed))
	}
}

func (h *wmHandle) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for {
		var item whatsmeow.QRChannelItem
		select {
		case <-h.done:
			return
		case evt, ok := <-qrChan:
			if !ok {
				return
			}
			item = evt
		}
		switch item.Event {
		case "code":
			h.emit(Event{Type: EventQR, QRPayload: item.Code})
		case "success":
			// Connected event carries the ready transition.
			return
		case "timeout":
			h.emit(Event{Type: EventDisconnected, Reason: "pairing timed out"})
			return
		default:
			if item.Error != nil {
				h.emit(Event{Type: EventAuthFailure, Reason: item.Error.Error()})
				return
			}
		}
	}
}

func retryableSendErr(err error) bool {
	switch {
	case err == whatsmeow.ErrNotConnected:
		return true
	case strings.Contains(err.Error(), "timed out"):
		return true
	default:
		return false
	}
}
