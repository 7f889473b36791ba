package bus

import "time"

// Event kinds published by the engine. Subscribers filter by namespace
// prefix, e.g. "session." catches every session lifecycle event.
const (
	KindStatusChanged = "session.status_changed"
	KindQR            = "session.qr"
	KindReady         = "session.ready"
	KindAuthFailed    = "session.auth_failed"
	KindMessageUpsert = "message.upserted"
	KindSendAck       = "message.send_ack"
	KindSendFailed    = "message.send_failed"
)

// Event represents a domain event published on the bus. SessionID scopes
// the event to the tenant session it originated from.
type Event struct {
	Kind      string
	SessionID string
	Timestamp time.Time
	Payload   any
}
