package store

// Status is a session's persisted connection status.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Message kinds accepted by the engine.
const (
	KindText     = "text"
	KindImage    = "image"
	KindAudio    = "audio"
	KindVideo    = "video"
	KindDocument = "document"
)

// ValidKind reports whether kind is one of the supported message kinds.
func ValidKind(kind string) bool {
	switch kind {
	case KindText, KindImage, KindAudio, KindVideo, KindDocument:
		return true
	}
	return false
}

// Session identifies one tenant's connection to the messaging network.
type Session struct {
	ID              string `db:"id" json:"id"`
	OwnerID         string `db:"owner_id" json:"ownerId"`
	Name            string `db:"name" json:"name"`
	Status          Status `db:"status" json:"status"`
	PhoneNumber     string `db:"phone_number" json:"phoneNumber,omitempty"`
	QRPayload       string `db:"qr_payload" json:"qrPayload,omitempty"`
	LastConnectedAt *int64 `db:"last_connected_at" json:"lastConnectedAt,omitempty"`
	LastError       string `db:"last_error" json:"lastError,omitempty"`
	CreatedAt       int64  `db:"created_at" json:"createdAt"`
	UpdatedAt       int64  `db:"updated_at" json:"updatedAt"`
}

// Conversation is a thread with one contact or group, scoped to a session.
type Conversation struct {
	ID             int64  `db:"id" json:"id"`
	SessionID      string `db:"session_id" json:"sessionId"`
	ExternalChatID string `db:"external_chat_id" json:"externalChatId"`
	DisplayName    string `db:"display_name" json:"displayName"`
	ContactNumber  string `db:"contact_number" json:"contactNumber"`
	IsGroup        bool   `db:"is_group" json:"isGroup"`
	LastMessageAt  int64  `db:"last_message_at" json:"lastMessageAt"`
	UnreadCount    int    `db:"unread_count" json:"unreadCount"`
	CreatedAt      int64  `db:"created_at" json:"createdAt"`
	UpdatedAt      int64  `db:"updated_at" json:"updatedAt"`
}

// Message is one unit of communication within a conversation. Rows are
// written once on first observation and never rewritten, apart from the
// delivery status of locally originated sends.
type Message struct {
	ID                int64  `db:"id" json:"id"`
	ConversationID    int64  `db:"conversation_id" json:"conversationId"`
	SessionID         string `db:"session_id" json:"sessionId"`
	ExternalMessageID string `db:"external_message_id" json:"externalMessageId"`
	FromAddress       string `db:"from_address" json:"fromAddress"`
	ToAddress         string `db:"to_address" json:"toAddress"`
	Kind              string `db:"kind" json:"kind"`
	TextContent       string `db:"text_content" json:"textContent,omitempty"`
	MediaRef          string `db:"media_ref" json:"mediaRef,omitempty"`
	IsFromMe          bool   `db:"is_from_me" json:"isFromMe"`
	SentAt            int64  `db:"sent_at" json:"sentAt"`
	IngestSeq         int64  `db:"ingest_seq" json:"ingestSeq"`
	DeliveryStatus    string `db:"delivery_status" json:"deliveryStatus"`
	CreatedAt         int64  `db:"created_at" json:"createdAt"`
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID                int64  `db:"id"`
	SessionID         string `db:"session_id"`
	ExternalMessageID string `db:"external_message_id"`
	ToAddress         string `db:"to_address"`
	Kind              string `db:"kind"`
	TextContent       string `db:"text_content"`
	Status            string `db:"status"` // queued, sending, sent, failed
	Attempts          int    `db:"attempts"`
	ErrorMessage      string `db:"error_message"`
	CreatedAt         int64  `db:"created_at"`
	UpdatedAt         int64  `db:"updated_at"`
}
