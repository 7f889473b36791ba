package adapter

import (
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// parseMessage normalizes a live whatsmeow message event.
func parseMessage(evt *events.Message) *MessageEvent {
	chat := evt.Info.Chat
	return &MessageEvent{
		ExternalChatID:    chat.String(),
		ExternalMessageID: evt.Info.ID,
		ChatDisplayName:   chatDisplayName(evt),
		ContactNumber:     contactNumber(chat),
		IsGroup:           chat.Server == types.GroupServer,
		FromAddress:       evt.Info.Sender.String(),
		ToAddress:         chat.String(),
		Kind:              detectKind(evt.Message),
		TextContent:       extractTextBody(evt.Message),
		MediaRef:          extractMediaRef(evt.Message),
		IsFromMe:          evt.Info.IsFromMe,
		SentAt:            evt.Info.Timestamp.UnixMilli(),
	}
}

// parseHistoryMessage normalizes one entry of the post-pairing history
// backlog. Returns nil for entries carrying no payload.
func parseHistoryMessage(chat types.JID, chatName string, wmsg *waWeb.WebMessageInfo) *MessageEvent {
	if wmsg == nil || wmsg.GetMessage() == nil {
		return nil
	}
	key := wmsg.GetKey()
	from := key.GetParticipant()
	if from == "" {
		from = chat.String()
	}
	return &MessageEvent{
		ExternalChatID:    chat.String(),
		ExternalMessageID: key.GetID(),
		ChatDisplayName:   chatName,
		ContactNumber:     contactNumber(chat),
		IsGroup:           chat.Server == types.GroupServer,
		FromAddress:       from,
		ToAddress:         chat.String(),
		Kind:              detectKind(wmsg.GetMessage()),
		TextContent:       extractTextBody(wmsg.GetMessage()),
		MediaRef:          extractMediaRef(wmsg.GetMessage()),
		IsFromMe:          key.GetFromMe(),
		SentAt:            int64(wmsg.GetMessageTimestamp()) * 1000,
	}
}

func chatDisplayName(evt *events.Message) string {
	if evt.Info.IsFromMe {
		return ""
	}
	return evt.Info.PushName
}

// contactNumber extracts the bare phone number from a user JID. Group and
// hidden-user chats have no direct number.
func contactNumber(jid types.JID) string {
	if jid.Server != types.DefaultUserServer {
		return ""
	}
	return "+" + jid.User
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	switch {
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	}
	return ""
}

func extractMediaRef(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	switch {
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetURL()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetURL()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage().GetURL()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetURL()
	}
	return ""
}

// detectKind maps a wire message onto the engine's message kinds. Kinds
// with no direct equivalent fold into their closest match.
func detectKind(msg *waE2E.Message) string {
	if msg == nil {
		return "text"
	}
	switch {
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetStickerMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	default:
		return "text"
	}
}

// NormalizeAddress strips whitespace from a user-supplied address and
// appends the default user server when no server part is present, so the
// dashboard can pass bare phone numbers.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return addr
	}
	if !strings.ContainsRune(addr, '@') {
		return strings.TrimPrefix(addr, "+") + "@" + types.DefaultUserServer
	}
	return addr
}
