package wa

import (
	"time"

	"github.com/bayup/wabridge/internal/store"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// ParsedMessage is a normalized message ready for ingestion. JIDs carry
// no device suffix; timestamps are unix millis.
type ParsedMessage struct {
	ChatJID     string
	MsgID       string
	SenderJID   string
	SenderName  string
	Body        string
	MessageType string
	FromMe      bool
	Timestamp   int64
}

// ParseLiveMessage normalizes a live whatsmeow message event.
func ParseLiveMessage(evt *events.Message) *ParsedMessage {
	return parseInfo(evt.Message, evt.Info)
}

// ParseHistoryMessage normalizes a message from a history sync
// conversation. Without a participant, a message we did not send is
// attributed to the chat itself.
func ParseHistoryMessage(chat types.JID, wmsg *waWeb.WebMessageInfo) *ParsedMessage {
	key := wmsg.GetKey()
	var sender types.JID
	if p := key.GetParticipant(); p != "" {
		sender, _ = types.ParseJID(p)
	} else if !key.GetFromMe() {
		sender = chat
	}

	return parseInfo(wmsg.GetMessage(), types.MessageInfo{
		MessageSource: types.MessageSource{
			Chat:     chat,
			Sender:   sender,
			IsFromMe: key.GetFromMe(),
			IsGroup:  chat.Server == types.GroupServer,
		},
		ID:        key.GetID(),
		PushName:  wmsg.GetPushName(),
		Timestamp: time.Unix(int64(wmsg.GetMessageTimestamp()), 0),
	})
}

func parseInfo(msg *waE2E.Message, info types.MessageInfo) *ParsedMessage {
	return &ParsedMessage{
		ChatJID:     normalize(info.Chat).String(),
		MsgID:       info.ID,
		SenderJID:   normalize(info.Sender).String(),
		SenderName:  info.PushName,
		Body:        extractTextBody(msg),
		MessageType: detectMessageType(msg),
		FromMe:      info.IsFromMe,
		Timestamp:   info.Timestamp.UnixMilli(),
	}
}

// ToStoreMessage converts a ParsedMessage to a store.Message.
func (p *ParsedMessage) ToStoreMessage() *store.Message {
	status := store.StatusReceived
	if p.FromMe {
		status = store.StatusSent
	}
	return &store.Message{
		ChatJID:     p.ChatJID,
		MsgID:       p.MsgID,
		SenderJID:   p.SenderJID,
		SenderName:  p.SenderName,
		Body:        p.Body,
		MessageType: p.MessageType,
		FromMe:      p.FromMe,
		Status:      status,
		Timestamp:   p.Timestamp,
	}
}

// extractTextBody returns the text of a message, falling back to the
// caption of media messages.
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
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}
