package store

import "strings"

// Message status values.
const (
	StatusReceived = "received"
	StatusPending  = "pending"
	StatusSent     = "sent"
	StatusFailed   = "failed"
)

// Outbox status values.
const (
	OutboxQueued  = "queued"
	OutboxSending = "sending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// PreviewLen bounds the chat preview stored with each chat.
const PreviewLen = 100

// Chat is one conversation known to the bridge. Timestamps are unix millis.
type Chat struct {
	JID                string
	Name               string
	IsGroup            bool
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// Contact is a display-name record for a JID.
type Contact struct {
	JID      string
	Name     string
	PushName string
}

// Message is a stored message. ID is the local row id and grows with
// insertion order.
type Message struct {
	ID          int64
	ChatJID     string
	MsgID       string
	SenderJID   string
	SenderName  string
	Body        string
	MessageType string
	FromMe      bool
	Status      string
	Timestamp   int64
}

// OutboxEntry is one audited send attempt.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	ChatJID      string
	Body         string
	Status       string
	ErrorMessage string
	ServerMsgID  string
}

// IsGroupJID reports whether jid addresses a group.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@g.us")
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= PreviewLen {
		return s
	}
	return string(r[:PreviewLen])
}
