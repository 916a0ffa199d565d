package api

import (
	"context"
	"time"

	"github.com/bayup/wabridge/internal/status"
	"github.com/bayup/wabridge/internal/store"
)

// clockFormat renders wall-clock times in chat and message records.
const clockFormat = "15:04:05"

// StateReader gives the command surface a consistent view of the
// connection state.
type StateReader interface {
	Snapshot() status.Snapshot
}

// Session executes commands against the linked account. Calls are only
// made while the state is ready.
type Session interface {
	SendText(ctx context.Context, to, body string) (*SentMessage, error)
	ListChats(ctx context.Context) ([]ChatSummary, error)
	ListMessages(ctx context.Context, chatID string, limit int) ([]MessageRecord, error)
}

// SentMessage is the session's answer to a delivered send.
type SentMessage struct {
	ID   string
	Chat string
	Body string
}

// ChatSummary is one entry of GET /chats. Timestamp is unix seconds.
type ChatSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	LastMsg   string `json:"lastMsg"`
	Timestamp int64  `json:"timestamp"`
	Time      string `json:"time"`
	Unread    int    `json:"unread"`
	IsGroup   bool   `json:"isGroup"`
}

// MessageRecord is one entry of GET /chats/:id/messages.
type MessageRecord struct {
	ID        string `json:"id"`
	Body      string `json:"body"`
	FromMe    bool   `json:"fromMe"`
	Direction string `json:"direction"`
	Timestamp int64  `json:"timestamp"`
	Time      string `json:"time"`
	Author    string `json:"author"`
}

// Direction values of MessageRecord.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// NewChatSummary projects a stored chat.
func NewChatSummary(c store.Chat) ChatSummary {
	secs := c.LastMessageAt / 1000
	return ChatSummary{
		ID:        c.JID,
		Name:      c.Name,
		LastMsg:   c.LastMessagePreview,
		Timestamp: secs,
		Time:      clock(secs),
		Unread:    c.UnreadCount,
		IsGroup:   c.IsGroup,
	}
}

// NewMessageRecord projects a stored message.
func NewMessageRecord(m store.Message) MessageRecord {
	secs := m.Timestamp / 1000
	dir := DirectionInbound
	if m.FromMe {
		dir = DirectionOutbound
	}
	return MessageRecord{
		ID:        m.MsgID,
		Body:      m.Body,
		FromMe:    m.FromMe,
		Direction: dir,
		Timestamp: secs,
		Time:      clock(secs),
		Author:    m.SenderJID,
	}
}

func clock(secs int64) string {
	if secs <= 0 {
		return ""
	}
	return time.Unix(secs, 0).Format(clockFormat)
}
