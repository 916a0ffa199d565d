package daemon

import (
	"context"

	"github.com/bayup/wabridge/internal/api"
	"github.com/bayup/wabridge/internal/outbox"
	"github.com/bayup/wabridge/internal/store"
	"github.com/bayup/wabridge/internal/wa"
)

// Backend answers command-surface calls from the outbox and the local
// projection store.
type Backend struct {
	sender *outbox.Sender
	db     *store.DB
}

// NewBackend creates a backend.
func NewBackend(sender *outbox.Sender, db *store.DB) *Backend {
	return &Backend{sender: sender, db: db}
}

// SendText normalizes the recipient and sends through the outbox.
func (b *Backend) SendText(ctx context.Context, to, body string) (*api.SentMessage, error) {
	jid, err := wa.ParseRecipient(to)
	if err != nil {
		return nil, err
	}
	res, err := b.sender.Send(ctx, jid.String(), body)
	if err != nil {
		return nil, err
	}
	return &api.SentMessage{ID: res.ServerMsgID, Chat: res.ChatJID, Body: body}, nil
}

// ListChats returns every known chat, most recent activity first.
func (b *Backend) ListChats(context.Context) ([]api.ChatSummary, error) {
	chats, err := b.db.ListChats(0)
	if err != nil {
		return nil, err
	}
	out := make([]api.ChatSummary, 0, len(chats))
	for _, c := range chats {
		out = append(out, api.NewChatSummary(c))
	}
	return out, nil
}

// ListMessages returns up to limit messages of a chat, newest first.
func (b *Backend) ListMessages(_ context.Context, chatID string, limit int) ([]api.MessageRecord, error) {
	jid, err := wa.ParseRecipient(chatID)
	if err != nil {
		return nil, err
	}
	msgs, err := b.db.ListMessages(jid.String(), 0, limit)
	if err != nil {
		return nil, err
	}
	out := make([]api.MessageRecord, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, api.NewMessageRecord(m))
	}
	return out, nil
}
