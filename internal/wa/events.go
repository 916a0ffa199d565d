package wa

import (
	"context"
	"fmt"
	"time"

	"github.com/bayup/wabridge/internal/bus"
	"github.com/bayup/wabridge/internal/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// Lifecycle receives the session events that move the connection state.
// status.Tracker implements it.
type Lifecycle interface {
	OnPairingCodeIssued(raw string)
	OnAuthenticated()
	OnSessionReady()
	OnAuthFailure(reason string)
	OnSessionDrop(reason string)
}

// Directory answers identity questions from the device store: the
// phone-number JID behind a hidden-user (LID) JID, and the address book.
// Adapter implements it.
type Directory interface {
	ResolveLID(ctx context.Context, jid types.JID) types.JID
	GetContacts(ctx context.Context) []store.Contact
}

// EventHandler translates whatsmeow events into lifecycle calls and domain
// events on the bus. It does not touch the store; the sync engine consumes
// the bus independently.
type EventHandler struct {
	bus    *bus.Bus
	lc     Lifecycle
	dir    Directory
	logger *zap.Logger
}

// NewEventHandler creates an event handler. dir may be nil, in which case
// LIDs are kept as they arrive and no address book is published.
func NewEventHandler(b *bus.Bus, lc Lifecycle, dir Directory, logger *zap.Logger) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{
		bus:    b,
		lc:     lc,
		dir:    dir,
		logger: logger,
	}
}

// Handle is registered with the whatsmeow client.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		h.lc.OnSessionReady()
		h.publishContacts()
	case *events.PairSuccess:
		h.logger.Info("pairing accepted", zap.String("jid", evt.ID.String()), zap.String("platform", evt.Platform))
		h.lc.OnAuthenticated()
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		h.lc.OnSessionDrop("disconnected")
	case *events.StreamReplaced:
		h.logger.Warn("WhatsApp stream replaced by another client")
		h.lc.OnSessionDrop("stream replaced")
	case *events.LoggedOut:
		reason := evt.Reason.String()
		h.logger.Warn("WhatsApp logged out", zap.String("reason", reason), zap.Bool("on_connect", evt.OnConnect))
		h.lc.OnAuthFailure("logged out: " + reason)
		h.bus.Emit(bus.KindLoggedOut, reason)
	case *events.ConnectFailure:
		reason := fmt.Sprintf("connect failure: %s", evt.Reason.String())
		if evt.Message != "" {
			reason += " (" + evt.Message + ")"
		}
		h.logger.Error("WhatsApp connect failure", zap.String("reason", reason))
		h.lc.OnAuthFailure(reason)
		if evt.Reason.IsLoggedOut() {
			h.bus.Emit(bus.KindLoggedOut, evt.Reason.String())
		}
	case *events.TemporaryBan:
		reason := fmt.Sprintf("temporary ban: %s", evt.Code.String())
		h.logger.Error("WhatsApp temporary ban", zap.String("reason", reason), zap.Duration("expires_in", evt.Expire))
		h.lc.OnAuthFailure(reason)
	case *events.HistorySync:
		h.handleHistorySync(evt)
	case *events.PushName:
		h.bus.Emit(bus.KindWAContact, &store.Contact{
			JID:      h.resolveJID(evt.JID.String()),
			PushName: evt.NewPushName,
		})
	}
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	if evt.Info.Chat == types.StatusBroadcastJID {
		return
	}
	parsed := ParseLiveMessage(evt)
	parsed.ChatJID = h.resolveJID(parsed.ChatJID)
	parsed.SenderJID = h.resolveJID(parsed.SenderJID)

	h.bus.Publish(bus.Event{
		Kind:      bus.KindWAMessage,
		Timestamp: time.Now(),
		Payload:   parsed.ToStoreMessage(),
	})
}

// publishContacts announces the device store's address book so chat names
// resolve without waiting for a history sync.
func (h *EventHandler) publishContacts() {
	if h.dir == nil {
		return
	}
	contacts := h.dir.GetContacts(context.Background())
	if len(contacts) == 0 {
		return
	}
	h.logger.Debug("publishing device contacts", zap.Int("count", len(contacts)))
	h.bus.Publish(bus.Event{Kind: bus.KindWAContactBatch, Timestamp: time.Now(), Payload: contacts})
}

func (h *EventHandler) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	var (
		msgs     []*store.Message
		contacts []store.Contact
		chats    []store.Chat
	)
	for _, conv := range data.GetConversations() {
		chat, err := types.ParseJID(conv.GetID())
		if err != nil {
			h.logger.Warn("skipping history conversation", zap.String("id", conv.GetID()), zap.Error(err))
			continue
		}
		chatJID := h.resolveJID(conv.GetID())
		if name := conv.GetName(); name != "" {
			contacts = append(contacts, store.Contact{JID: chatJID, Name: name})
		}
		chats = append(chats, store.Chat{
			JID:           chatJID,
			Name:          conv.GetName(),
			IsGroup:       store.IsGroupJID(chatJID),
			UnreadCount:   int(conv.GetUnreadCount()),
			LastMessageAt: int64(conv.GetConversationTimestamp()) * 1000,
		})

		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil || wmsg.GetMessage() == nil {
				continue
			}
			parsed := ParseHistoryMessage(chat, wmsg)
			parsed.ChatJID = chatJID
			parsed.SenderJID = h.resolveJID(parsed.SenderJID)
			if parsed.SenderName != "" && parsed.SenderJID != "" {
				contacts = append(contacts, store.Contact{JID: parsed.SenderJID, PushName: parsed.SenderName})
			}
			msgs = append(msgs, parsed.ToStoreMessage())
		}
	}

	if len(msgs) > 0 {
		h.bus.Publish(bus.Event{Kind: bus.KindWAHistoryBatch, Timestamp: time.Now(), Payload: msgs})
	}
	if len(contacts) > 0 {
		h.bus.Publish(bus.Event{Kind: bus.KindWAContactBatch, Timestamp: time.Now(), Payload: contacts})
	}
	if len(chats) > 0 {
		h.bus.Publish(bus.Event{Kind: bus.KindWAChatBatch, Timestamp: time.Now(), Payload: chats})
	}
}

// resolveJID normalizes a JID string and, when a resolver is available,
// replaces a LID with the phone-number JID.
func (h *EventHandler) resolveJID(raw string) string {
	if raw == "" {
		return ""
	}
	jid, err := types.ParseJID(raw)
	if err != nil {
		return raw
	}
	jid = normalize(jid)
	if h.dir != nil {
		jid = h.dir.ResolveLID(context.Background(), jid)
	}
	return jid.String()
}
