// Package sync projects WhatsApp traffic into the local store. It reads
// wa.* events from the bus and never talks to the adapter directly.
package sync

import (
	"context"
	"fmt"

	"github.com/bayup/wabridge/internal/bus"
	"github.com/bayup/wabridge/internal/store"
	"go.uber.org/zap"
)

// Engine ingests messages, history, contacts and chat metadata
// idempotently.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates an engine. logger may be nil.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to wa.* events and processes them on one goroutine.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe("wa.", 256)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return
				}
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the current event to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindWAMessage:
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(msg); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", msg.MsgID))
		}
	case bus.KindWAHistoryBatch:
		msgs, ok := evt.Payload.([]*store.Message)
		if !ok {
			return
		}
		if err := e.IngestHistoryBatch(msgs); err != nil {
			e.logger.Error("failed to ingest history batch", zap.Error(err), zap.Int("count", len(msgs)))
		}
	case bus.KindWAContact:
		c, ok := evt.Payload.(*store.Contact)
		if !ok {
			return
		}
		if err := e.db.UpsertContact(c); err != nil {
			e.logger.Warn("failed to store contact", zap.Error(err), zap.String("jid", c.JID))
		}
	case bus.KindWAContactBatch:
		contacts, ok := evt.Payload.([]store.Contact)
		if !ok {
			return
		}
		if err := e.db.BulkUpsertContacts(contacts); err != nil {
			e.logger.Warn("failed to store contacts", zap.Error(err), zap.Int("count", len(contacts)))
		}
	case bus.KindWAChatBatch:
		chats, ok := evt.Payload.([]store.Chat)
		if !ok {
			return
		}
		if err := e.IngestChats(chats); err != nil {
			e.logger.Warn("failed to store chat metadata", zap.Error(err), zap.Int("count", len(chats)))
		}
	}
}

// IngestMessage stores a live message, records the chat activity and
// remembers the sender's push name. Only the first delivery of a message
// is announced on the bus.
func (e *Engine) IngestMessage(msg *store.Message) error {
	inserted, err := e.db.RecordMessage(msg)
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	if !msg.FromMe && msg.SenderJID != "" && msg.SenderName != "" {
		if err := e.db.UpsertContact(&store.Contact{JID: msg.SenderJID, PushName: msg.SenderName}); err != nil {
			e.logger.Warn("failed to store sender name", zap.Error(err), zap.String("jid", msg.SenderJID))
		}
	}
	if !inserted {
		e.logger.Debug("message redelivered", zap.String("msg_id", msg.MsgID), zap.String("chat_jid", msg.ChatJID))
		return nil
	}

	e.bus.Emit(bus.KindMsgUpserted, msg)
	return nil
}

// IngestHistoryBatch stores a history sync batch in one transaction.
func (e *Engine) IngestHistoryBatch(msgs []*store.Message) error {
	chats, err := e.db.IngestHistory(msgs)
	if err != nil {
		return err
	}
	e.logger.Info("history batch ingested", zap.Int("messages", len(msgs)), zap.Int("chats", chats))
	return nil
}

// IngestChats stores chat metadata reported by history sync.
func (e *Engine) IngestChats(chats []store.Chat) error {
	for i := range chats {
		if err := e.db.UpsertChat(&chats[i]); err != nil {
			return fmt.Errorf("upsert chat %q: %w", chats[i].JID, err)
		}
	}
	return nil
}
