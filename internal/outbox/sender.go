// Package outbox is the audited send path: every outgoing message is
// recorded before it reaches the adapter and settled after.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/bayup/wabridge/internal/bus"
	"github.com/bayup/wabridge/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TextSender delivers a text message and returns the server message id.
// OwnJID names the linked account, the author of everything sent.
type TextSender interface {
	SendText(ctx context.Context, jid string, text string) (serverMsgID string, err error)
	OwnJID() string
}

// SendResult describes a delivered message.
type SendResult struct {
	ClientMsgID string
	ServerMsgID string
	ChatJID     string
	SentAt      time.Time
}

// Sender runs sends synchronously through the outbox table. Failed sends
// are recorded and returned, never retried.
type Sender struct {
	db     *store.DB
	sender TextSender
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time
}

// NewSender creates a sender. logger may be nil.
func NewSender(db *store.DB, sender TextSender, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:     db,
		sender: sender,
		bus:    b,
		logger: logger,
		now:    time.Now,
	}
}

// RecoverStale fails entries left queued or sending by a previous run,
// along with the optimistic message rows they left pending.
func (s *Sender) RecoverStale() error {
	stale, err := s.db.PendingOutbox()
	if err != nil {
		return fmt.Errorf("list stale outbox: %w", err)
	}
	for _, e := range stale {
		if err := s.db.SetMessageStatus(e.ChatJID, e.ClientMsgID, store.StatusFailed); err != nil {
			s.logger.Warn("failed to mark interrupted message", zap.Error(err), zap.String("client_msg_id", e.ClientMsgID))
		}
	}

	n, err := s.db.FailStaleOutbox("interrupted by shutdown")
	if err != nil {
		return fmt.Errorf("recover outbox: %w", err)
	}
	if n > 0 {
		s.logger.Warn("marked interrupted sends as failed", zap.Int64("count", n))
	}
	return nil
}

// Send records body for jid, hands it to the adapter and settles the
// outcome. The optimistic message row is visible while the send is in
// flight and takes the server id once acknowledged.
func (s *Sender) Send(ctx context.Context, jid, body string) (*SendResult, error) {
	clientID := uuid.NewString()
	if err := s.db.QueueOutbox(clientID, jid, body); err != nil {
		return nil, fmt.Errorf("queue outbox: %w", err)
	}
	if err := s.db.MarkOutboxSending(clientID); err != nil {
		return nil, fmt.Errorf("mark sending: %w", err)
	}

	now := s.now()
	optimistic := &store.Message{
		ChatJID:     jid,
		MsgID:       clientID,
		SenderJID:   s.sender.OwnJID(),
		Body:        body,
		MessageType: "text",
		FromMe:      true,
		Status:      store.StatusPending,
		Timestamp:   now.UnixMilli(),
	}
	if _, err := s.db.RecordMessage(optimistic); err != nil {
		s.logger.Warn("failed to store optimistic message", zap.Error(err), zap.String("client_msg_id", clientID))
	} else {
		s.bus.Emit(bus.KindMsgUpserted, optimistic)
	}

	serverID, err := s.sender.SendText(ctx, jid, body)
	if err != nil {
		s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", clientID))
		_ = s.db.MarkOutboxFailed(clientID, err.Error())
		_ = s.db.SetMessageStatus(jid, clientID, store.StatusFailed)
		return nil, err
	}

	if err := s.db.MarkOutboxSent(clientID, serverID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", clientID))
	}
	if err := s.db.ReplaceMessageID(jid, clientID, serverID, store.StatusSent); err != nil {
		s.logger.Warn("failed to settle optimistic message", zap.Error(err), zap.String("client_msg_id", clientID))
	}

	s.logger.Info("message sent", zap.String("client_msg_id", clientID), zap.String("server_msg_id", serverID))

	return &SendResult{
		ClientMsgID: clientID,
		ServerMsgID: serverID,
		ChatJID:     jid,
		SentAt:      now,
	}, nil
}
