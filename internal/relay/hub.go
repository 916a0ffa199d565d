// Package relay fans connection-state changes and inbound messages out to
// live WebSocket subscribers.
package relay

import (
	"context"
	"sync"

	"github.com/bayup/wabridge/internal/bus"
	"github.com/bayup/wabridge/internal/status"
	"github.com/bayup/wabridge/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultQueueSize is the number of frames a subscriber may lag behind
// before it is dropped.
const DefaultQueueSize = 64

// StateSource provides consistent reads of the connection state.
type StateSource interface {
	Snapshot() status.Snapshot
}

// Subscriber is one live connection. Its queue is closed when it leaves or
// falls too far behind.
type Subscriber struct {
	ID string

	mu         sync.Mutex
	send       chan Envelope
	closed     bool
	overflowed bool
	since      uint64
}

func newSubscriber(id string, size int, since uint64) *Subscriber {
	return &Subscriber{ID: id, send: make(chan Envelope, size), since: since}
}

// C returns the frames queued for this subscriber.
func (s *Subscriber) C() <-chan Envelope {
	return s.send
}

// Overflowed reports whether the subscriber was dropped for lagging.
func (s *Subscriber) Overflowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflowed
}

// queue adds envs without blocking. On overflow the subscriber is closed
// and queue returns false.
func (s *Subscriber) queue(envs ...Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for _, env := range envs {
		select {
		case s.send <- env:
		default:
			s.overflowed = true
			s.closeLocked()
			return false
		}
	}
	return true
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Subscriber) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// Hub owns the subscriber set and a single dispatcher goroutine, so every
// subscriber sees events in bus order.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}

	state     StateSource
	bus       *bus.Bus
	queueSize int
	logger    *zap.Logger
	newID     func() string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub. queueSize <= 0 uses DefaultQueueSize.
func NewHub(b *bus.Bus, state StateSource, queueSize int, logger *zap.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:      make(map[*Subscriber]struct{}),
		state:     state,
		bus:       b,
		queueSize: queueSize,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// Start subscribes to state changes and stored messages. Messages are
// relayed once persisted, so a subscriber reacting to new_message already
// finds it on the command surface.
func (h *Hub) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	changes, unsubChanges := h.bus.Subscribe(bus.KindStatusChanged, 256)
	messages, unsubMessages := h.bus.Subscribe(bus.KindMsgUpserted, 256)

	go func() {
		defer close(h.done)
		defer unsubChanges()
		defer unsubMessages()
		for {
			select {
			case evt := <-changes:
				h.dispatch(evt)
			case evt := <-messages:
				h.dispatch(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends dispatching and closes every subscriber.
func (h *Hub) Stop() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		sub.close()
		delete(h.subs, sub)
	}
}

// Join registers a subscriber and queues the current status, plus the
// pairing image while a scan is awaited. Changes already reflected in
// that snapshot are never delivered to it again.
func (h *Hub) Join() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := h.state.Snapshot()
	sub := newSubscriber(h.newID(), h.queueSize, snap.Seq)
	sub.queue(lifecycleEnvelopes(snap.State, snap.Artifact, false, h.newID)...)
	h.subs[sub] = struct{}{}

	h.logger.Debug("subscriber joined", zap.String("id", sub.ID), zap.String("state", string(snap.State)))
	return sub
}

// Leave removes a subscriber and closes its queue.
func (h *Hub) Leave(sub *Subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.close()
	h.logger.Debug("subscriber left", zap.String("id", sub.ID))
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) dispatch(evt bus.Event) {
	switch evt.Kind {
	case bus.KindStatusChanged:
		change, ok := evt.Payload.(status.Change)
		if !ok {
			return
		}
		envs := lifecycleEnvelopes(change.To, change.Artifact, true, h.newID)
		h.broadcast(envs, func(s *Subscriber) bool { return change.Seq > s.since })
	case bus.KindMsgUpserted:
		msg, ok := evt.Payload.(*store.Message)
		if !ok || msg.FromMe {
			return
		}
		h.broadcast([]Envelope{messageEnvelope(msg, h.newID())}, nil)
	}
}

// broadcast queues envs to every subscriber accepted by want (nil accepts
// all) and drops those that overflow.
func (h *Hub) broadcast(envs []Envelope, want func(*Subscriber) bool) {
	var dropped []*Subscriber

	h.mu.RLock()
	for sub := range h.subs {
		if want != nil && !want(sub) {
			continue
		}
		if !sub.queue(envs...) && sub.Overflowed() {
			dropped = append(dropped, sub)
		}
	}
	h.mu.RUnlock()

	if len(dropped) == 0 {
		return
	}
	h.mu.Lock()
	for _, sub := range dropped {
		delete(h.subs, sub)
		h.logger.Warn("dropping slow subscriber", zap.String("id", sub.ID))
	}
	h.mu.Unlock()
}
