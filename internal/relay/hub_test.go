package relay

import (
	"testing"
	"time"

	"github.com/bayup/wabridge/internal/bus"
	"github.com/bayup/wabridge/internal/pairing"
	"github.com/bayup/wabridge/internal/status"
	"github.com/bayup/wabridge/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRenderer uses the raw code as the image.
type stubRenderer struct{}

func (stubRenderer) Render(code string) (*pairing.Artifact, error) {
	return &pairing.Artifact{Code: code, Image: code}, nil
}

func newTestHub(t *testing.T, queueSize int) (*bus.Bus, *status.Tracker, *Hub) {
	t.Helper()
	b := bus.New()
	tr := status.NewTracker(b, stubRenderer{}, nil, nil)
	return b, tr, NewHub(b, tr, queueSize, nil)
}

type frame struct {
	Event string
	Data  any
}

// next reads one frame or fails after a second.
func next(t *testing.T, sub *Subscriber) frame {
	t.Helper()
	select {
	case env, ok := <-sub.C():
		require.True(t, ok, "subscriber closed")
		assert.NotEmpty(t, env.ID)
		return frame{Event: env.Event, Data: env.Data}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for frame")
		return frame{}
	}
}

func assertIdle(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case env, ok := <-sub.C():
		if ok {
			t.Errorf("unexpected frame %+v", env)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJoinQueuesCurrentStatus(t *testing.T) {
	_, _, hub := newTestHub(t, 0)

	sub := hub.Join()
	assert.Equal(t, frame{EventStatus, "disconnected"}, next(t, sub))
	assertIdle(t, sub)
	assert.Equal(t, 1, hub.Count())
}

func TestJoinWhileAwaitingScanQueuesQR(t *testing.T) {
	_, tr, hub := newTestHub(t, 0)
	tr.OnPairingCodeIssued("ABC")

	sub := hub.Join()
	assert.Equal(t, frame{EventStatus, "awaiting_scan"}, next(t, sub))
	assert.Equal(t, frame{EventQR, "ABC"}, next(t, sub))
	assertIdle(t, sub)
}

func TestJoinWhileReadySendsStatusOnly(t *testing.T) {
	_, tr, hub := newTestHub(t, 0)
	tr.OnPairingCodeIssued("ABC")
	tr.OnSessionReady()

	sub := hub.Join()
	assert.Equal(t, frame{EventStatus, "ready"}, next(t, sub))
	assertIdle(t, sub)
}

func TestBroadcastPairingThenReady(t *testing.T) {
	_, tr, hub := newTestHub(t, 0)
	hub.Start(t.Context())
	defer hub.Stop()

	sub := hub.Join()
	tr.OnPairingCodeIssued("ABC")
	tr.OnSessionReady()

	want := []frame{
		{EventStatus, "disconnected"},
		{EventStatus, "awaiting_scan"},
		{EventQR, "ABC"},
		{EventStatus, "ready"},
		{EventReady, ReadyData{Status: true}},
	}
	for _, w := range want {
		assert.Equal(t, w, next(t, sub))
	}
	assertIdle(t, sub)
}

func TestBroadcastAuthFailure(t *testing.T) {
	_, tr, hub := newTestHub(t, 0)
	hub.Start(t.Context())
	defer hub.Stop()

	sub := hub.Join()
	tr.OnPairingCodeIssued("ABC")
	tr.OnAuthFailure("timeout")

	want := []frame{
		{EventStatus, "disconnected"},
		{EventStatus, "awaiting_scan"},
		{EventQR, "ABC"},
		{EventStatus, "disconnected"},
	}
	for _, w := range want {
		assert.Equal(t, w, next(t, sub))
	}
}

// TestJoinBetweenApplyAndDispatch covers a subscriber that joins after a
// change was applied but before the dispatcher delivered it.
func TestJoinBetweenApplyAndDispatch(t *testing.T) {
	b, tr, hub := newTestHub(t, 0)
	changes, unsub := b.Subscribe(bus.KindStatusChanged, 4)
	defer unsub()

	early := hub.Join()
	tr.OnPairingCodeIssued("ABC")
	late := hub.Join()

	hub.dispatch(<-changes)

	assert.Equal(t, frame{EventStatus, "disconnected"}, next(t, early))
	assert.Equal(t, frame{EventStatus, "awaiting_scan"}, next(t, early))
	assert.Equal(t, frame{EventQR, "ABC"}, next(t, early))

	assert.Equal(t, frame{EventStatus, "awaiting_scan"}, next(t, late))
	assert.Equal(t, frame{EventQR, "ABC"}, next(t, late))
	assertIdle(t, late)
}

func TestInboundMessageRelayed(t *testing.T) {
	_, _, hub := newTestHub(t, 0)
	sub := hub.Join()
	next(t, sub)

	hub.dispatch(bus.Event{Kind: bus.KindMsgUpserted, Payload: &store.Message{
		ChatJID: "573@s.whatsapp.net", MsgID: "M1", SenderJID: "573@s.whatsapp.net",
		SenderName: "Ana", Body: "hola", Timestamp: 1700000000123,
	}})

	assert.Equal(t, frame{EventNewMessage, NewMessage{
		ID: "M1", From: "573@s.whatsapp.net", Chat: "573@s.whatsapp.net", Author: "573@s.whatsapp.net",
		Body: "hola", Name: "Ana", Timestamp: 1700000000,
	}}, next(t, sub))
}

// TestGroupMessageRepliesToGroup checks from names the group, so a client
// replying to it does not open a direct chat with the participant.
func TestGroupMessageRepliesToGroup(t *testing.T) {
	_, _, hub := newTestHub(t, 0)
	sub := hub.Join()
	next(t, sub)

	hub.dispatch(bus.Event{Kind: bus.KindMsgUpserted, Payload: &store.Message{
		ChatJID: "120363@g.us", MsgID: "G1", SenderJID: "573@s.whatsapp.net",
		SenderName: "Ana", Body: "hola grupo", Timestamp: 1700000000000,
	}})

	msg, ok := next(t, sub).Data.(NewMessage)
	require.True(t, ok)
	assert.Equal(t, "120363@g.us", msg.From)
	assert.Equal(t, "120363@g.us", msg.Chat)
	assert.Equal(t, "573@s.whatsapp.net", msg.Author)
}

// TestRelaysOnlyStoredMessages checks raw adapter messages are not relayed
// until ingestion announces them.
func TestRelaysOnlyStoredMessages(t *testing.T) {
	b, _, hub := newTestHub(t, 0)
	hub.Start(t.Context())
	defer hub.Stop()

	sub := hub.Join()
	next(t, sub)

	msg := &store.Message{ChatJID: "573@s.whatsapp.net", MsgID: "M3", Body: "hola"}
	b.Emit(bus.KindWAMessage, msg)
	assertIdle(t, sub)

	b.Emit(bus.KindMsgUpserted, msg)
	assert.Equal(t, EventNewMessage, next(t, sub).Event)
}

func TestOutboundMessageNotRelayed(t *testing.T) {
	_, _, hub := newTestHub(t, 0)
	sub := hub.Join()
	next(t, sub)

	hub.dispatch(bus.Event{Kind: bus.KindMsgUpserted, Payload: &store.Message{MsgID: "M2", FromMe: true}})
	assertIdle(t, sub)
}

func TestSlowSubscriberDropped(t *testing.T) {
	_, _, hub := newTestHub(t, 2)
	slow := hub.Join()
	fast := hub.Join()
	next(t, fast)

	for i := 0; i < 3; i++ {
		hub.dispatch(bus.Event{Kind: bus.KindMsgUpserted, Payload: &store.Message{MsgID: "m", Body: "x"}})
		assert.Equal(t, EventNewMessage, next(t, fast).Event)
	}

	assert.True(t, slow.Overflowed())
	assert.False(t, fast.Overflowed())
	assert.Equal(t, 1, hub.Count())

	// The slow queue drains what it had, then reports closed.
	drained := 0
	for range slow.C() {
		drained++
	}
	assert.Equal(t, 2, drained)
}

func TestLeaveAndStop(t *testing.T) {
	_, _, hub := newTestHub(t, 0)
	hub.Start(t.Context())

	a := hub.Join()
	b := hub.Join()
	hub.Leave(a)
	assert.Equal(t, 1, hub.Count())
	hub.Leave(a)

	hub.Stop()
	assert.Equal(t, 0, hub.Count())

	next(t, b)
	_, ok := <-b.C()
	assert.False(t, ok, "stop should close remaining subscribers")
	assert.False(t, b.Overflowed())
}
