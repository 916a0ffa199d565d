package relay

import (
	"github.com/bayup/wabridge/internal/pairing"
	"github.com/bayup/wabridge/internal/status"
	"github.com/bayup/wabridge/internal/store"
)

// Event names on the wire.
const (
	EventStatus     = "status"
	EventQR         = "qr"
	EventReady      = "ready"
	EventNewMessage = "new_message"
)

// Envelope is one JSON text frame sent to subscribers.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
	ID    string `json:"id"`
}

// ReadyData is the payload of ready events.
type ReadyData struct {
	Status bool `json:"status"`
}

// NewMessage is the payload of new_message events. From is where a reply
// goes, so for groups it is the group and Author names the participant.
// Timestamp is unix seconds.
type NewMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Chat      string `json:"chat"`
	Author    string `json:"author"`
	Body      string `json:"body"`
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
}

// lifecycleEnvelopes returns the frames announcing state: status always,
// qr while a scan is awaited and an image exists, ready once ready.
func lifecycleEnvelopes(state status.State, art *pairing.Artifact, withReady bool, newID func() string) []Envelope {
	envs := []Envelope{{Event: EventStatus, Data: string(state), ID: newID()}}
	if state == status.AwaitingScan && art != nil && art.Image != "" {
		envs = append(envs, Envelope{Event: EventQR, Data: art.Image, ID: newID()})
	}
	if withReady && state == status.Ready {
		envs = append(envs, Envelope{Event: EventReady, Data: ReadyData{Status: true}, ID: newID()})
	}
	return envs
}

func messageEnvelope(m *store.Message, id string) Envelope {
	return Envelope{
		Event: EventNewMessage,
		Data: NewMessage{
			ID:        m.MsgID,
			From:      m.ChatJID,
			Chat:      m.ChatJID,
			Author:    m.SenderJID,
			Body:      m.Body,
			Name:      m.SenderName,
			Timestamp: m.Timestamp / 1000,
		},
		ID: id,
	}
}
