package bus

import "time"

// Event kinds published by the bridge. Subscribers filter by prefix, so the
// part before the first dot acts as the namespace.
const (
	KindStatusChanged  = "session.status_changed"
	KindLoggedOut      = "session.logged_out"
	KindWAMessage      = "wa.message"
	KindWAHistoryBatch = "wa.history_batch"
	KindWAContact      = "wa.contact"
	KindWAContactBatch = "wa.contact_batch"
	KindWAChatBatch    = "wa.chat_batch"

	// KindMsgUpserted announces a message stored for the first time, live
	// or sent through the outbox.
	KindMsgUpserted = "message.upserted"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
