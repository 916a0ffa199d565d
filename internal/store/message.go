package store

import (
	"fmt"
	"math"
	"time"
)

const upsertMessageSQL = `
	INSERT INTO messages (chat_jid, msg_id, sender_jid, sender_name, body, message_type, from_me, status, timestamp, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(chat_jid, msg_id) DO UPDATE SET
		sender_name = CASE WHEN excluded.sender_name != '' THEN excluded.sender_name ELSE messages.sender_name END,
		body = excluded.body,
		status = excluded.status`

// UpsertMessage inserts or updates a message, keyed by chat_jid + msg_id.
// An update keeps the original row id, so ordering is stable.
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(upsertMessageSQL,
		m.ChatJID, m.MsgID, m.SenderJID, m.SenderName, m.Body, m.MessageType, m.FromMe, m.Status, m.Timestamp, time.Now().UnixMilli())
	return err
}

const insertMessageSQL = `
	INSERT INTO messages (chat_jid, msg_id, sender_jid, sender_name, body, message_type, from_me, status, timestamp, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(chat_jid, msg_id) DO NOTHING`

// RecordMessage stores a live message and, the first time its id is seen,
// the chat activity it implies. A redelivered message only refreshes the
// stored row, so unread counters track distinct messages. It reports
// whether the row was new.
func (db *DB) RecordMessage(m *Message) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	res, err := tx.Exec(insertMessageSQL,
		m.ChatJID, m.MsgID, m.SenderJID, m.SenderName, m.Body, m.MessageType, m.FromMe, m.Status, m.Timestamp, now)
	if err != nil {
		return false, fmt.Errorf("insert message %q: %w", m.MsgID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert message %q: %w", m.MsgID, err)
	}

	inserted := n > 0
	if inserted {
		if err := touchChat(tx, m.ChatJID, m.Timestamp, m.Body, m.FromMe); err != nil {
			return false, fmt.Errorf("touch chat %q: %w", m.ChatJID, err)
		}
	} else if _, err := tx.Exec(upsertMessageSQL,
		m.ChatJID, m.MsgID, m.SenderJID, m.SenderName, m.Body, m.MessageType, m.FromMe, m.Status, m.Timestamp, now); err != nil {
		return false, fmt.Errorf("refresh message %q: %w", m.MsgID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit message: %w", err)
	}
	return inserted, nil
}

// IngestHistory stores a batch of history messages together with the
// activity of their chats in one transaction. Unread counters are left
// alone; history sync reports them separately. It returns the number of
// distinct chats touched.
func (db *DB) IngestHistory(msgs []*Message) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	chats := make(map[string]struct{})
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO chats (jid, is_group, last_message_at, last_message_preview, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(jid) DO UPDATE SET
				last_message_preview = CASE WHEN excluded.last_message_at > chats.last_message_at
					THEN excluded.last_message_preview ELSE chats.last_message_preview END,
				last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
				updated_at = excluded.updated_at`,
			m.ChatJID, IsGroupJID(m.ChatJID), m.Timestamp, preview(m.Body), now); err != nil {
			return 0, fmt.Errorf("upsert chat %q: %w", m.ChatJID, err)
		}
		chats[m.ChatJID] = struct{}{}

		if _, err := tx.Exec(upsertMessageSQL,
			m.ChatJID, m.MsgID, m.SenderJID, m.SenderName, m.Body, m.MessageType, m.FromMe, m.Status, m.Timestamp, now); err != nil {
			return 0, fmt.Errorf("upsert message %q: %w", m.MsgID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return len(chats), nil
}

// SetMessageStatus updates the status of a stored message.
func (db *DB) SetMessageStatus(chatJID, msgID, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE chat_jid = ? AND msg_id = ?`, status, chatJID, msgID)
	return err
}

// ReplaceMessageID swaps a provisional message id for the one assigned by
// the server.
func (db *DB) ReplaceMessageID(chatJID, oldID, newID, status string) error {
	_, err := db.Exec(`UPDATE messages SET msg_id = ?, status = ? WHERE chat_jid = ? AND msg_id = ?`, newID, status, chatJID, oldID)
	return err
}

// ListMessages returns up to limit messages of a chat, newest first, using
// keyset pagination on the timestamp. Messages sharing a timestamp are
// ordered by row id, latest insertion first. beforeTs <= 0 starts at the
// newest message; limit <= 0 means 50.
func (db *DB) ListMessages(chatJID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = math.MaxInt64
	}
	rows, err := db.Query(`
		SELECT id, chat_jid, msg_id, sender_jid, sender_name, body, message_type, from_me, status, timestamp
		FROM messages
		WHERE chat_jid = ? AND timestamp < ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, chatJID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatJID, &m.MsgID, &m.SenderJID, &m.SenderName, &m.Body, &m.MessageType, &m.FromMe, &m.Status, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
