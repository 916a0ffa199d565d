package store

import (
	"database/sql"
	"errors"
	"time"
)

// QueueOutbox records a new send attempt in the queued state.
func (db *DB) QueueOutbox(clientMsgID, chatJID, body string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, chat_jid, body, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		clientMsgID, chatJID, body, OutboxQueued, now, now)
	return err
}

// MarkOutboxSending moves an entry to sending.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	_, err := db.Exec(`UPDATE outbox SET status = ?, updated_at = ? WHERE client_msg_id = ?`,
		OutboxSending, time.Now().UnixMilli(), clientMsgID)
	return err
}

// MarkOutboxSent moves an entry to sent and stores the server message id.
func (db *DB) MarkOutboxSent(clientMsgID, serverMsgID string) error {
	_, err := db.Exec(`UPDATE outbox SET status = ?, server_msg_id = ?, updated_at = ? WHERE client_msg_id = ?`,
		OutboxSent, serverMsgID, time.Now().UnixMilli(), clientMsgID)
	return err
}

// MarkOutboxFailed moves an entry to failed with the error text.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	_, err := db.Exec(`UPDATE outbox SET status = ?, error_message = ?, updated_at = ? WHERE client_msg_id = ?`,
		OutboxFailed, errMsg, time.Now().UnixMilli(), clientMsgID)
	return err
}

// FailStaleOutbox marks every queued or sending entry as failed. Sends are
// synchronous, so such entries were interrupted by a previous shutdown.
func (db *DB) FailStaleOutbox(reason string) (int64, error) {
	res, err := db.Exec(`UPDATE outbox SET status = ?, error_message = ?, updated_at = ? WHERE status IN (?, ?)`,
		OutboxFailed, reason, time.Now().UnixMilli(), OutboxQueued, OutboxSending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetOutbox returns an entry by client id, or nil when unknown.
func (db *DB) GetOutbox(clientMsgID string) (*OutboxEntry, error) {
	var e OutboxEntry
	err := db.QueryRow(`
		SELECT id, client_msg_id, chat_jid, body, status, error_message, server_msg_id
		FROM outbox WHERE client_msg_id = ?`, clientMsgID).
		Scan(&e.ID, &e.ClientMsgID, &e.ChatJID, &e.Body, &e.Status, &e.ErrorMessage, &e.ServerMsgID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// PendingOutbox returns entries still queued or sending, oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, chat_jid, body, status, error_message, server_msg_id
		FROM outbox WHERE status IN (?, ?) ORDER BY created_at ASC, id ASC`, OutboxQueued, OutboxSending)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.ChatJID, &e.Body, &e.Status, &e.ErrorMessage, &e.ServerMsgID); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
