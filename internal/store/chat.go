package store

import (
	"database/sql"
	"errors"
	"time"
)

// UpsertChat stores chat metadata as reported by the server (history
// sync). A non-empty name replaces the stored one. The unread counter is
// taken as given; last activity only moves forward.
func (db *DB) UpsertChat(c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (jid, name, is_group, unread_count, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE chats.name END,
			is_group = excluded.is_group,
			unread_count = excluded.unread_count,
			last_message_preview = CASE WHEN excluded.last_message_at > chats.last_message_at AND excluded.last_message_preview != ''
				THEN excluded.last_message_preview ELSE chats.last_message_preview END,
			last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
			updated_at = excluded.updated_at`,
		c.JID, c.Name, c.IsGroup || IsGroupJID(c.JID), c.UnreadCount, c.LastMessageAt, preview(c.LastMessagePreview), now)
	return err
}

// TouchChat records live activity in a chat, creating it when needed.
// Inbound messages increment the unread counter; outbound ones reset it.
func (db *DB) TouchChat(jid string, at int64, body string, fromMe bool) error {
	return touchChat(db, jid, at, body, fromMe)
}

func touchChat(ex execer, jid string, at int64, body string, fromMe bool) error {
	now := time.Now().UnixMilli()
	unread := 1
	if fromMe {
		unread = 0
	}
	_, err := ex.Exec(`
		INSERT INTO chats (jid, is_group, unread_count, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			unread_count = CASE WHEN ? THEN 0 ELSE chats.unread_count + 1 END,
			last_message_preview = CASE WHEN excluded.last_message_at >= chats.last_message_at
				THEN excluded.last_message_preview ELSE chats.last_message_preview END,
			last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
			updated_at = excluded.updated_at`,
		jid, IsGroupJID(jid), unread, at, preview(body), now, fromMe)
	return err
}

const chatColumns = `
		SELECT c.jid,
			COALESCE(NULLIF(c.name,''), NULLIF(ct.name,''), NULLIF(ct.push_name,''), c.jid) AS display_name,
			c.is_group, c.unread_count, c.last_message_at, c.last_message_preview
		FROM chats c
		LEFT JOIN contacts ct ON c.jid = ct.jid`

// ListChats returns chats ordered by last activity, most recent first.
// Display names fall back from chat name to contact name, push name and
// finally the JID. limit <= 0 returns every chat.
func (db *DB) ListChats(limit int) ([]Chat, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(chatColumns+`
		ORDER BY c.last_message_at DESC, c.jid ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.JID, &c.Name, &c.IsGroup, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat, or nil when it is unknown.
func (db *DB) GetChat(jid string) (*Chat, error) {
	var c Chat
	err := db.QueryRow(chatColumns+`
		WHERE c.jid = ?`, jid).
		Scan(&c.JID, &c.Name, &c.IsGroup, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
