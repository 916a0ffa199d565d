package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, _, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, result, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Changed || result.Version != 1 {
		t.Errorf("first open = %+v, want changed at version 1", result)
	}
	if got := db.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("max open connections = %d, want 1", got)
	}
	_ = db.Close()

	db, result, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if result.Changed {
		t.Error("reopening should not apply migrations again")
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// Open already migrated once.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
	if result.Dirty {
		t.Error("schema should not be dirty")
	}
}

// TestMigrateSchemaHasRequiredColumns checks the columns ingestion and the
// outbox rely on.
func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"insert chat", "INSERT INTO chats (jid, name, is_group, unread_count, last_message_at, last_message_preview) VALUES (?, ?, ?, ?, ?, ?)", []any{"c@s", "Test", false, 0, 1000, "hi"}},
		{"insert message", "INSERT INTO messages (chat_jid, msg_id, sender_jid, sender_name, body, message_type, from_me, status, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", []any{"c@s", "m1", "s@s", "Sender", "hello", "text", false, "received", 1000}},
		{"insert contact", "INSERT INTO contacts (jid, name, push_name) VALUES (?, ?, ?)", []any{"j@s", "Name", "Push"}},
		{"queue outbox", "INSERT INTO outbox (client_msg_id, chat_jid, body, status) VALUES (?, ?, ?, ?)", []any{"cid", "c@s", "text", "queued"}},
	}

	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}
}

func TestChatUpsertAndList(t *testing.T) {
	db := testDB(t)

	chat := &Chat{JID: "123@s.whatsapp.net", Name: "Alice", LastMessageAt: 1000, LastMessagePreview: "hello"}
	if err := db.UpsertChat(chat); err != nil {
		t.Fatal(err)
	}

	chat.Name = "Alice Updated"
	if err := db.UpsertChat(chat); err != nil {
		t.Fatal(err)
	}

	// An empty name keeps the stored one.
	if err := db.UpsertChat(&Chat{JID: "123@s.whatsapp.net"}); err != nil {
		t.Fatal(err)
	}

	chats, err := db.ListChats(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 {
		t.Fatalf("got %d chats, want 1", len(chats))
	}
	if chats[0].Name != "Alice Updated" {
		t.Errorf("name = %q, want Alice Updated", chats[0].Name)
	}
	if chats[0].LastMessageAt != 1000 {
		t.Errorf("last_message_at = %d, want 1000 (must not move back)", chats[0].LastMessageAt)
	}
}

func TestListChatsOrderAndNames(t *testing.T) {
	db := testDB(t)

	if err := db.TouchChat("old@s.whatsapp.net", 1000, "old", false); err != nil {
		t.Fatal(err)
	}
	if err := db.TouchChat("new@s.whatsapp.net", 3000, "new", false); err != nil {
		t.Fatal(err)
	}
	if err := db.TouchChat("team@g.us", 2000, "grp", false); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertContact(&Contact{JID: "new@s.whatsapp.net", PushName: "Newton"}); err != nil {
		t.Fatal(err)
	}

	chats, err := db.ListChats(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 3 {
		t.Fatalf("got %d chats, want 3", len(chats))
	}
	order := []string{"new@s.whatsapp.net", "team@g.us", "old@s.whatsapp.net"}
	for i, jid := range order {
		if chats[i].JID != jid {
			t.Errorf("chats[%d] = %s, want %s", i, chats[i].JID, jid)
		}
	}
	if chats[0].Name != "Newton" {
		t.Errorf("name = %q, want push name fallback Newton", chats[0].Name)
	}
	if chats[2].Name != "old@s.whatsapp.net" {
		t.Errorf("name = %q, want JID fallback", chats[2].Name)
	}
	if !chats[1].IsGroup {
		t.Error("@g.us chat should be a group")
	}

	limited, err := db.ListChats(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("got %d chats, want 2", len(limited))
	}
}

func TestTouchChatUnread(t *testing.T) {
	db := testDB(t)
	jid := "a@s.whatsapp.net"

	for i, ts := range []int64{1000, 2000} {
		if err := db.TouchChat(jid, ts, "in", false); err != nil {
			t.Fatalf("touch %d: %v", i, err)
		}
	}
	c, err := db.GetChat(jid)
	if err != nil {
		t.Fatal(err)
	}
	if c.UnreadCount != 2 {
		t.Errorf("unread = %d, want 2", c.UnreadCount)
	}

	if err := db.TouchChat(jid, 3000, "out", true); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetChat(jid)
	if c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 after outbound", c.UnreadCount)
	}
	if c.LastMessagePreview != "out" || c.LastMessageAt != 3000 {
		t.Errorf("chat = %+v, want last activity out@3000", c)
	}

	// Late arrivals do not rewind last activity.
	if err := db.TouchChat(jid, 500, "late", false); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetChat(jid)
	if c.LastMessageAt != 3000 || c.LastMessagePreview != "out" {
		t.Errorf("chat = %+v, late message moved last activity", c)
	}
}

func TestGetChat(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&Chat{JID: "a@s", Name: "A"}); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetChat("a@s")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Name != "A" {
		t.Errorf("got %v, want A", c)
	}

	c, err = db.GetChat("missing@s")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Errorf("expected nil for missing chat")
	}
}

func TestRecordMessageCountsOnce(t *testing.T) {
	db := testDB(t)

	msg := &Message{ChatJID: "c@s.whatsapp.net", MsgID: "m1", Body: "hi", Status: StatusReceived, Timestamp: 1000}
	for i := range 3 {
		inserted, err := db.RecordMessage(msg)
		if err != nil {
			t.Fatal(err)
		}
		if inserted != (i == 0) {
			t.Errorf("delivery %d: inserted = %v", i+1, inserted)
		}
		msg.Body = "hi again"
	}

	c, err := db.GetChat("c@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.UnreadCount != 1 {
		t.Fatalf("chat = %+v, want unread 1", c)
	}
	n, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("message count = %d, want 1", n)
	}
	msgs, _ := db.ListMessages("c@s.whatsapp.net", 0, 10)
	if len(msgs) != 1 || msgs[0].Body != "hi again" {
		t.Errorf("messages = %+v, want the refreshed body", msgs)
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	msg := &Message{ChatJID: "chat@s", MsgID: "msg1", Body: "hello", MessageType: "text", Timestamp: 1000}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Body = "hello updated"
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("chat@s", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if msgs[0].Body != "hello updated" {
		t.Errorf("body = %q, want hello updated", msgs[0].Body)
	}
}

func TestListMessagesNewestFirst(t *testing.T) {
	db := testDB(t)

	fixtures := []Message{
		{ChatJID: "c@s", MsgID: "a", Body: "first", Timestamp: 1000},
		{ChatJID: "c@s", MsgID: "b", Body: "second", Timestamp: 2000},
		{ChatJID: "c@s", MsgID: "c", Body: "tie-1", Timestamp: 3000},
		{ChatJID: "c@s", MsgID: "d", Body: "tie-2", Timestamp: 3000},
		{ChatJID: "other@s", MsgID: "x", Body: "elsewhere", Timestamp: 9000},
	}
	for i := range fixtures {
		if err := db.UpsertMessage(&fixtures[i]); err != nil {
			t.Fatal(err)
		}
	}

	want := []string{"d", "c", "b", "a"}
	for run := 0; run < 2; run++ {
		msgs, err := db.ListMessages("c@s", 0, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != len(want) {
			t.Fatalf("got %d messages, want %d", len(msgs), len(want))
		}
		for i, id := range want {
			if msgs[i].MsgID != id {
				t.Errorf("run %d: msgs[%d] = %s, want %s", run, i, msgs[i].MsgID, id)
			}
		}
	}

	page, err := db.ListMessages("c@s", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].MsgID != "d" {
		t.Errorf("limited page = %+v, want the two newest", page)
	}

	older, err := db.ListMessages("c@s", 3000, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(older) != 2 || older[0].MsgID != "b" {
		t.Errorf("keyset page = %+v, want b then a", older)
	}
}

func TestIngestHistory(t *testing.T) {
	db := testDB(t)

	msgs := []*Message{
		{ChatJID: "a@s", MsgID: "m1", Body: "one", Timestamp: 1000, Status: StatusReceived},
		{ChatJID: "a@s", MsgID: "m2", Body: "two", Timestamp: 2000, Status: StatusReceived},
		{ChatJID: "b@g.us", MsgID: "m3", Body: "three", Timestamp: 3000, Status: StatusReceived},
	}
	n, err := db.IngestHistory(msgs)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("chats touched = %d, want 2", n)
	}
	if _, err := db.IngestHistory(msgs); err != nil {
		t.Fatal(err)
	}

	count, _ := db.MessageCount()
	if count != 3 {
		t.Errorf("message count = %d, want 3 (idempotent)", count)
	}
	a, _ := db.GetChat("a@s")
	if a == nil || a.LastMessagePreview != "two" || a.UnreadCount != 0 {
		t.Errorf("chat a = %+v, want preview two and no unread", a)
	}
	b, _ := db.GetChat("b@g.us")
	if b == nil || !b.IsGroup {
		t.Errorf("chat b = %+v, want group", b)
	}
}

func TestReplaceMessageID(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ChatJID: "c@s", MsgID: "tmp", Body: "hi", FromMe: true, Status: StatusPending, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceMessageID("c@s", "tmp", "SRV1", StatusSent); err != nil {
		t.Fatal(err)
	}
	msgs, _ := db.ListMessages("c@s", 0, 10)
	if len(msgs) != 1 || msgs[0].MsgID != "SRV1" || msgs[0].Status != StatusSent {
		t.Errorf("msgs = %+v, want SRV1 sent", msgs)
	}
}

func TestOutbox(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("client1", "chat@s", "test msg"); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending, want 1", len(pending))
	}
	if pending[0].ClientMsgID != "client1" {
		t.Errorf("client_msg_id = %q, want client1", pending[0].ClientMsgID)
	}

	if err := db.MarkOutboxSending("client1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("client1", "server1"); err != nil {
		t.Fatal(err)
	}

	pending, err = db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending after sent, want 0", len(pending))
	}
	e, err := db.GetOutbox("client1")
	if err != nil {
		t.Fatal(err)
	}
	if e == nil || e.Status != OutboxSent || e.ServerMsgID != "server1" {
		t.Errorf("entry = %+v, want sent with server1", e)
	}
}

func TestFailStaleOutbox(t *testing.T) {
	db := testDB(t)

	for _, id := range []string{"q", "s", "done"} {
		if err := db.QueueOutbox(id, "chat@s", "x"); err != nil {
			t.Fatal(err)
		}
	}
	_ = db.MarkOutboxSending("s")
	_ = db.MarkOutboxSent("done", "srv")

	n, err := db.FailStaleOutbox("interrupted")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("failed %d entries, want 2", n)
	}
	e, _ := db.GetOutbox("s")
	if e.Status != OutboxFailed || e.ErrorMessage != "interrupted" {
		t.Errorf("entry = %+v, want failed/interrupted", e)
	}
	done, _ := db.GetOutbox("done")
	if done.Status != OutboxSent {
		t.Errorf("sent entry changed to %s", done.Status)
	}
}

func TestContact(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertContact(&Contact{JID: "j@s", Name: "John", PushName: "Johnny"}); err != nil {
		t.Fatal(err)
	}
	// Empty fields never erase names.
	if err := db.BulkUpsertContacts([]Contact{{JID: "j@s"}, {JID: "k@s", PushName: "Kay"}}); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetContact("j@s")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.PushName != "Johnny" || c.Name != "John" {
		t.Errorf("got %v, want John/Johnny", c)
	}
	k, _ := db.GetContact("k@s")
	if k == nil || k.PushName != "Kay" {
		t.Errorf("got %v, want Kay", k)
	}
}
