package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/smsdesk/internal/model"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var base = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, db *DB, phone string, n int, dir model.Direction) {
	t.Helper()
	for i := 1; i <= n; i++ {
		m := &model.Message{
			ID:        fmt.Sprintf("%s-%d", phone, i),
			Phone:     phone,
			Direction: dir,
			Body:      fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if _, err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
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
}

func TestUpsertMessageIdempotent(t *testing.T) {
	db := testDB(t)

	msg := &model.Message{ID: "m1", Phone: "+15551234567", Direction: model.Inbound, Body: "hello", CreatedAt: base}
	isNew, err := db.UpsertMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if !isNew {
		t.Error("first upsert should report a new message")
	}

	msg.Body = "hello updated"
	isNew, err = db.UpsertMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if isNew {
		t.Error("second upsert should not report a new message")
	}

	msgs, _, err := db.ListMessages("+15551234567", 0, 100, "")
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

func TestListMessagesPagesFromNewest(t *testing.T) {
	db := testDB(t)
	seed(t, db, "+1", 25, model.Inbound)

	page, more, err := db.ListMessages("+1", 0, 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if !more || len(page) != 10 {
		t.Fatalf("first page: len=%d more=%v", len(page), more)
	}
	if page[0].ID != "+1-16" || page[9].ID != "+1-25" {
		t.Errorf("first page spans %s..%s, want +1-16..+1-25", page[0].ID, page[9].ID)
	}

	page, more, err = db.ListMessages("+1", 20, 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if more || len(page) != 5 || page[0].ID != "+1-1" {
		t.Errorf("last page: len=%d more=%v first=%s", len(page), more, page[0].ID)
	}
}

func TestListMessagesBodyQuery(t *testing.T) {
	db := testDB(t)
	seed(t, db, "+1", 3, model.Inbound)
	if _, err := db.UpsertMessage(&model.Message{ID: "pct", Phone: "+1", Direction: model.Inbound, Body: "100% off", CreatedAt: base}); err != nil {
		t.Fatal(err)
	}

	got, _, err := db.ListMessages("+1", 0, 10, "message 2")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "+1-2" {
		t.Errorf("got %v, want +1-2", got)
	}

	got, _, err = db.ListMessages("+1", 0, 10, "0%")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "pct" {
		t.Errorf("literal %% search got %d rows", len(got))
	}
}

func TestAttachmentsRoundTrip(t *testing.T) {
	db := testDB(t)
	msg := &model.Message{
		ID: "mms1", Phone: "+1", Direction: model.Inbound, Kind: model.KindMMS, CreatedAt: base,
		Attachments: []model.Attachment{
			{ID: "a1", ContentType: "image/png", Filename: "one.png", URL: "http://x/1"},
			{ID: "a2", ContentType: "application/pdf", Filename: "two.pdf", URL: "http://x/2"},
		},
	}
	if _, err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetMessage("mms1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Attachments) != 2 || got.Attachments[0].ID != "a1" || got.Attachments[1].Filename != "two.pdf" {
		t.Errorf("attachments = %+v", got.Attachments)
	}

	conv, err := db.GetConversation("+1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.LastMessagePreview != "[2 attachments]" {
		t.Errorf("preview = %q", conv.LastMessagePreview)
	}
}

func TestConversationSummaryCounts(t *testing.T) {
	db := testDB(t)
	seed(t, db, "+15551234567", 3, model.Inbound)
	if _, err := db.UpsertMessage(&model.Message{ID: "out", Phone: "+15551234567", Direction: model.Outbound, Body: "reply", CreatedAt: base.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetConversation("+15551234567")
	if err != nil {
		t.Fatal(err)
	}
	if c.MessageCount != 4 || c.UnreadCount != 3 {
		t.Errorf("count=%d unread=%d, want 4/3", c.MessageCount, c.UnreadCount)
	}
	if c.LastMessageID != "out" || c.LastMessagePreview != "reply" {
		t.Errorf("last = %s %q", c.LastMessageID, c.LastMessagePreview)
	}

	n, err := db.SetRead("+15551234567", []string{"+15551234567-1"}, true)
	if err != nil || n != 1 {
		t.Fatalf("SetRead = %d, %v", n, err)
	}
	n, err = db.SetRead("+15551234567", nil, true)
	if err != nil || n != 2 {
		t.Fatalf("SetRead(all) = %d, %v", n, err)
	}
	c, _ = db.GetConversation("+15551234567")
	if c.UnreadCount != 0 {
		t.Errorf("unread = %d after marking all read", c.UnreadCount)
	}

	ids, err := db.InboundMessageIDs("+15551234567")
	if err != nil || len(ids) != 3 {
		t.Fatalf("InboundMessageIDs = %v, %v", ids, err)
	}
}

func TestListConversationsSearchAndTotal(t *testing.T) {
	db := testDB(t)
	seed(t, db, "+15551234567", 1, model.Inbound)
	seed(t, db, "+15559876543", 2, model.Inbound)
	seed(t, db, "+442071234567", 1, model.Inbound)

	all, total, err := db.ListConversations(0, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(all) != 2 {
		t.Fatalf("total=%d len=%d", total, len(all))
	}
	if all[0].Phone != "+15559876543" {
		t.Errorf("newest conversation = %s", all[0].Phone)
	}

	found, total, err := db.ListConversations(0, 10, "(555) 123")
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || found[0].Phone != "+15551234567" {
		t.Errorf("search found %v total %d", found, total)
	}

	none, total, err := db.ListConversations(0, 10, "abc")
	if err != nil || total != 0 || len(none) != 0 {
		t.Errorf("non-digit search = %v %d %v", none, total, err)
	}
}

func TestDeleteMessagesRefreshesSummary(t *testing.T) {
	db := testDB(t)
	seed(t, db, "+1", 3, model.Inbound)

	n, err := db.DeleteMessages("+1", []string{"+1-3", "+1-2", "other"})
	if err != nil || n != 2 {
		t.Fatalf("DeleteMessages = %d, %v", n, err)
	}
	c, err := db.GetConversation("+1")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastMessageID != "+1-1" || c.MessageCount != 1 {
		t.Errorf("summary after delete = %+v", c)
	}
}

func TestDeleteConversationCascades(t *testing.T) {
	db := testDB(t)
	seed(t, db, "+1", 2, model.Inbound)

	if err := db.DeleteConversation("+1"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetConversation("+1"); !IsNotFound(err) {
		t.Errorf("GetConversation after delete: %v", err)
	}
	if _, err := db.GetMessage("+1-1"); !IsNotFound(err) {
		t.Errorf("message survived conversation delete: %v", err)
	}
	if err := db.DeleteConversation("+1"); !IsNotFound(err) {
		t.Errorf("second delete: %v", err)
	}
}

func TestOutbox(t *testing.T) {
	db := testDB(t)

	entry := &OutboxEntry{
		ClientMsgID: "client1",
		Phone:       "+1",
		Body:        "test msg",
		Media:       []Media{{ID: "f1", ContentType: "image/png", Filename: "a.png", URL: "http://h/f1"}},
	}
	if err := db.QueueOutbox(entry); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox(entry); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending, want 1", len(pending))
	}
	if pending[0].ClientMsgID != "client1" || len(pending[0].Media) != 1 {
		t.Errorf("pending = %+v", pending[0])
	}

	if err := db.MarkOutboxSending("client1"); err != nil {
		t.Fatal(err)
	}
	if n, err := db.RequeueStale(); err != nil || n != 1 {
		t.Fatalf("RequeueStale = %d, %v", n, err)
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
	got, err := db.GetOutbox("client1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != OutboxSent || got.ServerMsgID != "server1" {
		t.Errorf("entry = %+v", got)
	}
	if err := db.MarkOutboxFailed("missing", "x"); !IsNotFound(err) {
		t.Errorf("MarkOutboxFailed(missing) = %v", err)
	}
}

func TestFiles(t *testing.T) {
	db := testDB(t)

	if err := db.SaveFile(&File{ID: "f1", Path: "/tmp/f1", ContentType: "image/png", Filename: "a.png", Size: 3}); err != nil {
		t.Fatal(err)
	}
	f, err := db.GetFile("f1")
	if err != nil {
		t.Fatal(err)
	}
	if f.Filename != "a.png" || f.Size != 3 {
		t.Errorf("file = %+v", f)
	}
	if _, err := db.GetFile("nope"); !IsNotFound(err) {
		t.Errorf("GetFile(nope) = %v", err)
	}
}

func TestCounts(t *testing.T) {
	db := testDB(t)
	seed(t, db, "+1", 3, model.Inbound)
	seed(t, db, "+2", 2, model.Outbound)
	if err := db.QueueOutbox(&OutboxEntry{ClientMsgID: "c1", Phone: "+1", Body: "x"}); err != nil {
		t.Fatal(err)
	}

	if n, err := db.ConversationCount(); err != nil || n != 2 {
		t.Errorf("ConversationCount = %d, %v; want 2", n, err)
	}
	if n, err := db.MessageCount(); err != nil || n != 5 {
		t.Errorf("MessageCount = %d, %v; want 5", n, err)
	}
	if n, err := db.QueuedOutboxCount(); err != nil || n != 1 {
		t.Errorf("QueuedOutboxCount = %d, %v; want 1", n, err)
	}
}
