package repo

import (
	"testing"
	"time"
)

func conv(id int, name string) Conversation {
	return Conversation{ID: id, Name: name}
}

func TestUpsertPageReplaceIsIdempotent(t *testing.T) {
	r := New(nil)
	page := []Conversation{conv(1, "a"), conv(2, "b")}
	meta := PageMeta{CurrentPage: 1, LastPage: 3}

	r.UpsertPage(EntityLeads, page, meta, PageReplace)
	r.UpsertPage(EntityLeads, page, meta, PageReplace)

	got := r.List(EntityLeads)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != 1 || got[1].ID != 2 {
		t.Errorf("order = [%d %d], want [1 2]", got[0].ID, got[1].ID)
	}
	if m := r.Meta(EntityLeads); m != meta {
		t.Errorf("meta = %+v, want %+v", m, meta)
	}
}

func TestUpsertPageAppendDedupes(t *testing.T) {
	r := New(nil)
	r.UpsertPage(EntityClients, []Conversation{conv(1, "a"), conv(2, "b")},
		PageMeta{CurrentPage: 1, LastPage: 2}, PageReplace)
	// Page 2 overlaps with page 1 (an item shifted between fetches).
	r.UpsertPage(EntityClients, []Conversation{conv(2, "b2"), conv(3, "c")},
		PageMeta{CurrentPage: 2, LastPage: 2}, PageAppend)

	got := r.List(EntityClients)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[1].Name != "b2" {
		t.Errorf("overlapping entry name = %q, want last-write-wins %q", got[1].Name, "b2")
	}
}

func TestUpsertPagePreservesLocalState(t *testing.T) {
	r := New(nil)
	r.UpsertPage(EntityLeads, []Conversation{conv(1, "a")}, PageMeta{}, PageReplace)
	r.SetDraft(EntityLeads, 1, "half-typed")

	r.UpsertPage(EntityLeads, []Conversation{conv(1, "a renamed")}, PageMeta{}, PageReplace)

	got, ok := r.Find(EntityLeads, 1)
	if !ok {
		t.Fatal("conversation missing after refetch")
	}
	if got.Name != "a renamed" {
		t.Errorf("Name = %q, want server value", got.Name)
	}
	if got.DraftMessage != "half-typed" {
		t.Errorf("DraftMessage = %q, want preserved draft", got.DraftMessage)
	}
}

func TestEntityListsAreIndependent(t *testing.T) {
	r := New(nil)
	r.UpsertPage(EntityLeads, []Conversation{conv(7, "lead")}, PageMeta{}, PageReplace)
	r.UpsertPage(EntityClients, []Conversation{conv(7, "client")}, PageMeta{}, PageReplace)

	lead, _ := r.Find(EntityLeads, 7)
	client, _ := r.Find(EntityClients, 7)
	if lead.Name == client.Name {
		t.Error("same id in different entity lists must be distinct conversations")
	}
}

func TestMoveToTopAndInsertTop(t *testing.T) {
	r := New(nil)
	r.UpsertPage(EntityLeads, []Conversation{conv(1, "a"), conv(2, "b"), conv(3, "c")},
		PageMeta{}, PageReplace)

	if !r.MoveToTop(EntityLeads, 3) {
		t.Fatal("MoveToTop returned false for present id")
	}
	if got := r.List(EntityLeads); got[0].ID != 3 {
		t.Errorf("head = %d, want 3", got[0].ID)
	}
	if r.MoveToTop(EntityLeads, 99) {
		t.Error("MoveToTop returned true for absent id")
	}

	r.InsertTop(EntityLeads, conv(4, "d"))
	got := r.List(EntityLeads)
	if got[0].ID != 4 || len(got) != 4 {
		t.Errorf("after InsertTop head = %d len = %d, want 4 and 4", got[0].ID, len(got))
	}

	// Inserting an existing id must not duplicate.
	r.InsertTop(EntityLeads, conv(2, "b"))
	got = r.List(EntityLeads)
	if len(got) != 4 {
		t.Fatalf("len = %d after duplicate insert, want 4", len(got))
	}
	if got[0].ID != 2 {
		t.Errorf("duplicate insert should move to top, head = %d", got[0].ID)
	}
}

func TestUnreadCounters(t *testing.T) {
	r := New(nil)
	r.UpsertPage(EntityLeads, []Conversation{conv(1, "a")}, PageMeta{}, PageReplace)

	r.IncrementUnread(EntityLeads, 1, 1)
	r.IncrementUnread(EntityLeads, 1, 1)
	if got, _ := r.Find(EntityLeads, 1); got.UnreadCount != 2 {
		t.Errorf("UnreadCount = %d, want 2", got.UnreadCount)
	}

	r.ResetUnread(EntityLeads, 1)
	if got, _ := r.Find(EntityLeads, 1); got.UnreadCount != 0 {
		t.Errorf("UnreadCount after reset = %d, want 0", got.UnreadCount)
	}

	// Absent conversation: no panic, no effect.
	r.IncrementUnread(EntityLeads, 42, 1)
	r.ResetUnread(EntityClients, 1)
}

func TestSetActiveClearsMessages(t *testing.T) {
	r := New(nil)
	r.UpsertPage(EntityLeads, []Conversation{conv(1, "a")}, PageMeta{}, PageReplace)

	key := r.SetActive(Selection{Entity: EntityLeads, ID: 1, ContactID: 10})
	r.SetActiveMessages([]Message{{ID: 100, Text: "hi"}}, PageMeta{CurrentPage: 1, LastPage: 1}, PageReplace, key)

	r.SetActive(Selection{Entity: EntityLeads, ID: 1, ContactID: 11})
	if msgs := r.ActiveMessages(); len(msgs) != 0 {
		t.Errorf("messages survived a selection change: %d", len(msgs))
	}

	active, ok := r.Active()
	if !ok {
		t.Fatal("no active conversation")
	}
	if active.Name != "a" {
		t.Errorf("active not seeded from list entry, Name = %q", active.Name)
	}
}

func TestStaleKeyResultsDiscarded(t *testing.T) {
	r := New(nil)
	oldKey := r.SetActive(Selection{Entity: EntityLeads, ID: 1, ContactID: 10})
	newKey := r.SetActive(Selection{Entity: EntityClients, ID: 2, ContactID: 20})

	if r.SetActiveMessages([]Message{{ID: 1}}, PageMeta{}, PageReplace, oldKey) {
		t.Error("stale message page was applied")
	}
	if r.SetActiveDetails(Conversation{ID: 1, Name: "stale"}, oldKey) {
		t.Error("stale detail fetch was applied")
	}
	if len(r.ActiveMessages()) != 0 {
		t.Error("stale messages leaked into the new selection")
	}

	if !r.SetActiveMessages([]Message{{ID: 2}}, PageMeta{}, PageReplace, newKey) {
		t.Error("current page rejected")
	}
	if !r.Matches(newKey) || r.Matches(oldKey) {
		t.Error("key matching inverted")
	}
}

func TestSetActiveDetailsKeepsMessages(t *testing.T) {
	r := New(nil)
	key := r.SetActive(Selection{Entity: EntityLeads, ID: 1})
	r.SetActiveMessages([]Message{{ID: 5, Text: "kept"}}, PageMeta{}, PageReplace, key)

	r.SetActiveDetails(Conversation{ID: 1, Name: "detail"}, key)

	active, _ := r.Active()
	if active.Name != "detail" {
		t.Errorf("Name = %q", active.Name)
	}
	if len(active.Messages) != 1 || active.Messages[0].Text != "kept" {
		t.Error("detail fetch clobbered the message list")
	}
}

func TestAppendPageUpdatesInPlace(t *testing.T) {
	r := New(nil)
	key := r.SetActive(Selection{Entity: EntityLeads, ID: 1})
	r.SetActiveMessages([]Message{{ID: 3}, {ID: 2}}, PageMeta{CurrentPage: 1, LastPage: 2}, PageReplace, key)
	r.SetActiveMessages([]Message{{ID: 2, Text: "updated"}, {ID: 1}}, PageMeta{CurrentPage: 2, LastPage: 2}, PageAppend, key)

	msgs := r.ActiveMessages()
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	if msgs[0].ID != 3 || msgs[1].ID != 2 || msgs[2].ID != 1 {
		t.Errorf("order = [%d %d %d], want [3 2 1]", msgs[0].ID, msgs[1].ID, msgs[2].ID)
	}
	if msgs[1].Text != "updated" {
		t.Error("overlapping message not updated in place")
	}
}

func TestOptimisticConvergence(t *testing.T) {
	temp := Message{
		ClientMessageUID: "msg_1_abc",
		Status:           StatusSending,
		Text:             "hello",
		FromMe:           true,
		Timestamp:        time.Now(),
	}
	confirmed := Message{
		ID:               900,
		ClientMessageUID: "msg_1_abc",
		Status:           StatusSent,
		Text:             "hello",
		FromMe:           true,
	}

	// Order A: send ack lands before the realtime echo.
	ra := New(nil)
	ra.SetActive(Selection{Entity: EntityLeads, ID: 1})
	ra.AddTempMessage(temp)
	if !ra.UpdateTempStatus(temp.ClientMessageUID, StatusSent, "") {
		t.Fatal("ack path: status update rejected")
	}
	ra.MergeActiveMessage(confirmed)

	// Order B: realtime echo lands before the send ack.
	rb := New(nil)
	rb.SetActive(Selection{Entity: EntityLeads, ID: 1})
	rb.AddTempMessage(temp)
	rb.MergeActiveMessage(confirmed)
	if rb.UpdateTempStatus(temp.ClientMessageUID, StatusSent, "") {
		t.Error("ack path: confirmed message should be left alone")
	}

	for name, r := range map[string]*Repo{"ack-first": ra, "realtime-first": rb} {
		msgs := r.ActiveMessages()
		if len(msgs) != 1 {
			t.Fatalf("%s: len = %d, want 1 (no duplicate)", name, len(msgs))
		}
		if msgs[0].ID != 900 || msgs[0].Status != StatusSent {
			t.Errorf("%s: final = {ID:%d Status:%s}, want confirmed sent", name, msgs[0].ID, msgs[0].Status)
		}
	}
}

func TestMergeUnknownMessagePrepends(t *testing.T) {
	r := New(nil)
	key := r.SetActive(Selection{Entity: EntityLeads, ID: 1})
	r.SetActiveMessages([]Message{{ID: 1, Text: "old"}}, PageMeta{}, PageReplace, key)

	r.MergeActiveMessage(Message{ID: 2, Text: "new"})

	msgs := r.ActiveMessages()
	if len(msgs) != 2 || msgs[0].ID != 2 {
		t.Errorf("incoming message not prepended, got %+v", msgs)
	}
}

func TestUpdateTempStatusErrorPath(t *testing.T) {
	r := New(nil)
	r.SetActive(Selection{Entity: EntityLeads, ID: 1})
	r.AddTempMessage(Message{ClientMessageUID: "msg_2_xyz", Status: StatusSending})

	if !r.UpdateTempStatus("msg_2_xyz", StatusError, "recipient blocked the bot") {
		t.Fatal("status update rejected")
	}
	msgs := r.ActiveMessages()
	if msgs[0].Status != StatusError || msgs[0].StatusDetail != "recipient blocked the bot" {
		t.Errorf("got %+v", msgs[0])
	}

	if r.UpdateTempStatus("no-such-uid", StatusSent, "") {
		t.Error("unknown uid should be a no-op")
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	r := New(nil)
	r.UpsertPage(EntityLeads, []Conversation{{ID: 1, Contacts: []Contact{{ID: 1}}}}, PageMeta{}, PageReplace)

	got, _ := r.Find(EntityLeads, 1)
	got.Name = "mutated"
	got.Contacts[0].FirstName = "mutated"

	again, _ := r.Find(EntityLeads, 1)
	if again.Name == "mutated" || again.Contacts[0].FirstName == "mutated" {
		t.Error("accessor leaked internal state")
	}
}
