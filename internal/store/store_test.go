package store

import (
	"errors"
	"testing"
)

func testStore() *Store {
	s := New("self")
	s.Populate([]Chat{
		{ID: "c1", CreatedAt: 1000, Participants: []User{{ID: "self"}, {ID: "u2", Name: "Bea"}}},
		{ID: "c2", CreatedAt: 2000},
		{ID: "c3", CreatedAt: 3000},
	}, []User{
		{ID: "self", Name: "Ana"},
		{ID: "u2", Name: "Bea"},
	})
	return s
}

func TestPopulateOrdersByRecency(t *testing.T) {
	s := testStore()
	chats := s.Chats()
	if len(chats) != 3 {
		t.Fatalf("got %d chats, want 3", len(chats))
	}
	if chats[0].ID != "c3" || chats[2].ID != "c1" {
		t.Errorf("order = %s,%s,%s, want c3,c2,c1", chats[0].ID, chats[1].ID, chats[2].ID)
	}
}

func TestAppendMessageMovesToFront(t *testing.T) {
	s := testStore()
	if err := s.AppendMessage("c1", Message{ID: "m1", SenderID: "u2", Content: "hi", Timestamp: 5000, Type: TypeText, Status: StatusSent}); err != nil {
		t.Fatal(err)
	}

	chats := s.Chats()
	if chats[0].ID != "c1" {
		t.Errorf("front chat = %s, want c1", chats[0].ID)
	}
	// Relative order of the others is unchanged.
	if chats[1].ID != "c3" || chats[2].ID != "c2" {
		t.Errorf("rest order = %s,%s, want c3,c2", chats[1].ID, chats[2].ID)
	}
	if chats[0].LastMessage == nil || chats[0].LastMessage.ID != "m1" {
		t.Error("LastMessage not updated")
	}
}

func TestAppendMessageIdempotent(t *testing.T) {
	s := testStore()
	m := Message{ID: "m1", SenderID: "u2", Content: "hi", Timestamp: 5000, Type: TypeText, Status: StatusSent}
	if err := s.AppendMessage("c1", m); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendMessage("c1", m); err != nil {
		t.Fatal(err)
	}

	c, _ := s.Chat("c1")
	if len(c.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(c.Messages))
	}
	if c.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1 (duplicate must not double-count)", c.UnreadCount)
	}
}

func TestAppendMessageUnknownChat(t *testing.T) {
	s := testStore()
	err := s.AppendMessage("nope", Message{ID: "m1"})
	if !errors.Is(err, ErrUnknownChat) {
		t.Errorf("err = %v, want ErrUnknownChat", err)
	}
}

func TestUnreadAccounting(t *testing.T) {
	s := testStore()
	s.Select("c2")

	for i, id := range []string{"m1", "m2", "m3"} {
		if err := s.AppendMessage("c1", Message{ID: id, SenderID: "u2", Timestamp: int64(5000 + i)}); err != nil {
			t.Fatal(err)
		}
	}
	c, _ := s.Chat("c1")
	if c.UnreadCount != 3 {
		t.Errorf("unread = %d, want 3", c.UnreadCount)
	}

	// Own messages never count as unread.
	_ = s.AppendMessage("c1", Message{ID: "m4", SenderID: "self", Timestamp: 6000})
	c, _ = s.Chat("c1")
	if c.UnreadCount != 3 {
		t.Errorf("unread after own message = %d, want 3", c.UnreadCount)
	}

	// Messages into the selected chat never count.
	_ = s.AppendMessage("c2", Message{ID: "m5", SenderID: "u2", Timestamp: 7000})
	c2, _ := s.Chat("c2")
	if c2.UnreadCount != 0 {
		t.Errorf("selected chat unread = %d, want 0", c2.UnreadCount)
	}

	// Selecting the chat clears unread exactly once.
	if !s.Select("c1") {
		t.Error("Select(c1) = false, want true (unread changed)")
	}
	if s.Select("c1") {
		t.Error("second Select(c1) = true, want false (no change)")
	}
	c, _ = s.Chat("c1")
	if c.UnreadCount != 0 {
		t.Errorf("unread after select = %d, want 0", c.UnreadCount)
	}
}

func TestStatusForwardOnly(t *testing.T) {
	s := testStore()
	_ = s.AppendMessage("c1", Message{ID: "m1", SenderID: "self", Status: StatusSent, Timestamp: 5000})

	if !s.UpdateMessageStatus("c1", "m1", StatusDelivered) {
		t.Error("sent -> delivered should apply")
	}
	if !s.UpdateMessageStatus("c1", "m1", StatusRead) {
		t.Error("delivered -> read should apply")
	}
	if s.UpdateMessageStatus("c1", "m1", StatusDelivered) {
		t.Error("read -> delivered must not regress")
	}

	c, _ := s.Chat("c1")
	if c.Messages[0].Status != StatusRead {
		t.Errorf("status = %s, want read", c.Messages[0].Status)
	}
}

func TestStatusUpdateMissingIsNoop(t *testing.T) {
	s := testStore()
	if s.UpdateMessageStatus("c1", "ghost", StatusDelivered) {
		t.Error("update for missing message should be a no-op")
	}
	if s.UpdateMessageStatus("ghost", "m1", StatusDelivered) {
		t.Error("update for missing chat should be a no-op")
	}
}

func TestMarkFailedTerminal(t *testing.T) {
	s := testStore()
	_ = s.AppendMessage("c1", Message{ID: "local:msg:1:abc", SenderID: "self", Status: StatusPending, Timestamp: 5000})

	if !s.MarkFailed("c1", "local:msg:1:abc", "offline") {
		t.Fatal("MarkFailed should apply to a pending message")
	}
	c, _ := s.Chat("c1")
	if c.Messages[0].Status != StatusFailed || c.Messages[0].ErrorReason != "offline" {
		t.Errorf("message = %+v, want failed/offline", c.Messages[0])
	}
	// LastMessage still points at the failed message.
	if c.LastMessage == nil || c.LastMessage.ID != "local:msg:1:abc" {
		t.Error("LastMessage should still reference the failed message")
	}
	// Failed is terminal.
	if s.UpdateMessageStatus("c1", "local:msg:1:abc", StatusSent) {
		t.Error("failed -> sent must not apply")
	}
}

func TestReplaceLocalID(t *testing.T) {
	s := testStore()
	_ = s.AppendMessage("c1", Message{ID: "local:msg:1:abc", SenderID: "self", Content: "hi", Status: StatusPending, Timestamp: 5000})

	if !s.ReplaceLocalID("c1", "local:msg:1:abc", "srv-9") {
		t.Fatal("ReplaceLocalID should apply")
	}
	c, _ := s.Chat("c1")
	if len(c.Messages) != 1 || c.Messages[0].ID != "srv-9" || c.Messages[0].Content != "hi" {
		t.Errorf("messages = %+v, want single srv-9 with same content", c.Messages)
	}
	if c.LastMessage.ID != "srv-9" {
		t.Errorf("LastMessage.ID = %s, want srv-9", c.LastMessage.ID)
	}
}

// The broadcast for our own message can arrive before the acknowledgement.
// Whichever order they land in, exactly one message with the confirmed id
// must remain.
func TestReplaceLocalIDAfterBroadcast(t *testing.T) {
	s := testStore()
	_ = s.AppendMessage("c1", Message{ID: "local:msg:1:abc", SenderID: "self", Content: "hi", Status: StatusPending, Timestamp: 5000})
	_ = s.AppendMessage("c1", Message{ID: "srv-9", SenderID: "self", Content: "hi", Status: StatusSent, Timestamp: 5001})

	if !s.ReplaceLocalID("c1", "local:msg:1:abc", "srv-9") {
		t.Fatal("ReplaceLocalID should still apply by dropping the local entry")
	}
	c, _ := s.Chat("c1")
	if len(c.Messages) != 1 || c.Messages[0].ID != "srv-9" {
		t.Errorf("messages = %+v, want exactly one srv-9", c.Messages)
	}
}

func TestUpsertChatDedup(t *testing.T) {
	s := testStore()
	before := len(s.Chats())

	// Ack and broadcast for the same new group may both arrive.
	s.UpsertChat(Chat{ID: "g1", IsGroup: true, Name: "Team", CreatedAt: 9000})
	s.UpsertChat(Chat{ID: "g1", IsGroup: true, Name: "Team", CreatedAt: 9000})

	chats := s.Chats()
	if len(chats) != before+1 {
		t.Fatalf("got %d chats, want %d", len(chats), before+1)
	}
	if chats[0].ID != "g1" {
		t.Errorf("front chat = %s, want g1 (most recent)", chats[0].ID)
	}
}

func TestUpsertChatPreservesPendingMessages(t *testing.T) {
	s := testStore()
	_ = s.AppendMessage("c1", Message{ID: "local:msg:1:abc", SenderID: "self", Content: "pending", Status: StatusPending, Timestamp: 9000})

	// Server refresh that does not yet know about the in-flight message.
	s.UpsertChat(Chat{
		ID:        "c1",
		Messages:  []Message{{ID: "srv-1", SenderID: "u2", Content: "old", Status: StatusRead, Timestamp: 4000}},
		CreatedAt: 1000,
	})

	c, _ := s.Chat("c1")
	if len(c.Messages) != 2 {
		t.Fatalf("got %d messages, want 2 (server message + preserved pending)", len(c.Messages))
	}
	if c.Messages[1].ID != "local:msg:1:abc" {
		t.Errorf("pending message lost: %+v", c.Messages)
	}
}

func TestSetUserOnlineRefreshesParticipants(t *testing.T) {
	s := testStore()
	s.SetUserOnline("u2", true)

	c, _ := s.Chat("c1")
	var found bool
	for _, p := range c.Participants {
		if p.ID == "u2" {
			found = true
			if !p.IsOnline {
				t.Error("participant copy not refreshed to online")
			}
		}
	}
	if !found {
		t.Fatal("participant u2 missing")
	}
	if u, _ := s.User("u2"); !u.IsOnline {
		t.Error("directory entry not refreshed")
	}
}

func TestResetClearsEverything(t *testing.T) {
	s := testStore()
	s.Select("c1")
	s.Reset()

	if len(s.Chats()) != 0 || len(s.Users()) != 0 || s.Selected() != "" {
		t.Error("Reset left state behind")
	}
}

// Online flags in a snapshot payload carry no authority: the presence
// tracker pushes the real set in afterwards via SetUserOnline. A payload
// claiming a user online must not leak into the directory or the
// participant copies.
func TestPopulateDropsEmbeddedOnlineFlags(t *testing.T) {
	s := New("self")
	s.Populate([]Chat{
		{ID: "c1", CreatedAt: 1000, Participants: []User{
			{ID: "self"},
			{ID: "u2", Name: "Bea", IsOnline: true},
		}},
	}, []User{
		{ID: "self", Name: "Ana"},
		{ID: "u2", Name: "Bea", IsOnline: true},
	})

	if u, _ := s.User("u2"); u.IsOnline {
		t.Error("directory entry kept the payload's online flag")
	}
	c, _ := s.Chat("c1")
	for _, p := range c.Participants {
		if p.IsOnline {
			t.Errorf("participant %s kept the payload's online flag", p.ID)
		}
	}

	s.SetUserOnline("u2", true)
	if u, _ := s.User("u2"); !u.IsOnline {
		t.Error("tracker push did not set the flag")
	}
}

func TestUpsertChatTakesOnlineFlagsFromDirectory(t *testing.T) {
	s := testStore()
	s.SetUserOnline("u2", true)

	s.UpsertChat(Chat{ID: "c9", CreatedAt: 9000, Participants: []User{
		{ID: "u2", Name: "Bea"},
		{ID: "u7", Name: "Gil", IsOnline: true},
	}})

	c, _ := s.Chat("c9")
	for _, p := range c.Participants {
		switch p.ID {
		case "u2":
			if !p.IsOnline {
				t.Error("u2 should mirror the directory's online flag")
			}
		case "u7":
			if p.IsOnline {
				t.Error("u7's payload flag should be discarded")
			}
		}
	}
}

func TestMarkRead(t *testing.T) {
	s := testStore()
	_ = s.AppendMessage("c1", Message{ID: "m1", SenderID: "u2", Timestamp: 5000, Type: TypeText, Status: StatusDelivered})

	if !s.MarkRead("c1") {
		t.Error("MarkRead(c1) = false, want true with unread pending")
	}
	if c, _ := s.Chat("c1"); c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", c.UnreadCount)
	}
	if s.MarkRead("c1") {
		t.Error("MarkRead(c1) = true on second call, want false")
	}
	if s.MarkRead("nope") {
		t.Error("MarkRead(nope) = true, want false")
	}
}

func TestReorderToFront(t *testing.T) {
	s := testStore()

	s.ReorderToFront("c1")
	chats := s.Chats()
	if chats[0].ID != "c1" {
		t.Fatalf("front chat = %s, want c1", chats[0].ID)
	}
	if chats[1].ID != "c3" || chats[2].ID != "c2" {
		t.Errorf("rest = %s,%s, want c3,c2 stable", chats[1].ID, chats[2].ID)
	}

	// Unknown id leaves the order alone.
	s.ReorderToFront("nope")
	if again := s.Chats(); again[0].ID != "c1" {
		t.Errorf("front chat = %s after unknown id, want c1", again[0].ID)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := testStore()
	_ = s.AppendMessage("c1", Message{ID: "m1", SenderID: "u2", Timestamp: 5000})

	c, _ := s.Chat("c1")
	c.Messages[0].Content = "mutated"
	c.Participants[0].Name = "mutated"

	again, _ := s.Chat("c1")
	if again.Messages[0].Content == "mutated" || again.Participants[0].Name == "mutated" {
		t.Error("snapshot mutation leaked into the store")
	}
}
