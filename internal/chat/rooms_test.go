package chat

import "testing"

func memberIDs(conns []Conn) map[string]int {
	ids := make(map[string]int, len(conns))
	for _, c := range conns {
		ids[c.ID()]++
	}
	return ids
}

// TestJoinIdempotent verifies joining twice leaves a single membership.
func TestJoinIdempotent(t *testing.T) {
	rooms := NewRooms()
	c := newFakeConn("c1")
	conv := ConversationRoom("conv")

	if !rooms.Join(conv, c) {
		t.Fatal("first join reported no change")
	}
	if rooms.Join(conv, c) {
		t.Error("second join reported a change")
	}

	ids := memberIDs(rooms.MembersOf(conv))
	if len(ids) != 1 || ids["c1"] != 1 {
		t.Errorf("expected exactly one c1, got %v", ids)
	}
	if rooms.Count(KindConversation) != 1 {
		t.Errorf("expected 1 conversation room, got %d", rooms.Count(KindConversation))
	}
}

// TestJoinWithoutID verifies a missing room id creates nothing.
func TestJoinWithoutID(t *testing.T) {
	rooms := NewRooms()
	if rooms.Join(ConversationRoom(""), newFakeConn("c1")) {
		t.Error("join with empty conversation id succeeded")
	}
	if rooms.Count(KindConversation) != 0 {
		t.Errorf("expected no rooms, got %d", rooms.Count(KindConversation))
	}
}

// TestLeave covers leaving present and absent memberships.
func TestLeave(t *testing.T) {
	rooms := NewRooms()
	c1, c2 := newFakeConn("c1"), newFakeConn("c2")
	conv := ConversationRoom("conv")
	rooms.Join(conv, c1)
	rooms.Join(conv, c2)

	if !rooms.Leave(conv, "c1") {
		t.Error("leave of a member reported no change")
	}
	if rooms.Leave(conv, "c1") {
		t.Error("second leave reported a change")
	}
	if rooms.Leave(ConversationRoom("unknown"), "c2") {
		t.Error("leave of an unknown room reported a change")
	}

	ids := memberIDs(rooms.MembersOf(conv))
	if len(ids) != 1 || ids["c2"] != 1 {
		t.Errorf("expected only c2, got %v", ids)
	}
}

// TestEmptyRoomIsKept verifies a room outlives its last member.
func TestEmptyRoomIsKept(t *testing.T) {
	rooms := NewRooms()
	conv := ConversationRoom("conv")
	rooms.Join(conv, newFakeConn("c1"))
	rooms.Leave(conv, "c1")

	if got := len(rooms.MembersOf(conv)); got != 0 {
		t.Errorf("expected empty room, got %d members", got)
	}
	if rooms.Count(KindConversation) != 1 {
		t.Errorf("expected the room to be kept, count=%d", rooms.Count(KindConversation))
	}
}

// TestPurge verifies disconnect cleanup removes a connection from every room
// and leaves other members alone.
func TestPurge(t *testing.T) {
	rooms := NewRooms()
	c1, c2 := newFakeConn("c1"), newFakeConn("c2")
	joined := []Room{
		ConversationRoom("a"),
		ConversationRoom("b"),
		UserRoom("u1"),
		AgencyRoom("acme"),
	}
	for _, r := range joined {
		rooms.Join(r, c1)
	}
	rooms.Join(ConversationRoom("a"), c2)

	if n := rooms.Purge("c1"); n != len(joined) {
		t.Errorf("expected to leave %d rooms, left %d", len(joined), n)
	}
	for _, r := range joined {
		if _, ok := memberIDs(rooms.MembersOf(r))["c1"]; ok {
			t.Errorf("c1 still in %s", r)
		}
	}
	if ids := memberIDs(rooms.MembersOf(ConversationRoom("a"))); ids["c2"] != 1 {
		t.Errorf("c2 lost its membership: %v", ids)
	}
	if n := rooms.Purge("c1"); n != 0 {
		t.Errorf("second purge left %d rooms", n)
	}
}

// TestRoomNamespaces verifies rooms of different kinds never share members.
func TestRoomNamespaces(t *testing.T) {
	rooms := NewRooms()
	rooms.Join(UserRoom("42"), newFakeConn("c1"))

	if got := len(rooms.MembersOf(ConversationRoom("42"))); got != 0 {
		t.Errorf("conversation 42 has %d members from user room 42", got)
	}
	if rooms.Count(KindUser) != 1 || rooms.Count(KindConversation) != 0 {
		t.Errorf("unexpected counts: user=%d conversation=%d",
			rooms.Count(KindUser), rooms.Count(KindConversation))
	}
	if UserRoom("42").String() != "user_42" {
		t.Errorf("unexpected room name %q", UserRoom("42").String())
	}
}
