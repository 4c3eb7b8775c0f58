package chat

import "sync"

// RoomKind is the namespace a room lives in.
type RoomKind string

const (
	KindUser         RoomKind = "user"
	KindAgency       RoomKind = "agency"
	KindConversation RoomKind = "conversation"
)

// Room names a broadcast group. Rooms of different kinds never collide even
// when their ids are equal.
type Room struct {
	Kind RoomKind
	ID   string
}

func (r Room) String() string {
	return string(r.Kind) + "_" + r.ID
}

// UserRoom is the per-user room for userID.
func UserRoom(userID string) Room { return Room{Kind: KindUser, ID: userID} }

// AgencyRoom is the per-agency room for agencyID.
func AgencyRoom(agencyID string) Room { return Room{Kind: KindAgency, ID: agencyID} }

// ConversationRoom is the room messages for conversationID are relayed to.
func ConversationRoom(conversationID string) Room {
	return Room{Kind: KindConversation, ID: conversationID}
}

// Rooms indexes room membership. Rooms are created on first join and are
// kept after their last member leaves.
type Rooms struct {
	mu      sync.RWMutex
	members map[Room]map[string]Conn
	joined  map[string]map[Room]struct{} // conn_id -> rooms, for Purge
	counts  map[RoomKind]int
}

// NewRooms returns an empty index.
func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[Room]map[string]Conn),
		joined:  make(map[string]map[Room]struct{}),
		counts:  make(map[RoomKind]int),
	}
}

// Join adds c to room. It reports whether c was newly added; joining twice
// has no further effect. A room with an empty id is never created.
func (rs *Rooms) Join(room Room, c Conn) bool {
	if room.ID == "" || c == nil {
		return false
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	set, ok := rs.members[room]
	if !ok {
		set = make(map[string]Conn)
		rs.members[room] = set
		rs.counts[room.Kind]++
	}
	if _, dup := set[c.ID()]; dup {
		return false
	}
	set[c.ID()] = c

	byConn, ok := rs.joined[c.ID()]
	if !ok {
		byConn = make(map[Room]struct{})
		rs.joined[c.ID()] = byConn
	}
	byConn[room] = struct{}{}
	return true
}

// Leave removes connID from room. Absent rooms or members are ignored.
func (rs *Rooms) Leave(room Room, connID string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	set, ok := rs.members[room]
	if !ok {
		return false
	}
	if _, ok := set[connID]; !ok {
		return false
	}
	delete(set, connID)

	if byConn, ok := rs.joined[connID]; ok {
		delete(byConn, room)
		if len(byConn) == 0 {
			delete(rs.joined, connID)
		}
	}
	return true
}

// Purge removes connID from every room it joined and returns how many rooms
// it left.
func (rs *Rooms) Purge(connID string) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	byConn, ok := rs.joined[connID]
	if !ok {
		return 0
	}
	for room := range byConn {
		delete(rs.members[room], connID)
	}
	delete(rs.joined, connID)
	return len(byConn)
}

// MembersOf returns a snapshot of the connections currently in room.
func (rs *Rooms) MembersOf(room Room) []Conn {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	set := rs.members[room]
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Count returns how many rooms of kind have ever been created.
func (rs *Rooms) Count(kind RoomKind) int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.counts[kind]
}
