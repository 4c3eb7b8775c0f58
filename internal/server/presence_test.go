package server_test

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/server"
)

// recordingStore keeps an event log and the mirrored state per user. Offline
// can be slowed down to widen races with a following bind.
type recordingStore struct {
	offlineDelay time.Duration

	mu     sync.Mutex
	events []string
	online map[string]bool
}

func (s *recordingStore) record(ev string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingStore) set(userID string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online == nil {
		s.online = make(map[string]bool)
	}
	s.online[userID] = online
}

func (s *recordingStore) Online(_ context.Context, userID string) error {
	s.set(userID, true)
	s.record("online:" + userID)
	return nil
}

func (s *recordingStore) Offline(_ context.Context, userID string) error {
	time.Sleep(s.offlineDelay)
	s.set(userID, false)
	s.record("offline:" + userID)
	return nil
}

func (s *recordingStore) isOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[userID]
}

func (s *recordingStore) log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *recordingStore) Close() error { return nil }

func (s *recordingStore) has(ev string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == ev {
			return true
		}
	}
	return false
}

func (s *recordingStore) count(ev string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == ev {
			n++
		}
	}
	return n
}

// TestPresenceMirror checks binds and disconnects reach the presence store.
func TestPresenceMirror(t *testing.T) {
	store := &recordingStore{}
	env := newTestEnv(t, nil, server.WithPresence(store))

	conn := env.dial(t)
	emit(t, conn, "join_user_room", map[string]any{"user_id": "u-9"})
	settle(t, conn)
	waitFor(t, "online", func() bool { return store.has("online:u-9") })

	_ = conn.Close()
	waitFor(t, "offline", func() bool { return store.has("offline:u-9") })
}

// TestPresenceEvictionKeepsUserOnline checks that a superseded connection
// going away does not mark the user offline.
func TestPresenceEvictionKeepsUserOnline(t *testing.T) {
	store := &recordingStore{}
	env := newTestEnv(t, nil, server.WithPresence(store))

	first, second := env.dial(t), env.dial(t)
	emit(t, first, "join_user_room", map[string]any{"user_id": "u-10"})
	settle(t, first)
	emit(t, second, "join_user_room", map[string]any{"user_id": "u-10"})
	settle(t, second)

	expectClosed(t, first)
	waitFor(t, "evicted connection removal", func() bool { return env.hub.Stats().Connections == 1 })
	waitFor(t, "second online", func() bool { return store.count("online:u-10") == 2 })

	if store.has("offline:u-10") {
		t.Error("evicted connection must not clear the new session's presence")
	}
}

// TestPresenceQuickReconnect overlaps a slow offline write with a re-bind of
// the same user; the mirror must end up online.
func TestPresenceQuickReconnect(t *testing.T) {
	store := &recordingStore{offlineDelay: 200 * time.Millisecond}
	env := newTestEnv(t, nil, server.WithPresence(store))

	first := env.dial(t)
	emit(t, first, "join_user_room", map[string]any{"user_id": "u-11"})
	settle(t, first)
	_ = first.Close()
	waitFor(t, "first session removal", func() bool { return env.hub.Stats().Users == 0 })

	second := env.dial(t)
	emit(t, second, "join_user_room", map[string]any{"user_id": "u-11"})
	settle(t, second)

	waitFor(t, "all presence writes", func() bool { return len(store.log()) == 3 })

	want := []string{"online:u-11", "offline:u-11", "online:u-11"}
	if got := store.log(); !reflect.DeepEqual(got, want) {
		t.Errorf("presence writes %v, want %v", got, want)
	}
	if !store.isOnline("u-11") {
		t.Error("bound user is mirrored as offline")
	}
}

// TestPresenceRefresh renews bound users before their TTL runs out and stops
// once they disconnect.
func TestPresenceRefresh(t *testing.T) {
	store := &recordingStore{}
	env := newTestEnv(t, func(cfg *server.Config) {
		cfg.Redis.PresenceTTL = 100 * time.Millisecond
	}, server.WithPresence(store))

	conn := env.dial(t)
	emit(t, conn, "join_user_room", map[string]any{"user_id": "u-12"})
	settle(t, conn)

	waitFor(t, "ttl renewals", func() bool { return store.count("online:u-12") >= 3 })

	_ = conn.Close()
	waitFor(t, "offline", func() bool { return store.has("offline:u-12") })

	time.Sleep(150 * time.Millisecond)
	if store.isOnline("u-12") {
		t.Error("refresh revived a disconnected user")
	}
}
