package chat

import (
	"encoding/json"
	"sync"
	"testing"
)

// fakeConn records frames and close calls in memory.
type fakeConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	closes int
	full   bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full || f.closes > 0 {
		return false
	}
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
}

func (f *fakeConn) closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes > 0
}

func (f *fakeConn) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

// decodeDelivered unmarshals a delivered frame and its message.
func decodeDelivered(t *testing.T, raw []byte) (string, Message) {
	t.Helper()
	var envelope struct {
		Event string  `json:"event"`
		Data  Message `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("delivered frame is not valid JSON: %v", err)
	}
	return envelope.Event, envelope.Data
}
