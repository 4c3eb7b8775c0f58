// Package server defines the hub's internal event types and utility helpers
// that are reused across client and hub logic.
package server

import (
	"strings"

	"github.com/Tyrowin/gochat-relay/internal/chat"
)

// inboundEvent is a decoded frame waiting for the hub loop.
type inboundEvent struct {
	client *Client
	frame  chat.Frame
}

// remoteFrame is a frame relayed by another node.
type remoteFrame struct {
	conversationID string
	frame          []byte
}

// Stats is the process-wide status snapshot.
type Stats struct {
	Users         int    `json:"users"`
	Conversations int    `json:"conversations"`
	Agencies      int    `json:"agencies"`
	Connections   int    `json:"connections"`
	NodeID        string `json:"node_id"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
