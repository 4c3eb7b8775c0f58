// Package chat holds the stateful core of the relay: the connection registry
// that enforces one live session per user, the room membership index, and the
// message relay that normalizes inbound message intents and fans them out to a
// conversation room.
//
// Nothing in this package knows about WebSockets. Transports plug in through
// the Conn interface.
package chat
