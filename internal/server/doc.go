// Package server implements the HTTP and WebSocket surface of the relay.
//
// A Hub owns every live Client and applies their events one at a time to the
// connection registry and room index from package chat. The remaining files
// cover configuration, origin checks, routing, and the HTTP handlers.
package server
