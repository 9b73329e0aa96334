// Package hub provides a thread-safe websocket broadcast hub
// using the idiomatic Go channel-based fan-out pattern.
package hub

// Message is one pre-encoded JSON payload broadcast to clients
type Message struct {
	Data []byte

	// Terminal marks the last event of a session
	Terminal bool
}
