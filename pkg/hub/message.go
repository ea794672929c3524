// Package hub provides a thread-safe websocket broadcast hub
// using the idiomatic Go channel-based fan-out pattern.
package hub

// Message is a pre-encoded JSON document queued for clients.
type Message struct {
	Data []byte
}

// NewJSONMessage creates a message from pre-encoded bytes.
func NewJSONMessage(data []byte) Message {
	return Message{Data: data}
}
