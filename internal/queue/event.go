// Package queue defines message payloads exchanged over the message broker.
package queue

// MessageCreatedQueue is the durable queue chat message events go to.
const MessageCreatedQueue = "message.created"

// MessageCreatedEvent is published after a chat message is persisted.  It
// carries metadata only; text and attachment bytes stay in the database
// and blob store.
type MessageCreatedEvent struct {
	MessageID string `json:"message_id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	HasText   bool   `json:"has_text"`
	File      string `json:"file,omitempty"`
	CreatedAt string `json:"created_at"`
}
