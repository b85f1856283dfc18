package model

import "time"

// Message mirrors the `messages` table. Text and File are nullable; at
// least one of them is set. File holds the server-side blob name, never the
// name the client uploaded.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Text      *string   `json:"text"`
	File      *string   `json:"file"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage is the input to a message store append. The store assigns
// ID and CreatedAt.
type NewMessage struct {
	Sender    string
	Recipient string
	Text      *string
	File      *string
}
