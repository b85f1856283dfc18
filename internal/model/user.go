package model

import "time"

// User represents an application user record as stored in the `users`
// table.  PasswordHash never leaves the repository and handler layers.
type User struct {
	ID           string    // users.id (uuid)
	Username     string    // users.username, unique
	PasswordHash string    // users.password_hash (bcrypt)
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// Contact is the public projection of a user returned by the contact list.
type Contact struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
