package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/pairchat/internal/model"
)

// MessageRepo is the durable, append-only message log.
type MessageRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Append inserts a message and returns it with its assigned id and
// creation time.  created_at is stored with millisecond precision, so the
// returned time is truncated to match what a later read returns.
func (r *MessageRepo) Append(ctx context.Context, m model.NewMessage) (model.Message, error) {
	msg := model.Message{
		ID:        uuid.NewString(),
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Text:      m.Text,
		File:      m.File,
		CreatedAt: r.now().Truncate(time.Millisecond),
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO messages (id, sender, recipient, text, file, created_at) VALUES (?,?,?,?,?,?)",
		msg.ID, msg.Sender, msg.Recipient, nullString(msg.Text), nullString(msg.File), msg.CreatedAt)
	if err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

// Between returns the conversation of a and b in both directions, oldest
// first.
func (r *MessageRepo) Between(ctx context.Context, a, b string) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, sender, recipient, text, file, created_at
		   FROM messages
		  WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)
		  ORDER BY created_at ASC, id ASC`,
		a, b, b, a)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Message{}
	for rows.Next() {
		var (
			m          model.Message
			text, file sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &text, &file, &m.CreatedAt); err != nil {
			return nil, err
		}
		if text.Valid {
			m.Text = &text.String
		}
		if file.Valid {
			m.File = &file.String
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
