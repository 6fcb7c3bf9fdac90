package chat

import (
	"context"
	"mealbuddy/internal/database"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Table matches migration 0003.
var Table = database.Table{
	Name: "chat_messages",
	Columns: []string{
		"id VARCHAR(36) PRIMARY KEY",
		"room VARCHAR(128) NOT NULL",
		"user_id VARCHAR(36) NOT NULL",
		"body TEXT NOT NULL",
		"created_at BIGINT NOT NULL",
	},
	Indexes: []database.Index{
		{Name: "idx_chat_messages_room", Columns: []string{"room", "created_at"}},
	},
}

// Message is one persisted chat line.
type Message struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	UserID    string    `json:"user_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists chat history.
type Store struct {
	db  *database.DB
	now func() time.Time
}

// NewStore wraps an open handle.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Add stores a message and returns it with id and timestamp set.
func (s *Store) Add(ctx context.Context, room, userID, body string) (*Message, error) {
	now := s.now().UnixMilli()
	m := &Message{
		ID:        uuid.NewString(),
		Room:      room,
		UserID:    userID,
		Body:      body,
		CreatedAt: database.FromMillis(now),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, room, user_id, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.Room, m.UserID, m.Body, now)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Recent returns the latest limit messages in room, oldest first.
func (s *Store) Recent(ctx context.Context, room string, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room, user_id, body, created_at FROM chat_messages
		 WHERE room = ? ORDER BY created_at DESC, id DESC LIMIT ?`, room, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Message, 0, limit)
	for rows.Next() {
		var (
			m       Message
			created int64
		)
		if err := rows.Scan(&m.ID, &m.Room, &m.UserID, &m.Body, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = database.FromMillis(created)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}
