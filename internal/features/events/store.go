package events

import (
	"context"
	"database/sql"
	"errors"
	"mealbuddy/internal/database"
	"time"

	"github.com/google/uuid"
)

// Table matches migration 0002.
var Table = database.Table{
	Name: "events",
	Columns: []string{
		"id VARCHAR(36) PRIMARY KEY",
		"owner_id VARCHAR(36) NOT NULL",
		"title VARCHAR(255) NOT NULL",
		"description TEXT NOT NULL",
		"location VARCHAR(255) NOT NULL DEFAULT ''",
		"starts_at BIGINT NOT NULL",
		"ends_at BIGINT",
		"created_at BIGINT NOT NULL",
		"updated_at BIGINT NOT NULL",
	},
	Indexes: []database.Index{
		{Name: "idx_events_starts_at", Columns: []string{"starts_at"}},
		{Name: "idx_events_owner", Columns: []string{"owner_id"}},
	},
}

// Event is a scheduled meal or gathering.
type Event struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Location    string     `json:"location"`
	StartsAt    time.Time  `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Store persists events.
type Store struct {
	db *database.DB
}

// NewStore wraps an open handle.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

func endsAtValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

// Create assigns an id and timestamps and inserts e.
func (s *Store) Create(ctx context.Context, e *Event) error {
	now := database.NowMillis()
	e.ID = uuid.NewString()
	e.CreatedAt = database.FromMillis(now)
	e.UpdatedAt = e.CreatedAt

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, owner_id, title, description, location, starts_at, ends_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OwnerID, e.Title, e.Description, e.Location, e.StartsAt.UnixMilli(), endsAtValue(e.EndsAt), now, now)
	return err
}

const selectEvent = `SELECT id, owner_id, title, description, location, starts_at, ends_at, created_at, updated_at FROM events`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		e                        Event
		starts, created, updated int64
		ends                     sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.OwnerID, &e.Title, &e.Description, &e.Location, &starts, &ends, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.StartsAt = database.FromMillis(starts)
	if ends.Valid {
		t := database.FromMillis(ends.Int64)
		e.EndsAt = &t
	}
	e.CreatedAt = database.FromMillis(created)
	e.UpdatedAt = database.FromMillis(updated)
	return &e, nil
}

// Get returns database.ErrNotFound for unknown ids.
func (s *Store) Get(ctx context.Context, id string) (*Event, error) {
	return scanEvent(s.db.QueryRowContext(ctx, selectEvent+` WHERE id = ?`, id))
}

// List returns events starting at or after from, earliest first.
func (s *Store) List(ctx context.Context, from time.Time, limit int) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		selectEvent+` WHERE starts_at >= ? ORDER BY starts_at, id LIMIT ?`, from.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Update writes the editable fields of e and refreshes UpdatedAt.
func (s *Store) Update(ctx context.Context, e *Event) error {
	now := database.NowMillis()
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET title = ?, description = ?, location = ?, starts_at = ?, ends_at = ?, updated_at = ? WHERE id = ?`,
		e.Title, e.Description, e.Location, e.StartsAt.UnixMilli(), endsAtValue(e.EndsAt), now, e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return database.ErrNotFound
	}
	e.UpdatedAt = database.FromMillis(now)
	return nil
}

// Delete removes an event.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return database.ErrNotFound
	}
	return nil
}
