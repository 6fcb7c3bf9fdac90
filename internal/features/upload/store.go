package upload

import (
	"context"
	"database/sql"
	"errors"
	"mealbuddy/internal/database"
	"time"

	"github.com/google/uuid"
)

// Table matches migration 0004.
var Table = database.Table{
	Name: "uploads",
	Columns: []string{
		"id VARCHAR(36) PRIMARY KEY",
		"owner_id VARCHAR(36) NOT NULL",
		"original_name VARCHAR(255) NOT NULL",
		"stored_name VARCHAR(64) NOT NULL UNIQUE",
		"content_type VARCHAR(127) NOT NULL",
		"size BIGINT NOT NULL",
		"created_at BIGINT NOT NULL",
	},
	Indexes: []database.Index{
		{Name: "idx_uploads_owner", Columns: []string{"owner_id"}},
		{Name: "idx_uploads_created_at", Columns: []string{"created_at"}},
	},
}

// File is the metadata of one uploaded file.
type File struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	OriginalName string    `json:"filename"`
	StoredName   string    `json:"-"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists upload metadata.
type Store struct {
	db *database.DB
}

// NewStore wraps an open handle.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create assigns an id and timestamp and inserts f.
func (s *Store) Create(ctx context.Context, f *File) error {
	now := database.NowMillis()
	f.ID = uuid.NewString()
	f.CreatedAt = database.FromMillis(now)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO uploads (id, owner_id, original_name, stored_name, content_type, size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OwnerID, f.OriginalName, f.StoredName, f.ContentType, f.Size, now)
	return err
}

const selectFile = `SELECT id, owner_id, original_name, stored_name, content_type, size, created_at FROM uploads`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*File, error) {
	var (
		f       File
		created int64
	)
	if err := row.Scan(&f.ID, &f.OwnerID, &f.OriginalName, &f.StoredName, &f.ContentType, &f.Size, &created); err != nil {
		return nil, err
	}
	f.CreatedAt = database.FromMillis(created)
	return &f, nil
}

// Get returns a file by id or database.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*File, error) {
	f, err := scanFile(s.db.QueryRowContext(ctx, selectFile+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	return f, err
}

// ListByOwner returns the owner's files, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx, selectFile+` WHERE owner_id = ? ORDER BY created_at DESC, id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Delete removes the row for id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return database.ErrNotFound
	}
	return nil
}
