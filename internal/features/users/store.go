package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"mealbuddy/internal/database"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmailTaken is returned when registering an email that exists.
	ErrEmailTaken = errors.New("user with this email already exists")
)

// Roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Table is the users table as registered for CreateAll. It matches
// migration 0001.
var Table = database.Table{
	Name: "users",
	Columns: []string{
		"id VARCHAR(36) PRIMARY KEY",
		"email VARCHAR(255) NOT NULL UNIQUE",
		"password_hash VARCHAR(255) NOT NULL",
		"display_name VARCHAR(255) NOT NULL DEFAULT ''",
		"role VARCHAR(32) NOT NULL DEFAULT 'user'",
		"created_at BIGINT NOT NULL",
		"updated_at BIGINT NOT NULL",
		"last_login_at BIGINT",
	},
}

// User is a registered account.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLoginAt  time.Time
}

// Response is the public shape of a user.
type Response struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Role        string     `json:"role"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// ToResponse drops the password hash.
func (u *User) ToResponse() Response {
	r := Response{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt,
	}
	if !u.LastLoginAt.IsZero() {
		t := u.LastLoginAt
		r.LastLoginAt = &t
	}
	return r
}

// Store persists users.
type Store struct {
	db *database.DB
}

// NewStore wraps an open handle.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts a new user. The first account ever created becomes
// admin; everyone else gets RoleUser. u.ID, u.Role and timestamps are set.
func (s *Store) Create(ctx context.Context, u *User) error {
	u.Email = NormalizeEmail(u.Email)
	now := database.NowMillis()

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE email = ?`, u.Email).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check email: %w", err)
		}
		if exists > 0 {
			return ErrEmailTaken
		}

		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		u.Role = RoleUser
		if count == 0 {
			u.Role = RoleAdmin
		}

		u.ID = uuid.NewString()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO users (id, email, password_hash, display_name, role, created_at, updated_at, last_login_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.Email, u.PasswordHash, u.DisplayName, u.Role, now, now, now)
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		u.CreatedAt = database.FromMillis(now)
		u.UpdatedAt = u.CreatedAt
		u.LastLoginAt = u.CreatedAt
		return nil
	})
}

const selectUser = `SELECT id, email, password_hash, display_name, role, created_at, updated_at, last_login_at FROM users`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u                User
		created, updated int64
		lastSeen         sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.Role, &created, &updated, &lastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	u.CreatedAt = database.FromMillis(created)
	u.UpdatedAt = database.FromMillis(updated)
	if lastSeen.Valid {
		u.LastLoginAt = database.FromMillis(lastSeen.Int64)
	}
	return &u, nil
}

// GetByID returns database.ErrNotFound for unknown ids.
func (s *Store) GetByID(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE id = ?`, id))
}

// GetByEmail looks an address up case-insensitively.
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE email = ?`, NormalizeEmail(email)))
}

// Count returns the number of registered users.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// List returns one page of users ordered by creation time.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, selectUser+` ORDER BY created_at, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*User, 0, limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpdateDisplayName changes the profile name.
func (s *Store) UpdateDisplayName(ctx context.Context, id, name string) (*User, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET display_name = ?, updated_at = ? WHERE id = ?`,
		name, database.NowMillis(), id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, database.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

// TouchLogin records a successful login.
func (s *Store) TouchLogin(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login_at = ? WHERE id = ?`, database.NowMillis(), id)
	return err
}
