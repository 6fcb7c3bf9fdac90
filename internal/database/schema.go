package database

import (
	"context"
	"fmt"
	"strings"
)

// Table describes a table owned by a feature module. Columns must use
// types both sqlite and mysql accept (VARCHAR(n), TEXT, BIGINT, INTEGER,
// BOOLEAN) and avoid indexing TEXT columns.
type Table struct {
	Name    string
	Columns []string
	Indexes []Index
}

// Index is a secondary index on a registered table.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// DDL renders the CREATE TABLE statement.
func (t Table) DDL() string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.Name, strings.Join(t.Columns, ",\n\t"))
}

func (ix Index) ddl(table string) string {
	unique := ""
	if ix.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, ix.Name, table, strings.Join(ix.Columns, ", "))
}

// Register adds tables to the registry used by CreateAll. Registering a
// name twice is a no-op, so features may register from several places.
func (db *DB) Register(tables ...Table) {
	db.mu.Lock()
	defer db.mu.Unlock()

next:
	for _, t := range tables {
		for _, existing := range db.tables {
			if existing.Name == t.Name {
				continue next
			}
		}
		db.tables = append(db.tables, t)
	}
}

// Tables returns the registered tables in registration order.
func (db *DB) Tables() []Table {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]Table(nil), db.tables...)
}

// CreateAll creates every registered table and index that does not exist
// yet. Existing tables are left untouched.
func (db *DB) CreateAll(ctx context.Context) error {
	for _, t := range db.Tables() {
		if _, err := db.ExecContext(ctx, t.DDL()); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
		for _, ix := range t.Indexes {
			exists, err := db.indexExists(ctx, t.Name, ix.Name)
			if err != nil {
				return fmt.Errorf("check index %s: %w", ix.Name, err)
			}
			if exists {
				continue
			}
			if _, err := db.ExecContext(ctx, ix.ddl(t.Name)); err != nil {
				return fmt.Errorf("create index %s: %w", ix.Name, err)
			}
		}
	}
	return nil
}

// TableExists reports whether a table is present in the current schema.
func (db *DB) TableExists(ctx context.Context, name string) (bool, error) {
	var query string
	switch db.dialect {
	case SQLite:
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	default:
		query = `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?`
	}
	var count int
	if err := db.QueryRowContext(ctx, query, name).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (db *DB) indexExists(ctx context.Context, table, index string) (bool, error) {
	var (
		query string
		args  []any
	)
	switch db.dialect {
	case SQLite:
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`
		args = []any{index}
	default:
		query = `SELECT COUNT(*) FROM INFORMATION_SCHEMA.STATISTICS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND INDEX_NAME = ?`
		args = []any{table, index}
	}
	var count int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
