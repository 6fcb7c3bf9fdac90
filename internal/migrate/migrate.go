// Package migrate applies versioned schema changes with golang-migrate.
// Scripts are embedded per dialect and the applied version is kept in
// schema_migrations.
package migrate

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"mealbuddy/internal/database"
	"path"

	gomigrate "github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var embedded embed.FS

// LedgerTable holds the applied version and its dirty flag.
const LedgerTable = "schema_migrations"

var (
	// ErrNothingToRevert is returned by Downgrade when no version is applied.
	ErrNothingToRevert = errors.New("no migrations to revert")
	// ErrDirty means a migration failed part-way and the schema must be
	// repaired and forced to a known version.
	ErrDirty = errors.New("database schema is dirty")
)

// Migration is one versioned schema change.
type Migration struct {
	Version    int
	Name       string
	Reversible bool
}

// Record is an applied migration.
type Record struct {
	Version int
	Name    string
}

// Migrator runs migrations for one database handle.
type Migrator struct {
	db         *database.DB
	fsys       fs.FS
	migrations []Migration
}

// New loads the embedded migrations for db's dialect.
func New(db *database.DB) (*Migrator, error) {
	sub, err := fs.Sub(embedded, path.Join("migrations", string(db.Dialect())))
	if err != nil {
		return nil, fmt.Errorf("migrations for %s: %w", db.Dialect(), err)
	}
	return NewFromFS(db, sub)
}

// NewFromFS loads migrations from the root of fsys.
func NewFromFS(db *database.DB, fsys fs.FS) (*Migrator, error) {
	migrations, err := load(fsys)
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db, fsys: fsys, migrations: migrations}, nil
}

func load(fsys fs.FS) ([]Migration, error) {
	src, err := iofs.New(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}
	defer src.Close()

	var out []Migration
	v, err := src.First()
	for err == nil {
		mig := Migration{Version: int(v)}
		r, name, upErr := src.ReadUp(v)
		if upErr != nil {
			return nil, fmt.Errorf("migration %d has no up SQL: %w", v, upErr)
		}
		_ = r.Close()
		mig.Name = name
		if r, _, downErr := src.ReadDown(v); downErr == nil {
			_ = r.Close()
			mig.Reversible = true
		}
		out = append(out, mig)
		v, err = src.Next(v)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}
	return out, nil
}

// Migrations returns every known migration in version order.
func (m *Migrator) Migrations() []Migration {
	return append([]Migration(nil), m.migrations...)
}

// Latest is the highest known version, or 0.
func (m *Migrator) Latest() int {
	if len(m.migrations) == 0 {
		return 0
	}
	return m.migrations[len(m.migrations)-1].Version
}

// open builds a golang-migrate instance over the shared handle. The
// returned release must be called once the instance is done.
func (m *Migrator) open(ctx context.Context) (*gomigrate.Migrate, func(), error) {
	src, err := iofs.New(m.fsys, ".")
	if err != nil {
		return nil, nil, fmt.Errorf("reading migrations: %w", err)
	}

	var drv migratedb.Driver
	switch m.db.Dialect() {
	case database.SQLite:
		drv, err = sqlite.WithInstance(m.db.DB, &sqlite.Config{MigrationsTable: LedgerTable})
	case database.MySQL:
		drv, err = mysql.WithInstance(m.db.DB, &mysql.Config{MigrationsTable: LedgerTable})
	default:
		err = fmt.Errorf("unsupported dialect %q", m.db.Dialect())
	}
	if err != nil {
		_ = src.Close()
		return nil, nil, fmt.Errorf("migration driver: %w", err)
	}

	mg, err := gomigrate.NewWithInstance("iofs", src, string(m.db.Dialect()), drv)
	if err != nil {
		_ = src.Close()
		return nil, nil, fmt.Errorf("migration instance: %w", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			select {
			case mg.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()

	release := func() {
		close(done)
		_ = src.Close()
		// The sqlite driver closes the *sql.DB it wraps; the mysql driver
		// only returns its pinned connection.
		if m.db.Dialect() == database.MySQL {
			_ = drv.Close()
		}
	}
	return mg, release, nil
}

// version reads the ledger without creating it.
func (m *Migrator) version(ctx context.Context) (int, bool, error) {
	exists, err := m.db.TableExists(ctx, LedgerTable)
	if err != nil {
		return 0, false, fmt.Errorf("checking %s table: %w", LedgerTable, err)
	}
	if !exists {
		return 0, false, nil
	}

	mg, release, err := m.open(ctx)
	if err != nil {
		return 0, false, err
	}
	defer release()
	return versionOf(mg)
}

func versionOf(mg *gomigrate.Migrate) (int, bool, error) {
	v, dirty, err := mg.Version()
	if errors.Is(err, gomigrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("getting current version: %w", err)
	}
	return int(v), dirty, nil
}

// Current returns the applied version, 0 when nothing is applied. A dirty
// version is returned together with ErrDirty.
func (m *Migrator) Current(ctx context.Context) (int, error) {
	v, dirty, err := m.version(ctx)
	if err != nil {
		return 0, err
	}
	if dirty {
		return v, dirtyError(v)
	}
	return v, nil
}

func dirtyError(v int) error {
	return fmt.Errorf("%w at version %d; repair it and run `server db force`", ErrDirty, v)
}

// History lists applied migrations, oldest first.
func (m *Migrator) History(ctx context.Context) ([]Record, error) {
	current, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}
	var records []Record
	for _, mig := range m.migrations {
		if mig.Version <= current {
			records = append(records, Record{Version: mig.Version, Name: mig.Name})
		}
	}
	return records, nil
}

// Pending lists migrations newer than the current version.
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	current, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}
	var out []Migration
	for _, mig := range m.migrations {
		if mig.Version > current {
			out = append(out, mig)
		}
	}
	return out, nil
}

// Upgrade applies all pending migrations and returns how many ran.
func (m *Migrator) Upgrade(ctx context.Context) (int, error) {
	mg, release, err := m.open(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	before, dirty, err := versionOf(mg)
	if err != nil {
		return 0, err
	}
	if dirty {
		return 0, dirtyError(before)
	}

	upErr := mg.Up()
	after, dirty, err := versionOf(mg)
	if err != nil {
		return 0, err
	}
	applied := m.between(before, after)
	if dirty {
		// the dirty version is the one that failed
		applied--
	}

	switch {
	case upErr == nil, errors.Is(upErr, gomigrate.ErrNoChange):
		return applied, nil
	default:
		return applied, fmt.Errorf("applying migrations: %w", upErr)
	}
}

// Downgrade reverts the newest steps migrations and returns how many ran.
func (m *Migrator) Downgrade(ctx context.Context, steps int) (int, error) {
	if steps < 1 {
		return 0, fmt.Errorf("downgrade steps must be positive, got %d", steps)
	}
	mg, release, err := m.open(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	before, dirty, err := versionOf(mg)
	if err != nil {
		return 0, err
	}
	if dirty {
		return 0, dirtyError(before)
	}
	if before == 0 {
		return 0, ErrNothingToRevert
	}

	stepsErr := mg.Steps(-steps)
	after, dirty, err := versionOf(mg)
	if err != nil {
		return 0, err
	}
	reverted := m.between(after, before)
	if dirty {
		reverted--
	}

	var short gomigrate.ErrShortLimit
	switch {
	case stepsErr == nil, errors.As(stepsErr, &short):
		return reverted, nil
	default:
		return reverted, fmt.Errorf("reverting migrations: %w", stepsErr)
	}
}

// Force stamps version as applied and clean without running any SQL.
// Version 0 clears the ledger.
func (m *Migrator) Force(ctx context.Context, version int) error {
	if version != 0 && !m.known(version) {
		return fmt.Errorf("unknown migration version %d", version)
	}
	mg, release, err := m.open(ctx)
	if err != nil {
		return err
	}
	defer release()

	v := version
	if v == 0 {
		v = migratedb.NilVersion
	}
	if err := mg.Force(v); err != nil {
		return fmt.Errorf("forcing version %d: %w", version, err)
	}
	return nil
}

func (m *Migrator) known(version int) bool {
	for _, mig := range m.migrations {
		if mig.Version == version {
			return true
		}
	}
	return false
}

// between counts known versions in (from, to].
func (m *Migrator) between(from, to int) int {
	n := 0
	for _, mig := range m.migrations {
		if mig.Version > from && mig.Version <= to {
			n++
		}
	}
	return n
}
