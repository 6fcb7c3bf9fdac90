package migrate

import (
	"context"
	"errors"
	"mealbuddy/internal/app"
	"mealbuddy/internal/database"
)

// ExtensionName is the name the migration tool is bound under.
const ExtensionName = "migrate"

// ErrNoPersistence is returned when migrate is bound before persistence.
var ErrNoPersistence = errors.New("migrate requires a bound persistence handle")

// HandleProvider exposes the persistence handle to link against.
type HandleProvider interface {
	Handle() *database.DB
}

// Extension links the migration tool to the persistence handle. It never
// applies migrations on its own; pending versions are only reported.
type Extension struct {
	persistence HandleProvider
	migrator    *Migrator
}

// NewExtension returns a migration extension linked to p.
func NewExtension(p HandleProvider) *Extension {
	return &Extension{persistence: p}
}

func (e *Extension) Name() string { return ExtensionName }

func (e *Extension) InitApp(a *app.App) error {
	if e.persistence == nil || e.persistence.Handle() == nil {
		return ErrNoPersistence
	}
	m, err := New(e.persistence.Handle())
	if err != nil {
		return err
	}
	e.migrator = m

	pending, err := m.Pending(a.Context(context.Background()))
	if errors.Is(err, ErrDirty) {
		a.Logger().Warn("database schema is dirty; repair it and run `server db force`", "error", err)
		return nil
	}
	if err != nil {
		// A fresh or unreachable database is not fatal here
		a.Logger().Debug("could not inspect migration state", "error", err)
		return nil
	}
	if len(pending) > 0 {
		a.Logger().Warn("database schema is behind; run `server db upgrade`",
			"pending", len(pending), "latest", m.Latest())
	}
	return nil
}

// Migrator returns the bound migrator, or nil before InitApp.
func (e *Extension) Migrator() *Migrator {
	return e.migrator
}
