package database

import (
	"context"
	"errors"
	"mealbuddy/internal/app"
)

// ExtensionName is the name persistence is bound under.
const ExtensionName = "persistence"

// ErrNotBound is returned when the handle is used before InitApp.
var ErrNotBound = errors.New("persistence not bound to an application")

// Provider is the part of persistence feature modules depend on.
type Provider interface {
	Handle() *DB
	Register(tables ...Table) error
}

// Extension lazily opens the process-wide handle when bound to an app.
type Extension struct {
	db *DB
}

// NewExtension returns an unbound persistence extension.
func NewExtension() *Extension {
	return &Extension{}
}

func (e *Extension) Name() string { return ExtensionName }

// InitApp opens DATABASE_URL and arranges for the handle to close on
// application shutdown.
func (e *Extension) InitApp(a *app.App) error {
	db, err := New(a.Config().DatabaseURL)
	if err != nil {
		return err
	}
	e.db = db
	a.OnShutdown(db.Close)
	a.Logger().Info("database connected", "dialect", db.Dialect())
	return nil
}

// Handle returns the bound handle, or nil before InitApp.
func (e *Extension) Handle() *DB {
	return e.db
}

// Register records tables for CreateAll.
func (e *Extension) Register(tables ...Table) error {
	if e.db == nil {
		return ErrNotBound
	}
	e.db.Register(tables...)
	return nil
}

// CreateAll creates all registered tables.
func (e *Extension) CreateAll(ctx context.Context) error {
	if e.db == nil {
		return ErrNotBound
	}
	return e.db.CreateAll(ctx)
}
