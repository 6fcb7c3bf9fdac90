// Package bootstrap is the composition root: it binds the extensions,
// mounts the feature blueprints and prepares the filesystem.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"mealbuddy/internal/app"
	"mealbuddy/internal/config"
	"mealbuddy/internal/database"
	"mealbuddy/internal/features/ai"
	authfeature "mealbuddy/internal/features/auth"
	"mealbuddy/internal/features/chat"
	"mealbuddy/internal/features/events"
	"mealbuddy/internal/features/upload"
	"mealbuddy/internal/features/users"
	"mealbuddy/internal/middleware"
	"mealbuddy/internal/migrate"
	"mealbuddy/internal/realtime"
	"mealbuddy/internal/storage"
	"mealbuddy/pkg/auth"
)

// Mount prefixes, in registration order.
const (
	PrefixAuth   = "/api/auth"
	PrefixEvents = "/api/events"
	PrefixChat   = "/api/chat"
	PrefixAI     = "/api/ai"
	PrefixUpload = "/api/upload"
	PrefixUsers  = "/api/users"
)

// Persistence is the persistence extension as bootstrap sees it.
type Persistence interface {
	app.Extension
	database.Provider
	CreateAll(ctx context.Context) error
}

// Deps are the bound extensions handed to blueprint constructors.
type Deps struct {
	Persistence Persistence
	Auth        *auth.Manager
	Hub         *realtime.Hub
}

// BlueprintSet builds the mount table once the extensions are bound.
type BlueprintSet func(d Deps) []app.Mount

// DefaultBlueprints returns the six feature modules at their fixed
// prefixes.
func DefaultBlueprints(d Deps) []app.Mount {
	return []app.Mount{
		{Prefix: PrefixAuth, Blueprint: authfeature.New(d.Persistence, d.Auth)},
		{Prefix: PrefixEvents, Blueprint: events.New(d.Persistence, d.Auth, d.Hub)},
		{Prefix: PrefixChat, Blueprint: chat.New(d.Persistence, d.Auth, d.Hub)},
		{Prefix: PrefixAI, Blueprint: ai.New(d.Auth)},
		{Prefix: PrefixUpload, Blueprint: upload.New(d.Persistence, d.Auth)},
		{Prefix: PrefixUsers, Blueprint: users.New(d.Persistence, d.Auth)},
	}
}

type options struct {
	persistence Persistence
	blueprints  BlueprintSet
	logger      *slog.Logger
}

// Option customises CreateApp, mainly for tests.
type Option func(*options)

// WithPersistence replaces the SQL persistence extension.
func WithPersistence(p Persistence) Option {
	return func(o *options) { o.persistence = p }
}

// WithBlueprints replaces the production mount table.
func WithBlueprints(set BlueprintSet) Option {
	return func(o *options) { o.blueprints = set }
}

// WithLogger sets the application logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// CreateApp builds the application. On error every resource acquired so
// far is released and no application is returned.
func CreateApp(cfg *config.Config, opts ...Option) (_ *app.App, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := options{blueprints: DefaultBlueprints}
	for _, opt := range opts {
		opt(&o)
	}
	if o.persistence == nil {
		o.persistence = database.NewExtension()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	a := app.New(cfg, o.logger)
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := a.InitExtension(o.persistence); err != nil {
		return nil, fmt.Errorf("persistence: %w", err)
	}
	authExt := auth.NewExtension()
	if err := a.InitExtension(authExt); err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	hub := realtime.NewHub(realtime.WithAuth(authExt.Manager()), realtime.WithLogger(o.logger))
	if err := a.InitExtension(hub); err != nil {
		return nil, fmt.Errorf("realtime: %w", err)
	}
	if err := a.InitExtension(migrate.NewExtension(o.persistence)); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := a.InitExtension(middleware.CORSPolicy{}); err != nil {
		return nil, fmt.Errorf("cors: %w", err)
	}

	deps := Deps{Persistence: o.persistence, Auth: authExt.Manager(), Hub: hub}
	for _, m := range o.blueprints(deps) {
		if err := a.RegisterBlueprint(m.Prefix, m.Blueprint); err != nil {
			return nil, err
		}
	}

	dir, err := cfg.UploadDir()
	if err != nil {
		return nil, err
	}
	if err := storage.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("prepare upload directory: %w", err)
	}
	a.SetUploadDir(dir)

	if cfg.EnableCreateAll {
		o.logger.Warn("ENABLE_CREATE_ALL is set; creating tables without migrations")
		if err := o.persistence.CreateAll(a.Context(context.Background())); err != nil {
			return nil, fmt.Errorf("create tables: %w", err)
		}
	}

	a.RegisterHealth()
	return a, nil
}
