package auth

import (
	"fmt"
	"mealbuddy/internal/app"
)

// ExtensionName is the name token auth is bound under.
const ExtensionName = "auth"

// Extension builds the token Manager from the application configuration.
type Extension struct {
	manager *Manager
}

// NewExtension returns an unbound auth extension.
func NewExtension() *Extension {
	return &Extension{}
}

func (e *Extension) Name() string { return ExtensionName }

// InitApp requires JWT_SECRET in production. Elsewhere a missing secret
// is replaced by a random one, which invalidates tokens on restart.
func (e *Extension) InitApp(a *app.App) error {
	cfg := a.Config()
	secret := cfg.JWTSecret
	if secret == "" {
		if cfg.IsProduction() {
			return fmt.Errorf("JWT_SECRET must be set in production: %w", ErrMissingSecret)
		}
		var err error
		if secret, err = RandomSecret(); err != nil {
			return err
		}
		a.Logger().Warn("JWT_SECRET not set, using an ephemeral secret; tokens will not survive a restart")
	}

	m, err := NewManager(secret, cfg.AccessTokenExpiry, cfg.RefreshTokenExpiry)
	if err != nil {
		return err
	}
	e.manager = m
	return nil
}

// Manager returns the bound manager, or nil before InitApp.
func (e *Extension) Manager() *Manager {
	return e.manager
}
