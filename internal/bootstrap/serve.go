package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"mealbuddy/internal/app"
	"mealbuddy/internal/config"
	"mealbuddy/internal/database"
	"mealbuddy/internal/jobs"
	"mealbuddy/internal/logging"
	"net"
	"time"
)

// DevAddr is where the development entry point listens.
const DevAddr = "0.0.0.0:3001"

// ServeOptions describes how an application is served. The application
// itself is the same in every mode.
type ServeOptions struct {
	Addr            string
	Debug           bool
	ShutdownTimeout time.Duration

	// Listener, when set, is used instead of Addr.
	Listener net.Listener
	// Ready is called once the application is built, before serving.
	Ready func(*app.App)
}

// Production serves on HOST:PORT.
func Production(cfg *config.Config) ServeOptions {
	return ServeOptions{Addr: cfg.ListenAddr(), ShutdownTimeout: 30 * time.Second}
}

// Development serves on DevAddr with debug logging and a route dump.
func Development() ServeOptions {
	return ServeOptions{Addr: DevAddr, Debug: true, ShutdownTimeout: 5 * time.Second}
}

// Serve bootstraps the application, starts background jobs and serves
// until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, cfg *config.Config, so ServeOptions, opts ...Option) error {
	if so.Debug {
		logging.SetLevel(slog.LevelDebug)
	}

	a, err := CreateApp(cfg, opts...)
	if err != nil {
		return err
	}
	log := a.Logger()

	if so.Debug {
		for _, r := range a.Routes() {
			log.Debug("route", "method", r.Method, "path", r.Path)
		}
	}

	sched, err := jobs.FromConfig(a.Config(), handle(a), log)
	if err != nil {
		_ = a.Close()
		return fmt.Errorf("jobs: %w", err)
	}
	sched.Start()

	if so.Ready != nil {
		so.Ready(a)
	}

	errCh := make(chan error, 1)
	go func() {
		if so.Listener != nil {
			log.Info("server listening", "addr", so.Listener.Addr().String())
			errCh <- a.Fiber().Listener(so.Listener)
			return
		}
		log.Info("server listening", "addr", so.Addr)
		errCh <- a.Fiber().Listen(so.Addr)
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
		log.Info("shutting down server")
	}

	timeout := so.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := sched.Stop(); err != nil {
		log.Warn("error stopping job scheduler", "error", err)
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Warn("error shutting down server", "error", err)
	}
	if serveErr != nil {
		return fmt.Errorf("serve: %w", serveErr)
	}
	return nil
}

// handle finds the SQL handle of the bound persistence, if any.
func handle(a *app.App) *database.DB {
	ext, ok := a.Extension(database.ExtensionName)
	if !ok {
		return nil
	}
	p, ok := ext.(database.Provider)
	if !ok {
		return nil
	}
	return p.Handle()
}

// OpenPersistence binds only persistence, for commands that manage the
// schema without serving.
func OpenPersistence(cfg *config.Config, log *slog.Logger) (*app.App, *database.Extension, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	a := app.New(cfg, log)
	persist := database.NewExtension()
	if err := a.InitExtension(persist); err != nil {
		_ = a.Close()
		return nil, nil, err
	}
	return a, persist, nil
}
