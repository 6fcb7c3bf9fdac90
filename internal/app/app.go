package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mealbuddy/internal/config"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsPath is where the Prometheus registry is exposed.
const MetricsPath = "/metrics"

var (
	// ErrAlreadyBound is returned when an extension is initialised twice.
	ErrAlreadyBound = errors.New("extension already bound")
	// ErrDuplicatePrefix is returned when two blueprints claim one prefix.
	ErrDuplicatePrefix = errors.New("prefix already mounted")
	// ErrInvalidPrefix is returned for prefixes that are not absolute paths.
	ErrInvalidPrefix = errors.New("invalid mount prefix")
)

// Extension is a cross-cutting capability bound once to the application.
type Extension interface {
	Name() string
	InitApp(a *App) error
}

// Blueprint is a feature module mounted under a URL prefix.
type Blueprint interface {
	Name() string
	Register(a *App, r fiber.Router) error
}

// Mount is an entry of the mount table.
type Mount struct {
	Prefix    string
	Blueprint Blueprint
}

// App is the single long-lived application instance.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	fiber    *fiber.App
	registry *prometheus.Registry

	extensions map[string]Extension
	bindOrder  []string
	mounts     []Mount
	uploadDir  string

	mu       sync.Mutex
	closers  []func() error
	shutdown bool
}

// New creates the application shell: the HTTP engine with recovery,
// request ids, access logging and metrics.
func New(cfg *config.Config, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}

	a := &App{
		cfg:        cfg,
		logger:     log,
		registry:   prometheus.NewRegistry(),
		extensions: make(map[string]Extension),
	}

	a.fiber = fiber.New(fiber.Config{
		AppName:               "MealBuddy API",
		BodyLimit:             int(cfg.MaxUploadSize) + 1<<20, // multipart overhead on top of the file cap
		ReadTimeout:           60 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(log),
	})

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.fiber.Use(recover.New())
	a.fiber.Use(requestid.New())
	a.fiber.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == HealthPath || c.Path() == MetricsPath
		},
	}))

	prom := fiberprometheus.NewWithRegistry(a.registry, "mealbuddy", "http", "", nil)
	a.fiber.Use(prom.Middleware)
	a.fiber.Get(MetricsPath, adaptor.HTTPHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	return a
}

// Config returns the configuration the application was built with.
func (a *App) Config() *config.Config { return a.cfg }

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Fiber returns the underlying HTTP engine.
func (a *App) Fiber() *fiber.App { return a.fiber }

// Registry returns the per-application Prometheus registry.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// InitExtension binds ext to the application. Each extension name may be
// bound only once for the lifetime of the application.
func (a *App) InitExtension(ext Extension) error {
	name := ext.Name()
	if _, ok := a.extensions[name]; ok {
		return fmt.Errorf("%s: %w", name, ErrAlreadyBound)
	}
	if err := ext.InitApp(a); err != nil {
		return fmt.Errorf("bind %s: %w", name, err)
	}
	a.extensions[name] = ext
	a.bindOrder = append(a.bindOrder, name)
	a.logger.Debug("extension bound", "extension", name)
	return nil
}

// Extension looks up a bound extension by name.
func (a *App) Extension(name string) (Extension, bool) {
	ext, ok := a.extensions[name]
	return ext, ok
}

// BoundExtensions lists extension names in bind order.
func (a *App) BoundExtensions() []string {
	return append([]string(nil), a.bindOrder...)
}

// RegisterBlueprint mounts bp under prefix and lets it register its routes.
func (a *App) RegisterBlueprint(prefix string, bp Blueprint) error {
	if !strings.HasPrefix(prefix, "/") || (len(prefix) > 1 && strings.HasSuffix(prefix, "/")) {
		return fmt.Errorf("%q: %w", prefix, ErrInvalidPrefix)
	}
	for _, m := range a.mounts {
		if m.Prefix == prefix {
			return fmt.Errorf("%s (%s): %w", prefix, m.Blueprint.Name(), ErrDuplicatePrefix)
		}
	}
	if err := bp.Register(a, a.fiber.Group(prefix)); err != nil {
		return fmt.Errorf("register blueprint %s at %s: %w", bp.Name(), prefix, err)
	}
	a.mounts = append(a.mounts, Mount{Prefix: prefix, Blueprint: bp})
	a.logger.Debug("blueprint mounted", "blueprint", bp.Name(), "prefix", prefix)
	return nil
}

// Mounts returns a copy of the mount table in registration order.
func (a *App) Mounts() []Mount {
	return append([]Mount(nil), a.mounts...)
}

// Prefixes returns the mounted URL prefixes in registration order.
func (a *App) Prefixes() []string {
	out := make([]string, len(a.mounts))
	for i, m := range a.mounts {
		out[i] = m.Prefix
	}
	return out
}

// Lookup finds the blueprint mounted at exactly prefix.
func (a *App) Lookup(prefix string) (Blueprint, bool) {
	for _, m := range a.mounts {
		if m.Prefix == prefix {
			return m.Blueprint, true
		}
	}
	return nil, false
}

// SetUploadDir records the prepared upload directory.
func (a *App) SetUploadDir(dir string) { a.uploadDir = dir }

// UploadDir returns the prepared upload directory.
func (a *App) UploadDir() string { return a.uploadDir }

// Route is a registered method and path.
type Route struct {
	Method string
	Path   string
}

// Routes lists registered routes sorted by path then method, skipping
// middleware-only entries.
func (a *App) Routes() []Route {
	var out []Route
	seen := make(map[Route]bool)
	for _, r := range a.fiber.GetRoutes(true) {
		if r.Method == fiber.MethodHead || r.Method == fiber.MethodConnect || r.Method == fiber.MethodTrace {
			continue
		}
		rt := Route{Method: r.Method, Path: r.Path}
		if !seen[rt] {
			seen[rt] = true
			out = append(out, rt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path == out[j].Path {
			return out[i].Method < out[j].Method
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// OnShutdown registers fn to run, in reverse order, when the application
// shuts down or a bootstrap fails after fn's resource was acquired.
func (a *App) OnShutdown(fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// Close releases extension resources without touching the HTTP engine.
func (a *App) Close() error {
	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		return nil
	}
	a.shutdown = true
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown stops accepting connections, waits for in-flight requests
// until ctx expires, then releases extension resources.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.fiber.ShutdownWithContext(ctx)
	return errors.Join(err, a.Close())
}

type ctxKey struct{}

// Context returns a context carrying the application, the equivalent of
// an application context for work done outside a request.
func (a *App) Context(parent context.Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, ctxKey{}, a)
}

// FromContext returns the application stored by Context.
func FromContext(ctx context.Context) (*App, bool) {
	a, ok := ctx.Value(ctxKey{}).(*App)
	return a, ok
}
