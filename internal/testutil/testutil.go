// Package testutil builds throwaway applications for handler tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mealbuddy/internal/app"
	"mealbuddy/internal/config"
	"mealbuddy/internal/database"
	"mealbuddy/internal/logging"
	"mealbuddy/pkg/auth"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Env is an application bound to a sqlite database in a temp dir.
type Env struct {
	App     *app.App
	Config  *config.Config
	Persist *database.Extension
	Auth    *auth.Manager
}

// New binds persistence against a fresh sqlite file. mutate may adjust
// the configuration before the app is created.
func New(t *testing.T, mutate func(*config.Config)) *Env {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Environment = config.EnvTesting
	cfg.InstancePath = dir
	cfg.DatabaseURL = "sqlite://" + filepath.Join(dir, "test.db")
	if mutate != nil {
		mutate(cfg)
	}

	a := app.New(cfg, logging.Discard())
	t.Cleanup(func() { _ = a.Close() })

	persist := database.NewExtension()
	require.NoError(t, a.InitExtension(persist))

	mgr, err := auth.NewManager("test-secret-test-secret", 15*time.Minute, time.Hour)
	require.NoError(t, err)

	return &Env{App: a, Config: cfg, Persist: persist, Auth: mgr}
}

// Mount registers bp at prefix and creates its tables.
func (e *Env) Mount(t *testing.T, prefix string, bp app.Blueprint) {
	t.Helper()
	require.NoError(t, e.App.RegisterBlueprint(prefix, bp))
	require.NoError(t, e.Persist.CreateAll(context.Background()))
}

// Token issues an access token without touching the users table.
func (e *Env) Token(t *testing.T, id, role string) string {
	t.Helper()
	pair, err := e.Auth.Issue(auth.User{ID: id, Email: id + "@example.com", Role: role})
	require.NoError(t, err)
	return pair.AccessToken
}

// Do sends a JSON request and decodes a JSON response into out when out
// is non-nil.
func (e *Env) Do(t *testing.T, method, path, token string, body any, out any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.Send(t, req, token, out)
}

// Send runs a prepared request.
func (e *Env) Send(t *testing.T, req *http.Request, token string, out any) *http.Response {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.App.Fiber().Test(req, -1)
	require.NoError(t, err)
	if out != nil {
		defer resp.Body.Close()
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

// ErrorOf decodes an {"error": ...} body.
func ErrorOf(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}
