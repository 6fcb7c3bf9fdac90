package ai

import (
	"encoding/json"
	"io"
	"mealbuddy/internal/config"
	"mealbuddy/internal/testutil"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upstream struct {
	*httptest.Server
	calls atomic.Int32
	auth  atomic.Value
}

func newUpstream(t *testing.T, status int) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		u.auth.Store(r.Header.Get("Authorization"))
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if status != http.StatusOK {
			http.Error(w, `{"error":"boom"}`, status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": req.Model,
			"choices": []map[string]any{{
				"message": map[string]string{"role": "assistant", "content": "Try a lentil stew."},
			}},
			"usage": map[string]int{"prompt_tokens": 5, "completion_tokens": 6, "total_tokens": 11},
		})
	}))
	t.Cleanup(u.Close)
	return u
}

func setup(t *testing.T, mutate func(*config.Config)) *testutil.Env {
	t.Helper()
	env := testutil.New(t, mutate)
	bp := New(env.Auth)
	require.NoError(t, env.App.RegisterBlueprint("/api/ai", bp))
	bp.client.SetOutput(io.Discard)
	return env
}

var ask = map[string]any{
	"messages": []map[string]string{{"role": "user", "content": "What's for dinner?"}},
}

func TestChat_Unconfigured(t *testing.T) {
	env := setup(t, nil)
	token := env.Token(t, "u-1", "user")

	var status map[string]any
	env.Do(t, "GET", "/api/ai/status", token, nil, &status)
	assert.Equal(t, false, status["configured"])

	resp := env.Do(t, "POST", "/api/ai/chat", token, ask, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "AI assistant is not configured", testutil.ErrorOf(t, resp))
}

func TestChat_Forwards(t *testing.T) {
	up := newUpstream(t, http.StatusOK)
	env := setup(t, func(c *config.Config) {
		c.AIBaseURL = up.URL + "/"
		c.AIAPIKey = "sk-test"
		c.AIModel = "chef-1"
	})
	token := env.Token(t, "u-1", "user")

	resp := env.Do(t, "POST", "/api/ai/chat", "", ask, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var out ChatResult
	resp = env.Do(t, "POST", "/api/ai/chat", token, ask, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "chef-1", out.Model)
	assert.Equal(t, "assistant", out.Message.Role)
	assert.Equal(t, "Try a lentil stew.", out.Message.Content)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 11, out.Usage.TotalTokens)
	assert.Equal(t, "Bearer sk-test", up.auth.Load())

	withModel := map[string]any{"messages": ask["messages"], "model": "sous-2"}
	env.Do(t, "POST", "/api/ai/chat", token, withModel, &out)
	assert.Equal(t, "sous-2", out.Model)
}

func TestChat_Validation(t *testing.T) {
	up := newUpstream(t, http.StatusOK)
	env := setup(t, func(c *config.Config) { c.AIBaseURL = up.URL })
	token := env.Token(t, "u-1", "user")

	resp := env.Do(t, "POST", "/api/ai/chat", token, map[string]any{"messages": []any{}}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	bad := map[string]any{"messages": []map[string]string{{"role": "robot", "content": "hi"}}}
	resp = env.Do(t, "POST", "/api/ai/chat", token, bad, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, int32(0), up.calls.Load())
}

func TestChat_RateLimited(t *testing.T) {
	up := newUpstream(t, http.StatusOK)
	env := setup(t, func(c *config.Config) {
		c.AIBaseURL = up.URL
		c.AIRequestsPerMinute = 1
	})
	token := env.Token(t, "u-1", "user")

	resp := env.Do(t, "POST", "/api/ai/chat", token, ask, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.Do(t, "POST", "/api/ai/chat", token, ask, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, int32(1), up.calls.Load())
}

func TestChat_UpstreamFailure(t *testing.T) {
	up := newUpstream(t, http.StatusInternalServerError)
	env := setup(t, func(c *config.Config) { c.AIBaseURL = up.URL })

	resp := env.Do(t, "POST", "/api/ai/chat", env.Token(t, "u-1", "user"), ask, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "AI provider request failed", testutil.ErrorOf(t, resp))
}
