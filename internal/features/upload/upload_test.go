package upload

import (
	"bytes"
	"io"
	"mealbuddy/internal/config"
	"mealbuddy/internal/storage"
	"mealbuddy/internal/testutil"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func setup(t *testing.T, mutate func(*config.Config)) (*testutil.Env, string) {
	t.Helper()
	env := testutil.New(t, mutate)
	env.Mount(t, "/api/upload", New(env.Persist, env.Auth))

	dir, err := env.Config.UploadDir()
	require.NoError(t, err)
	require.NoError(t, storage.EnsureDir(dir))
	env.App.SetUploadDir(dir)
	return env, dir
}

func uploadRequest(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/api/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func storedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestUploadLifecycle(t *testing.T) {
	env, dir := setup(t, nil)
	alice := env.Token(t, "alice", "user")
	bob := env.Token(t, "bob", "user")

	resp := env.Send(t, uploadRequest(t, "soup.png", pngHeader), "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var f File
	resp = env.Send(t, uploadRequest(t, "../../soup.PNG", pngHeader), alice, &f)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, f.ID)
	assert.Equal(t, "alice", f.OwnerID)
	assert.Equal(t, "soup.PNG", f.OriginalName)
	assert.Equal(t, "image/png", f.ContentType)
	assert.Equal(t, int64(len(pngHeader)), f.Size)

	names := storedFiles(t, dir)
	require.Len(t, names, 1)
	assert.Equal(t, ".png", filepath.Ext(names[0]))

	var listing struct {
		Files []File `json:"files"`
	}
	env.Do(t, "GET", "/api/upload", alice, nil, &listing)
	require.Len(t, listing.Files, 1)
	assert.Equal(t, f.ID, listing.Files[0].ID)

	env.Do(t, "GET", "/api/upload", bob, nil, &listing)
	assert.Empty(t, listing.Files)

	resp = env.Do(t, "GET", "/api/upload/"+f.ID, alice, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "soup.PNG")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, body)

	resp = env.Do(t, "GET", "/api/upload/"+f.ID, bob, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = env.Do(t, "DELETE", "/api/upload/"+f.ID, bob, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.Do(t, "DELETE", "/api/upload/"+f.ID, alice, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, storedFiles(t, dir))

	resp = env.Do(t, "GET", "/api/upload/"+f.ID, alice, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadAcceptsText(t *testing.T) {
	env, _ := setup(t, nil)
	token := env.Token(t, "alice", "user")

	cases := map[string]string{
		"list.txt":   "eggs\nflour\nmilk\n",
		"menu.json":  `{"monday":"pasta","tuesday":"curry"}`,
		"plan.csv":   "day,meal\nmon,pasta\ntue,curry\n",
		"notes.json": "not really json but still text",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			resp := env.Send(t, uploadRequest(t, name, []byte(content)), token, nil)
			assert.Equal(t, http.StatusCreated, resp.StatusCode)
		})
	}
}

func TestUploadRejections(t *testing.T) {
	env, dir := setup(t, func(c *config.Config) { c.MaxUploadSize = 64 })
	token := env.Token(t, "alice", "user")

	tests := []struct {
		name     string
		filename string
		content  []byte
		status   int
	}{
		{"disallowed extension", "run.exe", []byte("MZ\x90\x00"), http.StatusBadRequest},
		{"no extension", "README", []byte("hello"), http.StatusBadRequest},
		{"text disguised as image", "photo.png", []byte("just some text"), http.StatusBadRequest},
		{"pdf disguised as text", "notes.txt", []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"), http.StatusBadRequest},
		{"empty file", "empty.txt", nil, http.StatusBadRequest},
		{"too large", "big.txt", bytes.Repeat([]byte("a"), 65), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.Send(t, uploadRequest(t, tt.filename, tt.content), token, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	req := httptest.NewRequest("POST", "/api/upload", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	resp := env.Send(t, req, token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Empty(t, storedFiles(t, dir))
}

func TestCleanName(t *testing.T) {
	assert.Equal(t, "a.png", cleanName(`C:\Users\me\a.png`))
	assert.Equal(t, "b.txt", cleanName("../../b.txt"))
	assert.Equal(t, "file", cleanName(""))
	assert.Len(t, cleanName(string(bytes.Repeat([]byte("x"), 300))+".txt"), 255)
}
