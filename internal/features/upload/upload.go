// Package upload stores user files (recipe photos, menus, shopping lists)
// under /api/upload.
package upload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mealbuddy/internal/app"
	"mealbuddy/internal/database"
	"mealbuddy/internal/middleware"
	"mealbuddy/internal/storage"
	"mealbuddy/pkg/auth"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gofiber/fiber/v2"
)

// sniffLen is how much of the file content detection looks at.
const sniffLen = 3072

// allowedTypes maps a lowercased extension to the MIME types its content
// may be detected as. The first entry is the canonical type.
var allowedTypes = map[string][]string{
	".png":  {"image/png"},
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".gif":  {"image/gif"},
	".webp": {"image/webp"},
	".pdf":  {"application/pdf"},
	".txt":  {"text/plain"},
	".csv":  {"text/csv", "text/plain"},
	".json": {"application/json", "text/plain"},
}

// Blueprint mounts the upload routes.
type Blueprint struct {
	persist database.Provider
	auth    *auth.Manager
	store   *Store
	maxSize int64
	log     *slog.Logger
	dir     func() string
}

// New returns the upload blueprint.
func New(persist database.Provider, m *auth.Manager) *Blueprint {
	return &Blueprint{persist: persist, auth: m}
}

func (b *Blueprint) Name() string { return "upload" }

func (b *Blueprint) Register(a *app.App, r fiber.Router) error {
	if err := b.persist.Register(Table); err != nil {
		return err
	}
	b.store = NewStore(b.persist.Handle())
	b.maxSize = a.Config().MaxUploadSize
	b.log = a.Logger().With("feature", "upload")
	// The directory is prepared after blueprints are mounted.
	b.dir = a.UploadDir

	r.Use(middleware.RequireAuth(b.auth))
	r.Use(middleware.UploadRateLimiter(middleware.RateLimitConfigFrom(a.Config()), a.Logger()))
	r.Post("/", b.upload)
	r.Get("/", b.list)
	r.Get("/:id", b.download)
	r.Delete("/:id", b.delete)
	return nil
}

func (b *Blueprint) files() (*storage.Store, error) {
	dir := b.dir()
	if dir == "" {
		return nil, errors.New("upload directory not prepared")
	}
	return storage.NewStore(dir, b.maxSize), nil
}

func (b *Blueprint) tooLarge() error {
	return fiber.NewError(fiber.StatusRequestEntityTooLarge,
		fmt.Sprintf("File too large. Maximum size is %d MB", b.maxSize/(1024*1024)))
}

// upload saves a multipart "file" field
// POST /api/upload
func (b *Blueprint) upload(c *fiber.Ctx) error {
	header, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "No file provided or invalid file")
	}
	if header.Size == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "File is empty")
	}
	if header.Size > b.maxSize {
		return b.tooLarge()
	}

	name := cleanName(header.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	accepted, ok := allowedTypes[ext]
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest,
			"File type not allowed. Allowed types: PNG, JPG, GIF, WebP, PDF, TXT, CSV, JSON")
	}

	src, err := header.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return err
	}
	head = head[:n]

	detected := mimetype.Detect(head)
	if !matches(detected, accepted) {
		b.log.Warn("rejected upload with mismatched content",
			"user_id", middleware.UserID(c), "extension", ext, "detected", detected.String())
		return fiber.NewError(fiber.StatusBadRequest,
			fmt.Sprintf("File content does not match its extension (detected %s)", detected.String()))
	}

	files, err := b.files()
	if err != nil {
		return err
	}
	stored, size, err := files.Save(io.MultiReader(bytes.NewReader(head), src), ext)
	if errors.Is(err, storage.ErrTooLarge) {
		return b.tooLarge()
	}
	if err != nil {
		return err
	}

	f := &File{
		OwnerID:      middleware.UserID(c),
		OriginalName: name,
		StoredName:   stored,
		ContentType:  accepted[0],
		Size:         size,
	}
	if err := b.store.Create(c.UserContext(), f); err != nil {
		_ = files.Remove(stored)
		return err
	}

	b.log.Info("file uploaded", "user_id", f.OwnerID, "id", f.ID, "size", f.Size, "content_type", f.ContentType)
	return c.Status(fiber.StatusCreated).JSON(f)
}

// list returns the caller's files
// GET /api/upload
func (b *Blueprint) list(c *fiber.Ctx) error {
	files, err := b.store.ListByOwner(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"files": files})
}

// download streams a file back to its owner
// GET /api/upload/:id
func (b *Blueprint) download(c *fiber.Ctx) error {
	f, err := b.find(c)
	if err != nil {
		return err
	}
	files, err := b.files()
	if err != nil {
		return err
	}
	fh, err := files.Open(f.StoredName)
	if err != nil {
		b.log.Error("stored file missing", "id", f.ID, "stored_name", f.StoredName, "error", err)
		return fiber.NewError(fiber.StatusNotFound, "File not found")
	}

	c.Attachment(f.OriginalName)
	c.Set(fiber.HeaderContentType, f.ContentType)
	return c.SendStream(fh, int(f.Size))
}

// delete removes the row and the file on disk
// DELETE /api/upload/:id
func (b *Blueprint) delete(c *fiber.Ctx) error {
	f, err := b.find(c)
	if err != nil {
		return err
	}
	if err := b.store.Delete(c.UserContext(), f.ID); err != nil && !errors.Is(err, database.ErrNotFound) {
		return err
	}
	files, err := b.files()
	if err != nil {
		return err
	}
	if err := files.Remove(f.StoredName); err != nil {
		b.log.Warn("failed to remove stored file", "stored_name", f.StoredName, "error", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// find loads a file owned by the caller. Other users' files answer 404.
func (b *Blueprint) find(c *fiber.Ctx) (*File, error) {
	f, err := b.store.Get(c.UserContext(), c.Params("id"))
	if errors.Is(err, database.ErrNotFound) || (err == nil && f.OwnerID != middleware.UserID(c)) {
		return nil, fiber.NewError(fiber.StatusNotFound, "File not found")
	}
	return f, err
}

func matches(detected *mimetype.MIME, accepted []string) bool {
	for m := detected; m != nil; m = m.Parent() {
		for _, want := range accepted {
			if m.Is(want) {
				return true
			}
		}
	}
	return false
}

// cleanName keeps the base name and caps it at the column width.
func cleanName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" {
		name = "file"
	}
	for len(name) > 255 {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return name
}
