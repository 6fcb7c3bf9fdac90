package jobs

import (
	"context"
	"log/slog"
	"mealbuddy/internal/database"
	"mealbuddy/internal/storage"
	"time"
)

// UploadSweeperName is the scheduler name of the upload sweeper.
const UploadSweeperName = "upload-sweeper"

// UploadSweeper deletes uploads older than the retention window, file first
// and then its row.
type UploadSweeper struct {
	db        *database.DB
	store     *storage.Store
	retention time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// NewUploadSweeper creates a new upload sweeper
func NewUploadSweeper(db *database.DB, store *storage.Store, retention time.Duration, log *slog.Logger) *UploadSweeper {
	if log == nil {
		log = slog.Default()
	}
	return &UploadSweeper{
		db:        db,
		store:     store,
		retention: retention,
		log:       log.With("job", UploadSweeperName),
		now:       time.Now,
	}
}

type staleUpload struct {
	id         string
	storedName string
}

// Run executes one sweep.
func (j *UploadSweeper) Run(ctx context.Context) error {
	if j.retention <= 0 {
		return nil
	}

	cutoff := j.now().Add(-j.retention).UnixMilli()
	stale, err := j.findStale(ctx, cutoff)
	if err != nil {
		return err
	}

	deleted := 0
	for _, u := range stale {
		if err := j.store.Remove(u.storedName); err != nil {
			j.log.Warn("failed to remove upload file", "upload_id", u.id, "error", err)
			continue
		}
		if _, err := j.db.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, u.id); err != nil {
			j.log.Warn("failed to delete upload row", "upload_id", u.id, "error", err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		j.log.Info("swept expired uploads", "deleted", deleted, "retention", j.retention)
	}
	return nil
}

func (j *UploadSweeper) findStale(ctx context.Context, cutoff int64) ([]staleUpload, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, stored_name FROM uploads WHERE created_at < ? ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []staleUpload
	for rows.Next() {
		var u staleUpload
		if err := rows.Scan(&u.id, &u.storedName); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
