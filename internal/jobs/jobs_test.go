package jobs

import (
	"context"
	"errors"
	"mealbuddy/internal/config"
	"mealbuddy/internal/database"
	"mealbuddy/internal/logging"
	"mealbuddy/internal/migrate"
	"mealbuddy/internal/storage"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	runs atomic.Int32
	err  error
}

func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestScheduler_RegisterAndRunNow(t *testing.T) {
	s, err := NewScheduler(logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })

	job := &countingJob{}
	require.NoError(t, s.Register("count", "*/5 * * * *", job))
	assert.Error(t, s.Register("count", "*/5 * * * *", job), "duplicate names are rejected")
	assert.Error(t, s.Register("broken", "not a cron", job))

	require.NoError(t, s.RunNow(context.Background(), "count"))
	assert.Equal(t, int32(1), job.runs.Load())
	assert.Error(t, s.RunNow(context.Background(), "missing"))

	failing := &countingJob{err: errors.New("boom")}
	require.NoError(t, s.Register("failing", "0 3 * * *", failing))
	assert.EqualError(t, s.RunNow(context.Background(), "failing"), "boom")

	s.Start()
	status := s.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "count", status[0].Name)
	assert.Equal(t, "*/5 * * * *", status[0].Schedule)
	assert.True(t, status[0].NextRunTime.After(time.Now().Add(-time.Second)))
}

func sweeperFixture(t *testing.T) (*database.DB, *storage.Store) {
	t.Helper()
	db, err := database.New("sqlite://" + filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m, err := migrate.New(db)
	require.NoError(t, err)
	_, err = m.Upgrade(context.Background())
	require.NoError(t, err)

	return db, storage.NewStore(t.TempDir(), 0)
}

func addUpload(t *testing.T, db *database.DB, store *storage.Store, id string, createdAt time.Time) string {
	t.Helper()
	name, size, err := store.Save(strings.NewReader("data-"+id), ".txt")
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO uploads (id, owner_id, original_name, stored_name, content_type, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, id, "owner", id+".txt", name, "text/plain", size, createdAt.UnixMilli())
	require.NoError(t, err)
	return name
}

func TestUploadSweeper_RemovesExpired(t *testing.T) {
	db, store := sweeperFixture(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	oldName := addUpload(t, db, store, "old", now.Add(-48*time.Hour))
	freshName := addUpload(t, db, store, "fresh", now.Add(-time.Hour))

	sweeper := NewUploadSweeper(db, store, 24*time.Hour, logging.Discard())
	sweeper.now = func() time.Time { return now }
	require.NoError(t, sweeper.Run(context.Background()))

	var ids []string
	rows, err := db.Query(`SELECT id FROM uploads`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	assert.Equal(t, []string{"fresh"}, ids)

	oldPath, _ := store.Path(oldName)
	freshPath, _ := store.Path(freshName)
	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err), "expired file should be deleted")
	_, err = os.Stat(freshPath)
	assert.NoError(t, err)
}

func TestUploadSweeper_ZeroRetentionIsNoop(t *testing.T) {
	db, store := sweeperFixture(t)
	addUpload(t, db, store, "old", time.Now().Add(-365*24*time.Hour))

	require.NoError(t, NewUploadSweeper(db, store, 0, nil).Run(context.Background()))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM uploads`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestFromConfig(t *testing.T) {
	db, _ := sweeperFixture(t)

	cfg := config.Default()
	cfg.InstancePath = t.TempDir()
	s, err := FromConfig(cfg, db, logging.Discard())
	require.NoError(t, err)
	assert.Empty(t, s.Status(), "no sweeper without retention")
	_ = s.Stop()

	cfg.UploadRetention = time.Hour
	cfg.UploadSweepCron = "15 * * * *"
	s, err = FromConfig(cfg, db, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })
	status := s.Status()
	require.Len(t, status, 1)
	assert.Equal(t, UploadSweeperName, status[0].Name)
	assert.Equal(t, "15 * * * *", status[0].Schedule)
}
