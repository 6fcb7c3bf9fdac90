// Package jobs runs background maintenance on cron schedules.
package jobs

import (
	"log/slog"
	"mealbuddy/internal/config"
	"mealbuddy/internal/database"
	"mealbuddy/internal/storage"
)

// FromConfig builds the scheduler the serving process starts. The upload
// sweeper is registered only when UPLOAD_RETENTION is positive.
func FromConfig(cfg *config.Config, db *database.DB, log *slog.Logger) (*Scheduler, error) {
	s, err := NewScheduler(log)
	if err != nil {
		return nil, err
	}
	if cfg.UploadRetention <= 0 || db == nil {
		return s, nil
	}

	dir, err := cfg.UploadDir()
	if err != nil {
		_ = s.Stop()
		return nil, err
	}
	sweeper := NewUploadSweeper(db, storage.NewStore(dir, cfg.MaxUploadSize), cfg.UploadRetention, log)
	if err := s.Register(UploadSweeperName, cfg.UploadSweepCron, sweeper); err != nil {
		_ = s.Stop()
		return nil, err
	}
	return s, nil
}
