// Package history records the outcome of past sync runs in a local
// SQLite database. The store is write-only from the orchestrator's point
// of view: the sync logic never consults it, source state always wins.
package history

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/watchhero/jellyfin-watch-sync/internal/sync"
)

// SyncRun is one completed invocation of the tool
type SyncRun struct {
	ID         uint      `gorm:"primaryKey"`
	StartedAt  time.Time `gorm:"not null"`
	FinishedAt time.Time `gorm:"not null"`
	Mode       string    `gorm:"size:16;not null"`
	DryRun     bool      `gorm:"not null"`

	UsersCreated int
	Total        int
	Completed    int
	Skipped      int
	Failed       int

	Users []UserSyncRecord `gorm:"foreignKey:SyncRunID;constraint:OnDelete:CASCADE"`
}

// UserSyncRecord is the per-user breakdown of one run
type UserSyncRecord struct {
	ID        uint   `gorm:"primaryKey"`
	SyncRunID uint   `gorm:"index;not null"`
	UserName  string `gorm:"size:255;not null"`
	Total     int
	Completed int
	Skipped   int
	Failed    int
}

// Store wraps the history database
type Store struct {
	db *gorm.DB
}

// Open opens (and migrates) the history database at the given path
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if err := db.AutoMigrate(&SyncRun{}, &UserSyncRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Record persists a finished run with its per-user results
func (s *Store) Record(startedAt time.Time, mode string, dryRun bool, usersCreated int, summary *sync.RunSummary) error {
	run := SyncRun{
		StartedAt:    startedAt,
		FinishedAt:   time.Now(),
		Mode:         mode,
		DryRun:       dryRun,
		UsersCreated: usersCreated,
		Total:        summary.Aggregate.Total,
		Completed:    summary.Aggregate.Completed,
		Skipped:      summary.Aggregate.Skipped,
		Failed:       summary.Aggregate.Failed,
	}
	for _, report := range summary.Users {
		run.Users = append(run.Users, UserSyncRecord{
			UserName:  report.User,
			Total:     report.Result.Total,
			Completed: report.Result.Completed,
			Skipped:   report.Result.Skipped,
			Failed:    report.Result.Failed,
		})
	}

	if err := s.db.Create(&run).Error; err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

// Recent returns the most recent runs, newest first
func (s *Store) Recent(limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 10
	}
	var runs []SyncRun
	err := s.db.Preload("Users").
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load sync runs: %w", err)
	}
	return runs, nil
}

// Close closes the underlying database handle
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
