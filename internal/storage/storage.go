// Package storage keeps the sync history ledger using GORM and SQLite
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Sentinel errors
var (
	ErrNilRun        = errors.New("run cannot be nil")
	ErrNilInstall    = errors.New("installed upload cannot be nil")
	ErrRunNotFound   = errors.New("run not found")
	ErrInvalidStatus = errors.New("invalid run status")
	ErrMissingRunID  = errors.New("run id is required")
)

// Run statuses
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// SyncRun is one real (non dry-run) invocation of the mirror.
type SyncRun struct {
	ID uint `gorm:"primaryKey"`

	StartedAt  time.Time `gorm:"not null;index"`
	FinishedAt *time.Time

	OutputDir     string `gorm:"not null"`
	PublishedOnly bool   `gorm:"not null;default:false"`

	Status       string `gorm:"not null;index"`
	ErrorMessage string `gorm:"type:text"`

	GameCount   int
	UploadCount int
	AssetCount  int

	Uploads []InstalledUpload `gorm:"foreignKey:RunID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// InstalledUpload records an upload the daemon finished installing.
type InstalledUpload struct {
	ID    uint `gorm:"primaryKey"`
	RunID uint `gorm:"not null;index"`

	GameID    int64  `gorm:"not null;index"`
	GameTitle string `gorm:"not null"`

	UploadID      int64  `gorm:"not null"`
	UploadName    string
	InstallFolder string `gorm:"not null"`
	JobID         string

	InstalledAt time.Time `gorm:"not null"`
}

// RunResult is the outcome written when a run ends.
type RunResult struct {
	Status      string
	Err         error
	GameCount   int
	UploadCount int
	AssetCount  int
}

// DB wraps gorm.DB with the ledger operations
type DB struct {
	db *gorm.DB
}

// Config holds database configuration
type Config struct {
	DatabasePath string
	LogLevel     string // silent, error, warn, info
}

// InitDB opens the database, creating its directory, and runs migrations
func InitDB(cfg Config) (*DB, error) {
	logLevel := logger.Silent
	switch cfg.LogLevel {
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	}

	if cfg.DatabasePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer; installs are recorded from concurrent goroutines.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&SyncRun{}, &InstalledUpload{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}

// StartRun inserts run with status running. StartedAt defaults to now.
func (d *DB) StartRun(run *SyncRun) error {
	if run == nil {
		return ErrNilRun
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Status = StatusRunning
	if err := d.db.Create(run).Error; err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// RecordInstall appends an installed upload to its run
func (d *DB) RecordInstall(install *InstalledUpload) error {
	if install == nil {
		return ErrNilInstall
	}
	if install.RunID == 0 {
		return ErrMissingRunID
	}
	if install.InstalledAt.IsZero() {
		install.InstalledAt = time.Now().UTC()
	}
	if err := d.db.Create(install).Error; err != nil {
		return fmt.Errorf("failed to record install for upload %d: %w", install.UploadID, err)
	}
	return nil
}

// FinishRun stores the final status and counters of a run
func (d *DB) FinishRun(id uint, result RunResult) error {
	if result.Status != StatusSuccess && result.Status != StatusFailed {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, result.Status)
	}
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":       result.Status,
		"finished_at":  now,
		"game_count":   result.GameCount,
		"upload_count": result.UploadCount,
		"asset_count":  result.AssetCount,
	}
	if result.Err != nil {
		updates["error_message"] = result.Err.Error()
	}

	tx := d.db.Model(&SyncRun{}).Where("id = ?", id).Updates(updates)
	if tx.Error != nil {
		return fmt.Errorf("failed to finish run %d: %w", id, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	return nil
}

// GetRun returns a run with its installed uploads
func (d *DB) GetRun(id uint) (*SyncRun, error) {
	var run SyncRun
	err := d.db.Preload("Uploads", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).First(&run, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %d: %w", id, err)
	}
	return &run, nil
}

// ListRuns returns the most recent runs first. A limit of zero or less returns all runs.
func (d *DB) ListRuns(limit int) ([]SyncRun, error) {
	var runs []SyncRun
	q := d.db.Order("started_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}
