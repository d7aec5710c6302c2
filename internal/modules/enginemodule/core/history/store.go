// Package history records finished pass jobs in a SQL database.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Status is the outcome of a pass job.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// JobRecord is one finished pass job.
type JobRecord struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	JobID      string `gorm:"index;not null" json:"job_id"`
	Sequence   uint32 `json:"sequence"`
	Logical    uint32 `gorm:"index" json:"logical"`
	Pass       string `json:"pass"`
	TitleIndex int    `json:"title_index"`
	Source     string `json:"source"`
	Output     string `json:"output"`
	Status     Status `gorm:"index" json:"status"`

	Frames     int64   `json:"frames"`
	OutFrames  int64   `json:"out_frames"`
	TotalTicks int64   `json:"total_ticks"`
	VRateNum   int     `json:"vrate_num"`
	VRateDen   int     `json:"vrate_den"`
	AvgFPS     float64 `json:"avg_fps"`
	Error      string  `json:"error,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// TableName pins the table name.
func (JobRecord) TableName() string { return "job_records" }

// Store persists job records.
type Store struct {
	db     *gorm.DB
	logger hclog.Logger
}

// Open connects to the configured database. dbType is "sqlite" (dsn is a
// file path, or ":memory:") or "postgres".
func Open(dbType, dsn string, log hclog.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch dbType {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", dbType, err)
	}
	if dsn == ":memory:" {
		// every pooled connection would get its own empty database
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	return New(db, log)
}

// New wraps an open database and migrates the job table.
func New(db *gorm.DB, log hclog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&JobRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate job records: %w", err)
	}
	return &Store{db: db, logger: log.Named("history")}, nil
}

// Record inserts a finished job.
func (s *Store) Record(ctx context.Context, rec *JobRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to record job: %w", err)
	}
	s.logger.Debug("recorded job",
		"job_id", rec.JobID,
		"sequence", rec.Sequence,
		"status", rec.Status)
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]JobRecord, error) {
	var recs []JobRecord
	q := s.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return recs, nil
}

// ForJob returns the pass records of one job in pass order.
func (s *Store) ForJob(ctx context.Context, jobID string) ([]JobRecord, error) {
	var recs []JobRecord
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("sequence ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	return recs, nil
}

// Stats summarizes the record table by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int64, error) {
	var rows []struct {
		Status Status
		Count  int64
	}
	if err := s.db.WithContext(ctx).Model(&JobRecord{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	stats := make(map[Status]int64, len(rows))
	for _, r := range rows {
		stats[r.Status] = r.Count
	}
	return stats, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
