// Package store is the shared relational gateway for recordings, analyses,
// stream metadata and dashboard accounts. It replaces the module-global
// connection pattern of the original implementation (see DESIGN.md) with an
// explicit value that every component receives via constructor injection.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/diogoviannaaraujo/panoptic/internal/config"
	"github.com/diogoviannaaraujo/panoptic/internal/models"
)

// Store wraps a pooled gorm connection. The wrapped *gorm.DB auto-commits
// and reconnects lazily the way the original psycopg2 module did: on first
// use after Close a caller must build a new Store.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open connects to PostgreSQL and runs the auto-migration for every table
// this repository owns. Schema is otherwise assumed to pre-exist, but
// AutoMigrate is idempotent and safe to run on top of a migrated schema.
func Open(cfg config.DatabaseConfig, log zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Recording{},
		&models.Analysis{},
		&models.StreamRecord{},
		&models.DetectorConfigRow{},
		&models.Camera{},
		&models.User{},
	); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB exposes the underlying *gorm.DB for components (e.g. the dashboard)
// that need direct query access beyond the methods below.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// InsertRecording persists a copied segment. Failure here never deletes the
// already-copied file; the file on disk is authoritative, this row is just
// an index over it.
func (s *Store) InsertRecording(streamID, filename, filepath string, recordedAt time.Time) error {
	rec := models.Recording{
		StreamID:   streamID,
		Filename:   filename,
		Filepath:   filepath,
		RecordedAt: recordedAt,
	}
	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("store: insert recording: %w", err)
	}
	return nil
}

// UpsertStream records or refreshes a discovered stream's metadata.
func (s *Store) UpsertStream(rec models.StreamRecord) error {
	rec.LastSeenAt = time.Now()
	rec.UpdatedAt = time.Now()
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "stream_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "source_type", "source_url", "ready",
			"bytes_received", "bytes_sent", "last_seen_at", "updated_at",
		}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("store: upsert stream: %w", err)
	}
	return nil
}

// MarkStreamsOffline flips ready=false for every currently-ready stream not
// present in activeStreamIDs. An empty slice marks every ready stream
// offline (used on shutdown).
func (s *Store) MarkStreamsOffline(activeStreamIDs []string) error {
	q := s.db.Model(&models.StreamRecord{}).Where("ready = ?", true)
	if len(activeStreamIDs) > 0 {
		q = q.Where("stream_id NOT IN ?", activeStreamIDs)
	}
	if err := q.Updates(map[string]interface{}{
		"ready":      false,
		"updated_at": time.Now(),
	}).Error; err != nil {
		return fmt.Errorf("store: mark streams offline: %w", err)
	}
	return nil
}

// GetDetectorConfig returns the per-stream motion detector override, or
// (nil, nil) if no row exists for stream_id.
func (s *Store) GetDetectorConfig(streamID string) (*models.DetectorConfigRow, error) {
	var row models.DetectorConfigRow
	err := s.db.Where("stream_id = ?", streamID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get detector config: %w", err)
	}
	return &row, nil
}

// PendingRecording is a recording lacking a matching analysis row.
type PendingRecording struct {
	ID       uint
	StreamID string
	Filename string
	Filepath string
}

// GetPendingRecordings returns recordings without an analysis row, ordered
// so that per-stream FIFOs (built by the caller) preserve recorded_at order.
func (s *Store) GetPendingRecordings() ([]PendingRecording, error) {
	var rows []models.Recording
	err := s.db.
		Joins("LEFT JOIN analyses ON analyses.recording_id = recordings.id").
		Where("analyses.id IS NULL").
		Order("recordings.stream_id, recordings.recorded_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: get pending recordings: %w", err)
	}

	pending := make([]PendingRecording, 0, len(rows))
	for _, r := range rows {
		pending = append(pending, PendingRecording{
			ID:       r.ID,
			StreamID: r.StreamID,
			Filename: r.Filename,
			Filepath: r.Filepath,
		})
	}
	return pending, nil
}

// AnalysisResult is the outcome the Analyser writes back for one recording.
type AnalysisResult struct {
	Description   *string
	Danger        bool
	DangerLevel   int
	DangerDetails *string
	RawResponse   *string
	Error         *string
}

// InsertAnalysis writes exactly one analysis row for a recording. The
// scheduler enforces at-most-once by selection (GetPendingRecordings); the
// unique index on recording_id also rejects a second row.
func (s *Store) InsertAnalysis(recordingID uint, result AnalysisResult) error {
	row := models.Analysis{
		RecordingID:   recordingID,
		Description:   result.Description,
		Danger:        result.Danger,
		DangerLevel:   result.DangerLevel,
		DangerDetails: result.DangerDetails,
		RawResponse:   result.RawResponse,
		Error:         result.Error,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("store: insert analysis: %w", err)
	}
	return nil
}
