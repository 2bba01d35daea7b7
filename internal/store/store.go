package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"behavior-session-backend/internal/model"
)

// ErrNotFound is returned when a session is not in the catalog.
var ErrNotFound = errors.New("session not found")

// Store defines the interface for all catalog operations.
type Store interface {
	UpsertSession(ctx context.Context, s *model.Session, artifacts []model.Artifact) error
	ListSessions(ctx context.Context, minDuration time.Duration) ([]model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// UpsertSession writes the session row and its artifacts in one transaction.
// Reprocessing a session overwrites its previous entry.
func (s *gormStore) UpsertSession(ctx context.Context, sess *model.Session, artifacts []model.Artifact) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "start_date", "dir", "preproc_dir", "started_at", "stopped_at",
				"duration_seconds", "reward_events", "reward_volume", "lick_bouts",
				"notes", "processed_at", "updated_at",
			}),
		}).Create(sess).Error; err != nil {
			return fmt.Errorf("failed to upsert session %s: %w", sess.ID, err)
		}

		if len(artifacts) == 0 {
			return nil
		}
		for i := range artifacts {
			artifacts[i].SessionID = sess.ID
		}
		if err := batchUpsertArtifacts(tx, artifacts); err != nil {
			return fmt.Errorf("failed to upsert artifacts of session %s: %w", sess.ID, err)
		}
		return nil
	})
}

// ListSessions returns sessions strictly longer than minDuration, ordered by
// identifier. A zero minDuration lists every session, including those
// without a camera timeline.
func (s *gormStore) ListSessions(ctx context.Context, minDuration time.Duration) ([]model.Session, error) {
	var sessions []model.Session
	query := s.db.WithContext(ctx)
	if minDuration > 0 {
		query = query.Where("duration_seconds > ?", minDuration.Seconds())
	}
	if err := query.Order("id").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// GetSession returns one session with its artifacts.
func (s *gormStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	err := s.db.WithContext(ctx).Preload("Artifacts").First(&sess, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &sess, nil
}

func batchUpsertArtifacts(tx *gorm.DB, artifacts []model.Artifact) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "stream"}},
		DoUpdates: clause.AssignmentColumns([]string{"path", "row_count", "present"}),
	}).Create(&artifacts).Error
}
