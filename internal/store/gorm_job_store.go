package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/flowforge/pipeline-worker/internal/domain"
	"github.com/flowforge/pipeline-worker/internal/pkg/logger"
	"github.com/flowforge/pipeline-worker/internal/pkg/pointers"
)

// GormJobStore is the production JobStore, backed by Postgres via
// GORM. Claiming uses a row lock plus a conditional update so that
// concurrent workers racing the same job ID are serialized by the
// database rather than by anything in-process.
type GormJobStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGormJobStore(db *gorm.DB, baseLog *logger.Logger) *GormJobStore {
	return &GormJobStore{db: db, log: baseLog.With("component", "JobStore")}
}

// DB exposes the underlying connection for migration and test setup;
// domain logic elsewhere must go through the JobStore interface, not
// this accessor.
func (s *GormJobStore) DB() *gorm.DB { return s.db }

func (s *GormJobStore) FetchQueued(ctx context.Context, limit int, modeFilter string) ([]domain.Job, error) {
	var jobs []domain.Job
	q := s.db.WithContext(ctx).
		Where("status = ?", domain.StatusQueued).
		Order("created_at ASC")
	if modeFilter != "" {
		q = q.Where("mode = ?", modeFilter)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *GormJobStore) FetchBatchQueued(ctx context.Context, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	q := s.db.WithContext(ctx).
		Where("status = ? AND batch_id IS NOT NULL", domain.StatusQueued).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// ClaimJob implements spec.md §4.1's insert-or-conditional-update
// contract in a single transaction: lock the row if present, branch
// on existence, and trust RowsAffected from the conditional UPDATE to
// decide the winner. At most one of N concurrent callers on the same
// jobID observes true.
func (s *GormJobStore) ClaimJob(ctx context.Context, jobID string, snapshot domain.Job, workerID string) (bool, error) {
	claimed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.Job
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", jobID).
			First(&existing).Error

		now := time.Now()

		if errors.Is(err, gorm.ErrRecordNotFound) {
			row := snapshot
			row.ID = jobID
			row.Status = domain.StatusProcessing
			row.WorkerID = pointers.Ptr(workerID)
			row.CreatedAt = now
			row.UpdatedAt = now
			if createErr := tx.Create(&row).Error; createErr != nil {
				return createErr
			}
			claimed = true
			return nil
		}
		if err != nil {
			return err
		}

		res := tx.Model(&domain.Job{}).
			Where("id = ? AND status = ? AND worker_id IS NULL", jobID, domain.StatusQueued).
			Updates(map[string]interface{}{
				"status":     domain.StatusProcessing,
				"worker_id":  workerID,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		claimed = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// MarkTerminal retries transient failures up to 3 attempts with a
// 1s/2s/4s backoff, since a failed terminal write leaves a job stuck
// in processing until the Recoverer eventually reclaims it.
func (s *GormJobStore) MarkTerminal(ctx context.Context, jobID string, status string, errorMessage string, completedAt time.Time) error {
	backoffs := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	updates := map[string]interface{}{
		"status":       status,
		"worker_id":    nil,
		"error":        errorMessage,
		"completed_at": completedAt,
		"updated_at":   time.Now(),
	}

	var lastErr error
	for attempt := 0; attempt <= len(backoffs); attempt++ {
		err := s.db.WithContext(ctx).
			Model(&domain.Job{}).
			Where("id = ?", jobID).
			Updates(updates).Error
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < len(backoffs) {
			s.log.Warn("terminal update failed, retrying", "job_id", jobID, "attempt", attempt+1, "error", err)
			select {
			case <-time.After(backoffs[attempt]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func (s *GormJobStore) Touch(ctx context.Context, jobID string) error {
	return s.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ?", jobID).
		Update("updated_at", time.Now()).Error
}

func (s *GormJobStore) FindStuckProcessing(ctx context.Context, olderThan time.Time) ([]domain.Job, error) {
	var jobs []domain.Job
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", domain.StatusProcessing, olderThan).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *GormJobStore) ResetToQueued(ctx context.Context, jobID string) error {
	return s.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":     domain.StatusQueued,
			"worker_id":  nil,
			"updated_at": time.Now(),
		}).Error
}

func (s *GormJobStore) HasCompletedExecution(ctx context.Context, jobID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&domain.Execution{}).
		Where("job_id = ? AND status = ? AND steps_failed = 0", jobID, domain.ExecutionStatusCompleted).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GormJobStore) RecordExecution(ctx context.Context, exec domain.Execution) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "steps_executed", "steps_failed", "steps_skipped", "started_at", "completed_at", "duration_ns"}),
		}).
		Create(&exec).Error
}

func (s *GormJobStore) GetFlag(ctx context.Context, key string) (string, bool, error) {
	var flag domain.SystemFlag
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&flag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return flag.Value, true, nil
}

func (s *GormJobStore) DeleteFlag(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&domain.SystemFlag{}).Error
}

func (s *GormJobStore) SetFlag(ctx context.Context, key, value string) error {
	flag := domain.SystemFlag{Key: key, Value: value, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&flag).Error
}

func (s *GormJobStore) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("status IN ?", []string{domain.StatusQueued, domain.StatusProcessing}).
		Count(&count).Error
	return count, err
}
