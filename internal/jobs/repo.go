package jobs

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Migrate() error {
	return r.db.AutoMigrate(&IndexJob{})
}

func (r *Repo) Create(ctx context.Context, job *IndexJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetByID(ctx context.Context, id string) (*IndexJob, error) {
	var j IndexJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) GetBySessionAndIdempotencyKey(ctx context.Context, sessionID, key string) (*IndexJob, error) {
	var j IndexJob
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND idempotency_key = ?", sessionID, key).
		First(&j).Error
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateOrGetExisting creates job, unless (session_id, idempotency_key)
// already exists, in which case the existing job is returned with created=false.
func (r *Repo) CreateOrGetExisting(ctx context.Context, job *IndexJob) (*IndexJob, bool, error) {
	if job.IdempotencyKey == nil || *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
		if err := r.Create(ctx, job); err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	err := r.Create(ctx, job)
	if err == nil {
		return job, true, nil
	}

	existing, getErr := r.GetBySessionAndIdempotencyKey(ctx, job.SessionID, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

// MarkRunning moves a queued job to running. It reports false when the job
// was not queued, e.g. a redelivery of a finished job.
func (r *Repo) MarkRunning(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&IndexJob{}).
		Where("id = ? AND status = ?", id, StatusQueued).
		Updates(map[string]any{
			"status":   StatusRunning,
			"attempts": gorm.Expr("attempts + 1"),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *Repo) MarkSucceeded(ctx context.Context, id string, stats string) error {
	return r.db.WithContext(ctx).Model(&IndexJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": StatusSucceeded,
			"stats":  stats,
			"error":  nil,
		}).Error
}

func (r *Repo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&IndexJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": StatusFailed,
			"error":  errMsg,
			"stats":  nil,
		}).Error
}

// MarkRequeued puts a running job back to queued ahead of a retry, keeping
// the last error for inspection.
func (r *Repo) MarkRequeued(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&IndexJob{}).
		Where("id = ? AND status = ?", id, StatusRunning).
		Updates(map[string]any{
			"status": StatusQueued,
			"error":  errMsg,
		}).Error
}
