package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/suPer8Hu/dbrag/internal/common"
	"github.com/suPer8Hu/dbrag/internal/errs"
	"github.com/suPer8Hu/dbrag/internal/rag"
	"github.com/suPer8Hu/dbrag/internal/session"
	"gorm.io/gorm"
)

// Indexer is the index-all operation a job runs.
type Indexer interface {
	IndexAll(ctx context.Context, sess *session.Session, maxRows int) (map[string]rag.TableStats, error)
}

// SessionLookup resolves a session id to a live session.
type SessionLookup interface {
	Get(id string) (*session.Session, error)
}

// statusWriteTimeout bounds the final status update of a run.
const statusWriteTimeout = 5 * time.Second

// errRetry marks a failed run that was requeued rather than failed.
type errRetry struct{ cause error }

func (e *errRetry) Error() string { return "retry scheduled: " + e.cause.Error() }
func (e *errRetry) Unwrap() error { return e.cause }

type Service struct {
	repo        *Repo
	queue       Queue
	sessions    SessionLookup
	indexer     Indexer
	maxAttempts int
	log         logrus.FieldLogger
}

func NewService(repo *Repo, queue Queue, sessions SessionLookup, indexer Indexer, maxAttempts int, log logrus.FieldLogger) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Service{
		repo:        repo,
		queue:       queue,
		sessions:    sessions,
		indexer:     indexer,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

// Submit records a queued job and publishes it. A repeated idempotency key
// for the same session returns the existing job with created=false.
func (s *Service) Submit(ctx context.Context, sessionID string, maxRows int, idempotencyKey string) (*IndexJob, bool, error) {
	if _, err := s.sessions.Get(sessionID); err != nil {
		return nil, false, err
	}
	if maxRows <= 0 {
		maxRows = rag.DefaultMaxRows
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, false, errs.Wrap(errs.KindInternal, "job id", err)
	}
	job := &IndexJob{
		ID:        id,
		SessionID: sessionID,
		MaxRows:   maxRows,
		Status:    StatusQueued,
	}
	if idempotencyKey != "" {
		job.IdempotencyKey = &idempotencyKey
	}

	job, created, err := s.repo.CreateOrGetExisting(ctx, job)
	if err != nil {
		return nil, false, errs.Wrap(errs.KindInternal, "create job", err)
	}
	if !created {
		return job, false, nil
	}

	if err := s.queue.Publish(ctx, job.ID); err != nil {
		s.record(ctx, job.ID, "failed", func(wctx context.Context) error {
			return s.repo.MarkFailed(wctx, job.ID, "enqueue failed: "+err.Error())
		})
		return nil, false, errs.Wrap(errs.KindInternal, "enqueue job", err)
	}
	return job, true, nil
}

func (s *Service) Get(ctx context.Context, jobID string) (*IndexJob, error) {
	j, err := s.repo.GetByID(ctx, jobID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.New(errs.KindNotFound, "job not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "load job", err)
	}
	return j, nil
}

// DecodeStats returns the per-table stats of a succeeded job.
func DecodeStats(j *IndexJob) (map[string]rag.TableStats, error) {
	if j.Stats == nil {
		return nil, nil
	}
	var out map[string]rag.TableStats
	if err := json.Unmarshal([]byte(*j.Stats), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Run executes one delivery of a job. Transient embedding failures below the
// attempt limit requeue the job and return an *errRetry; any other failure
// marks it failed.
func (s *Service) Run(ctx context.Context, jobID string, attempt int) error {
	started, err := s.repo.MarkRunning(ctx, jobID)
	if err != nil {
		return err
	}
	if !started {
		s.log.WithField("job_id", jobID).Info("job not queued, skipping")
		return nil
	}

	j, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	sess, err := s.sessions.Get(j.SessionID)
	if err != nil {
		s.record(ctx, jobID, "failed", func(wctx context.Context) error {
			return s.repo.MarkFailed(wctx, jobID, errs.Describe(err))
		})
		return err
	}

	stats, err := s.indexer.IndexAll(ctx, sess, j.MaxRows)
	if err != nil {
		if errs.KindOf(err) == errs.KindEmbeddingBackend && attempt+1 < s.maxAttempts {
			s.record(ctx, jobID, "requeued", func(wctx context.Context) error {
				return s.repo.MarkRequeued(wctx, jobID, errs.Describe(err))
			})
			return &errRetry{cause: err}
		}
		s.record(ctx, jobID, "failed", func(wctx context.Context) error {
			return s.repo.MarkFailed(wctx, jobID, errs.Describe(err))
		})
		return err
	}

	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	wctx, cancel := statusContext(ctx)
	defer cancel()
	return s.repo.MarkSucceeded(wctx, jobID, string(raw))
}

// statusContext outlives ctx's cancellation so a job being shut down still
// leaves the running state.
func statusContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
}

func (s *Service) record(ctx context.Context, jobID, status string, write func(context.Context) error) {
	wctx, cancel := statusContext(ctx)
	defer cancel()
	if err := write(wctx); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"job_id": jobID,
			"status": status,
		}).Error("job status update failed")
	}
}
