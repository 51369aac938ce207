package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/dbrag/internal/errs"
	"github.com/suPer8Hu/dbrag/internal/rag"
	"github.com/suPer8Hu/dbrag/internal/session"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// one connection keeps the shared in-memory database free of lock errors
	sqlDB.SetMaxOpenConns(1)
	if err := NewRepo(db).Migrate(); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type fakeIndexer struct {
	err   error
	calls atomic.Int32
}

func (f *fakeIndexer) IndexAll(ctx context.Context, sess *session.Session, maxRows int) (map[string]rag.TableStats, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return map[string]rag.TableStats{
		"users": {Rows: maxRows, Chunks: 1, Columns: []string{"name"}},
	}, nil
}

type fixture struct {
	repo    *Repo
	queue   *LocalQueue
	store   *session.Store
	indexer *fakeIndexer
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	f := &fixture{
		repo:    NewRepo(openTestDB(t)),
		queue:   NewLocalQueue(8),
		store:   session.NewStore(),
		indexer: &fakeIndexer{},
	}
	f.store.Put(&session.Session{ID: "sess-1"})
	f.svc = NewService(f.repo, f.queue, f.store, f.indexer, 3, log)
	t.Cleanup(func() { _ = f.queue.Close() })
	return f
}

func TestSubmit_UnknownSession(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.Submit(context.Background(), "nope", 10, "")
	assert.True(t, errors.Is(err, errs.SessionNotFound))
}

func TestSubmit_QueuesAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, created, err := f.svc.Submit(ctx, "sess-1", 0, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, rag.DefaultMaxRows, job.MaxRows)
	assert.Len(t, job.ID, 26)

	select {
	case m := <-f.queue.ch:
		assert.Equal(t, job.ID, m.jobID)
	default:
		t.Fatal("expected a published message")
	}
}

func TestSubmit_IdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.svc.Submit(ctx, "sess-1", 10, "k1")
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := f.svc.Submit(ctx, "sess-1", 10, "k1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, f.queue.ch, 1)
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, errs.NotFound))
}

func TestRun_Succeeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job, _, err := f.svc.Submit(ctx, "sess-1", 7, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Run(ctx, job.ID, 0))

	got, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Nil(t, got.Error)

	stats, err := DecodeStats(got)
	require.NoError(t, err)
	assert.Equal(t, 7, stats["users"].Rows)
}

func TestRun_SkipsFinishedJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job, _, err := f.svc.Submit(ctx, "sess-1", 7, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Run(ctx, job.ID, 0))
	require.NoError(t, f.svc.Run(ctx, job.ID, 0))
	assert.EqualValues(t, 1, f.indexer.calls.Load())
}

func TestRun_SessionGone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job, _, err := f.svc.Submit(ctx, "sess-1", 7, "")
	require.NoError(t, err)
	require.NoError(t, f.store.Remove("sess-1"))

	err = f.svc.Run(ctx, job.ID, 0)
	assert.True(t, errors.Is(err, errs.SessionNotFound))

	got, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "SessionNotFoundError")
}

func TestRun_RetriesEmbeddingFailures(t *testing.T) {
	f := newFixture(t)
	f.indexer.err = errs.Wrap(errs.KindEmbeddingBackend, "embed documents", errors.New("503"))
	ctx := context.Background()
	job, _, err := f.svc.Submit(ctx, "sess-1", 7, "")
	require.NoError(t, err)

	err = f.svc.Run(ctx, job.ID, 0)
	var retry *errRetry
	require.True(t, errors.As(err, &retry))
	got, _ := f.svc.Get(ctx, job.ID)
	assert.Equal(t, StatusQueued, got.Status)

	err = f.svc.Run(ctx, job.ID, 2)
	assert.False(t, errors.As(err, &retry))
	got, _ = f.svc.Get(ctx, job.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestRun_OtherFailuresAreFinal(t *testing.T) {
	f := newFixture(t)
	f.indexer.err = errs.New(errs.KindQueryExecution, "no such table")
	ctx := context.Background()
	job, _, err := f.svc.Submit(ctx, "sess-1", 7, "")
	require.NoError(t, err)

	err = f.svc.Run(ctx, job.ID, 0)
	require.Error(t, err)
	got, _ := f.svc.Get(ctx, job.ID)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestPool_ProcessesLocalQueue(t *testing.T) {
	f := newFixture(t)
	log, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewPool(f.svc, f.queue, PoolOptions{Concurrency: 2, RetryDelay: 10 * time.Millisecond}, log)
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	job, _, err := f.svc.Submit(ctx, "sess-1", 3, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := f.svc.Get(context.Background(), job.ID)
		return err == nil && got.Status == StatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestPool_RetryThenSucceed(t *testing.T) {
	f := newFixture(t)
	log, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flaky := &flakyIndexer{failures: 1}
	f.svc.indexer = flaky

	pool := NewPool(f.svc, f.queue, PoolOptions{Concurrency: 1, RetryDelay: 10 * time.Millisecond}, log)
	go func() { _ = pool.Run(ctx) }()

	job, _, err := f.svc.Submit(ctx, "sess-1", 3, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := f.svc.Get(context.Background(), job.ID)
		return err == nil && got.Status == StatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	got, _ := f.svc.Get(context.Background(), job.ID)
	assert.Equal(t, 2, got.Attempts)
}

type flakyIndexer struct {
	failures int32
	calls    atomic.Int32
}

func (f *flakyIndexer) IndexAll(ctx context.Context, sess *session.Session, maxRows int) (map[string]rag.TableStats, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errs.New(errs.KindEmbeddingBackend, "backend busy")
	}
	return map[string]rag.TableStats{}, nil
}

// cancellingIndexer cancels the run's context before failing, as a shutdown
// would mid-job.
type cancellingIndexer struct {
	cancel context.CancelFunc
	err    error
}

func (c *cancellingIndexer) IndexAll(ctx context.Context, sess *session.Session, maxRows int) (map[string]rag.TableStats, error) {
	c.cancel()
	return nil, c.err
}

func TestRun_RecordsOutcomeAfterCancel(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Status
	}{
		{"final failure", errs.New(errs.KindQueryExecution, "no such table"), StatusFailed},
		{"retryable failure", errs.New(errs.KindEmbeddingBackend, "backend busy"), StatusQueued},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			job, _, err := f.svc.Submit(context.Background(), "sess-1", 7, "")
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			f.svc.indexer = &cancellingIndexer{cancel: cancel, err: tc.err}

			require.Error(t, f.svc.Run(ctx, job.ID, 0))
			got, err := f.svc.Get(context.Background(), job.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Status)
			require.NotNil(t, got.Error)
		})
	}
}

func TestRun_RecordsSuccessAfterCancel(t *testing.T) {
	f := newFixture(t)
	job, _, err := f.svc.Submit(context.Background(), "sess-1", 7, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.svc.indexer = &cancellingIndexer{cancel: cancel}

	require.NoError(t, f.svc.Run(ctx, job.ID, 0))
	got, err := f.svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
}
