// Package app assembles dbrag's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/suPer8Hu/dbrag/internal/config"
	"github.com/suPer8Hu/dbrag/internal/db"
	"github.com/suPer8Hu/dbrag/internal/embed"
	"github.com/suPer8Hu/dbrag/internal/httpapi"
	"github.com/suPer8Hu/dbrag/internal/httpapi/handlers"
	"github.com/suPer8Hu/dbrag/internal/jobs"
	"github.com/suPer8Hu/dbrag/internal/rag"
	"github.com/suPer8Hu/dbrag/internal/session"
	"github.com/suPer8Hu/dbrag/internal/sqlagent"
	"github.com/suPer8Hu/dbrag/internal/store/redisstore"
	"github.com/suPer8Hu/dbrag/internal/vector"
	"golang.org/x/sync/errgroup"
)

type App struct {
	Cfg          config.Config
	Log          logrus.FieldLogger
	Sessions     *session.Store
	Index        *vector.Index
	Connector    *session.Connector
	Orchestrator *rag.Orchestrator
	Indexer      *rag.Indexer

	// Set by EnableJobs.
	Jobs *jobs.Service
	Pool *jobs.Pool

	closers []func() error
}

// NewConnector builds the session connector alone, for commands that only
// need to reach a database.
func NewConnector(cfg config.Config, store *session.Store, log logrus.FieldLogger) *session.Connector {
	return session.NewConnector(store, nil, session.ConnectorOptions{
		ConnectTimeout:  cfg.Session.ConnectTimeout,
		MaxOpenConns:    cfg.Session.MaxOpenConns,
		ConnMaxIdleTime: cfg.Session.IdleTTL,
	}, log)
}

// New wires sessions, the vector index, the LLM and embedding backends, and
// the answer cache when Redis is configured.
func New(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*App, error) {
	reg := NewRegistry(cfg)

	llm, err := reg.Get(ctx, cfg.LLM.Provider, cfg.LLM.Model)
	if err != nil {
		return nil, fmt.Errorf("llm provider %q: %w", cfg.LLM.Provider, err)
	}
	backend, err := reg.GetEmbedder(ctx, cfg.Embedding.Provider, cfg.Embedding.Model)
	if err != nil {
		return nil, fmt.Errorf("embedding provider %q: %w", cfg.Embedding.Provider, err)
	}

	a := &App{
		Cfg:      cfg,
		Log:      log,
		Sessions: session.NewStore(),
		Index:    vector.NewIndex(),
	}
	a.Sessions.OnRemove(a.Index.Drop)
	a.Connector = NewConnector(cfg, a.Sessions, log)

	opts := rag.Options{Timeout: cfg.RAG.Timeout, DefaultK: cfg.RAG.K}
	if cfg.Redis.Addr != "" {
		cache, err := redisstore.New(ctx, redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.AnswerTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		opts.Cache = cache
		a.closers = append(a.closers, cache.Close)
		a.Sessions.OnRemove(func(id string) {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := cache.DeletePrefix(dctx, rag.CacheKeyPrefix(id)); err != nil {
				log.WithError(err).WithField("session_id", id).Warn("answer cache cleanup failed")
			}
		})
		log.WithField("addr", cfg.Redis.Addr).Info("answer cache enabled")
	}

	embedder := embed.New(backend)
	a.Orchestrator = rag.NewOrchestrator(
		sqlagent.NewLLMGenerator(llm, cfg.RAG.SQLDialect),
		sqlagent.NewExecutor(),
		rag.NewRetriever(embedder, a.Index),
		a.Index,
		opts,
		log,
	)
	a.Indexer = rag.NewIndexer(embedder, a.Index, rag.IndexerOptions{
		MaxChars: cfg.RAG.ChunkMaxChars,
		Overlap:  cfg.RAG.ChunkOverlap,
		Parallel: cfg.RAG.IndexParallel,
		MaxRows:  cfg.RAG.MaxRows,
	}, log)

	log.WithFields(logrus.Fields{
		"llm":       cfg.LLM.Provider,
		"model":     cfg.LLM.Model,
		"embedding": cfg.Embedding.Provider,
	}).Info("backends ready")
	return a, nil
}

// EnableJobs opens the application database and the job queue (RabbitMQ when
// rabbit.url is set, in-process otherwise) and builds the worker pool.
func (a *App) EnableJobs(ctx context.Context) error {
	gdb, err := db.Connect(a.Cfg.AppDB.Driver, a.Cfg.AppDB.DSN, a.Log)
	if err != nil {
		return err
	}
	if sqlDB, err := gdb.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}
	repo := jobs.NewRepo(gdb)
	if err := repo.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var queue jobs.Queue
	if a.Cfg.Rabbit.URL != "" {
		rq, err := jobs.NewRabbitQueue(a.Cfg.Rabbit.URL, a.Cfg.Rabbit.Queue, a.Cfg.Worker.Concurrency, a.Log)
		if err != nil {
			return fmt.Errorf("rabbit: %w", err)
		}
		queue = rq
		a.Log.WithField("queue", a.Cfg.Rabbit.Queue).Info("index jobs on rabbitmq")
	} else {
		queue = jobs.NewLocalQueue(0)
		a.Log.Info("index jobs on in-process queue")
	}
	a.closers = append(a.closers, queue.Close)

	a.Jobs = jobs.NewService(repo, queue, a.Sessions, a.Indexer, a.Cfg.Worker.MaxAttempts, a.Log)
	a.Pool = jobs.NewPool(a.Jobs, queue, jobs.PoolOptions{
		Concurrency: a.Cfg.Worker.Concurrency,
		RetryDelay:  a.Cfg.Worker.RetryDelay,
	}, a.Log)
	return nil
}

func (a *App) Handler() *handlers.Handler {
	return &handlers.Handler{
		Sessions:     a.Sessions,
		Connector:    a.Connector,
		Orchestrator: a.Orchestrator,
		Indexer:      a.Indexer,
		Index:        a.Index,
		Jobs:         a.Jobs,
		Log:          a.Log,
	}
}

// Serve runs the HTTP API, the index worker pool and the session janitor
// until ctx is cancelled, then shuts the server down gracefully.
func (a *App) Serve(ctx context.Context) error {
	if a.Jobs == nil {
		if err := a.EnableJobs(ctx); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              a.Cfg.HTTP.Addr,
		Handler:           httpapi.NewRouter(a.Handler(), a.Log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		return a.Pool.Run(gctx)
	})
	g.Go(func() error {
		a.Sessions.RunJanitor(gctx, a.Cfg.Session.IdleTTL, a.Cfg.Session.SweepInterval, a.Log)
		return nil
	})
	return g.Wait()
}

// Close releases sessions, the cache, the queue and the app database.
func (a *App) Close() {
	a.Sessions.CloseAll()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.WithError(err).Warn("close")
		}
	}
}
