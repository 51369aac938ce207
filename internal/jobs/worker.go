package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type PoolOptions struct {
	Concurrency int
	RetryDelay  time.Duration
}

// Pool consumes deliveries from a Queue and runs them on a fixed number of
// workers.
type Pool struct {
	svc   *Service
	queue Queue
	opts  PoolOptions
	log   logrus.FieldLogger
}

func NewPool(svc *Service, queue Queue, opts PoolOptions, log logrus.FieldLogger) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.Concurrency > 50 {
		opts.Concurrency = 50
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	return &Pool{svc: svc, queue: queue, opts: opts, log: log}
}

// Run blocks until ctx is done or the queue stops delivering, then waits for
// in-flight jobs.
func (p *Pool) Run(ctx context.Context) error {
	msgs, err := p.queue.Consume(ctx)
	if err != nil {
		return err
	}

	p.log.WithField("concurrency", p.opts.Concurrency).Info("index worker started")

	work := make(chan Delivery, p.opts.Concurrency*2)

	var wg sync.WaitGroup
	wg.Add(p.opts.Concurrency)
	for i := 0; i < p.opts.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range work {
				p.handle(ctx, workerID, d)
			}
		}(i)
	}

	// dispatcher
	defer func() {
		close(work)
		wg.Wait()
		p.log.Info("index worker stopped")
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			work <- d
		}
	}
}

func (p *Pool) handle(ctx context.Context, workerID int, d Delivery) {
	log := p.log.WithFields(logrus.Fields{
		"worker":  workerID,
		"job_id":  d.JobID,
		"attempt": d.Attempt,
	})

	start := time.Now()
	err := p.svc.Run(ctx, d.JobID, d.Attempt)

	var retry *errRetry
	switch {
	case err == nil:
		if ackErr := d.Ack(); ackErr != nil {
			log.WithError(ackErr).Warn("ack failed")
		}
		log.WithField("cost", time.Since(start)).Info("job done")
	case errors.As(err, &retry):
		if rerr := p.queue.Retry(ctx, d, p.opts.RetryDelay); rerr != nil {
			log.WithError(rerr).Error("retry publish failed")
			p.svc.record(ctx, d.JobID, "failed", func(wctx context.Context) error {
				return p.svc.repo.MarkFailed(wctx, d.JobID, "retry publish failed: "+rerr.Error())
			})
			_ = d.Nack()
			return
		}
		_ = d.Ack()
		log.WithError(err).Warn("job requeued")
	default:
		_ = d.Nack()
		log.WithError(err).WithField("cost", time.Since(start)).Error("job failed")
	}
}
