package jobs

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Delivery is one job id handed to the worker pool. Ack settles it; Nack
// gives up on it (RabbitMQ dead-letters it to the DLQ).
type Delivery struct {
	JobID   string
	Attempt int
	Ack     func() error
	Nack    func() error
}

// Queue carries job ids from the API to the worker pool.
type Queue interface {
	Publish(ctx context.Context, jobID string) error
	// Retry redelivers d after delay with its attempt counter incremented.
	Retry(ctx context.Context, d Delivery, delay time.Duration) error
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}

var ErrQueueClosed = errors.New("jobs: queue closed")

type localMsg struct {
	jobID   string
	attempt int
}

// LocalQueue is an in-process Queue used when no broker is configured.
// Messages are lost on restart; the job rows stay queued.
type LocalQueue struct {
	mu     sync.RWMutex
	ch     chan localMsg
	closed bool
}

func NewLocalQueue(buffer int) *LocalQueue {
	if buffer <= 0 {
		buffer = 64
	}
	return &LocalQueue{ch: make(chan localMsg, buffer)}
}

func (q *LocalQueue) Publish(ctx context.Context, jobID string) error {
	return q.send(ctx, localMsg{jobID: jobID})
}

func (q *LocalQueue) send(ctx context.Context, m localMsg) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *LocalQueue) Retry(ctx context.Context, d Delivery, delay time.Duration) error {
	m := localMsg{jobID: d.JobID, attempt: d.Attempt + 1}
	time.AfterFunc(delay, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.send(sctx, m)
	})
	return nil
}

func (q *LocalQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-q.ch:
				if !ok {
					return
				}
				d := Delivery{
					JobID:   m.jobID,
					Attempt: m.attempt,
					Ack:     func() error { return nil },
					Nack:    func() error { return nil },
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (q *LocalQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}
