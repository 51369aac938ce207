package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/suPer8Hu/dbrag/internal/store/rabbitmq"
)

// RabbitQueue is the broker-backed Queue. Nacked deliveries dead-letter to
// "<queue>.dlq"; retries wait in "<queue>.retry".
type RabbitQueue struct {
	pub *rabbitmq.Publisher
	con *rabbitmq.Consumer
	log logrus.FieldLogger
}

func NewRabbitQueue(url, queue string, prefetch int, log logrus.FieldLogger) (*RabbitQueue, error) {
	pub, err := rabbitmq.NewPublisher(url, queue)
	if err != nil {
		return nil, err
	}
	con, err := rabbitmq.NewConsumer(url, queue, prefetch)
	if err != nil {
		_ = pub.Close()
		return nil, err
	}
	return &RabbitQueue{pub: pub, con: con, log: log}, nil
}

func (q *RabbitQueue) Publish(ctx context.Context, jobID string) error {
	return q.pub.PublishJob(ctx, jobID)
}

func (q *RabbitQueue) Retry(ctx context.Context, d Delivery, delay time.Duration) error {
	return q.pub.PublishRetry(ctx, rabbitmq.JobMessage{JobID: d.JobID, Attempt: d.Attempt + 1}, delay)
}

func (q *RabbitQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	msgs, err := q.con.Consume(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					q.log.Warn("delivery channel closed")
					return
				}
				m, err := rabbitmq.DecodeJob(d.Body)
				if err != nil {
					q.log.WithError(err).Warn("bad job message")
					_ = d.Nack(false, false)
					continue
				}
				delivery := Delivery{
					JobID:   m.JobID,
					Attempt: m.Attempt,
					Ack:     func() error { return d.Ack(false) },
					Nack:    func() error { return d.Nack(false, false) },
				}
				select {
				case out <- delivery:
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

func (q *RabbitQueue) Close() error {
	_ = q.con.Close()
	return q.pub.Close()
}
