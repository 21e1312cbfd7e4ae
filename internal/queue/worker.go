package queue

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/config"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler processes one job. Returning an error schedules a retry unless
// the error is wrapped with Permanent.
type Handler func(ctx context.Context, job Job) error

// Worker consumes a RedisQueue.
type Worker struct {
	queue        *RedisQueue
	handle       Handler
	pollInterval time.Duration
	blockTimeout time.Duration
	log          *zap.Logger
	metrics      *metrics.Metrics
}

// NewWorker builds a worker that runs handle for every job.
func NewWorker(q *RedisQueue, handle Handler, cfg config.QueueConfig, log *zap.Logger, m *metrics.Metrics) *Worker {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Worker{
		queue:        q,
		handle:       handle,
		pollInterval: poll,
		blockTimeout: poll,
		log:          log.Named("worker"),
		metrics:      m,
	}
}

// Run consumes jobs and promotes delayed ones until ctx is cancelled. It
// does not touch jobs already in processing: those may belong to another
// live worker, and only a sole consumer may move them back with
// RedisQueue.Recover.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.promote(ctx) })
	g.Go(func() error { return w.consume(ctx) })
	return g.Wait()
}

func (w *Worker) consume(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		d, err := w.queue.Dequeue(ctx, w.blockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Error("dequeue failed", zap.Error(err))
			if !sleep(ctx, w.pollInterval) {
				return nil
			}
			continue
		}
		if d == nil {
			continue
		}
		w.Process(ctx, d)
	}
}

func (w *Worker) promote(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		n, err := w.queue.PromoteDue(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.Error("promote delayed jobs failed", zap.Error(err))
		} else if n > 0 {
			w.log.Debug("promoted delayed jobs", zap.Int("count", n))
		}

		if stats, err := w.queue.Stats(ctx); err == nil {
			w.metrics.QueueDepth("ready", stats.Ready)
			w.metrics.QueueDepth("processing", stats.Processing)
			w.metrics.QueueDepth("delayed", stats.Delayed)
			w.metrics.QueueDepth("dead", stats.Dead)
		}
	}
}

// Process runs the handler for one delivery and acks, retries or
// dead-letters it.
func (w *Worker) Process(ctx context.Context, d *Delivery) {
	log := w.log.With(
		zap.String("job_id", d.Job.ID),
		zap.String("payment_id", d.Job.PaymentID),
		zap.Int("attempt", d.Job.Attempts+1),
	)

	err := w.handle(ctx, d.Job)
	if err == nil {
		if ackErr := w.queue.Ack(ctx, d); ackErr != nil {
			log.Error("ack failed", zap.Error(ackErr))
		}
		w.metrics.Fulfillment(metrics.ResultOK)
		log.Info("job done")
		return
	}

	// A cancelled job is left in processing for Recover.
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}

	dead, retryErr := w.queue.Retry(ctx, d, err)
	if retryErr != nil {
		log.Error("reschedule failed", zap.Error(retryErr), zap.NamedError("cause", err))
		return
	}
	if dead {
		w.metrics.Fulfillment(metrics.ResultDead)
		log.Error("job dead-lettered", zap.Error(err))
		return
	}
	w.metrics.Fulfillment(metrics.ResultRetry)
	log.Warn("job failed, retry scheduled",
		zap.Error(err),
		zap.Duration("backoff", w.queue.Backoff(d.Job.Attempts+1)),
	)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
