// Package queue is a durable at-least-once job queue on Redis lists.
//
// A job moves ready -> processing with BLMOVE, so a crashed worker leaves
// it in processing where Recover finds it when the sole consumer restarts.
// Failed jobs wait in a sorted set scored by their retry time and are
// dead-lettered after the last attempt.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Job is one unit of fulfillment work.
type Job struct {
	ID         string    `json:"id"`
	PaymentID  string    `json:"payment_id"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Delivery is a job taken from the ready list. Raw is the exact list
// member, needed to remove it from processing.
type Delivery struct {
	Job Job
	Raw string
}

// Stats is the size of each list.
type Stats struct {
	Ready      int64
	Processing int64
	Delayed    int64
	Dead       int64
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the job is dead-lettered at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// RedisQueue stores jobs under name:ready, name:processing, name:delayed and
// name:dead.
type RedisQueue struct {
	rdb         redis.Cmdable
	ready       string
	processing  string
	delayed     string
	dead        string
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	now         func() time.Time
}

// Option configures a RedisQueue.
type Option func(*RedisQueue)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *RedisQueue) { q.now = now }
}

// NewRedisQueue builds a queue named name.
func NewRedisQueue(rdb redis.Cmdable, name string, cfg config.QueueConfig, opts ...Option) *RedisQueue {
	q := &RedisQueue{
		rdb:         rdb,
		ready:       name + ":ready",
		processing:  name + ":processing",
		delayed:     name + ":delayed",
		dead:        name + ":dead",
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
		now:         time.Now,
	}
	if q.maxAttempts <= 0 {
		q.maxAttempts = 1
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a job to the ready list.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.now().UTC()
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.ready, raw).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for a job. It returns nil when none arrived.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := q.rdb.BLMove(ctx, q.ready, q.processing, "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("move job to processing: %w", err)
	}

	d := &Delivery{Raw: raw}
	if err := json.Unmarshal([]byte(raw), &d.Job); err != nil {
		// Unreadable entries go straight to the dead list.
		if derr := q.bury(ctx, raw, raw); derr != nil {
			return nil, derr
		}
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return d, nil
}

// Ack removes a finished job from processing.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.rdb.LRem(ctx, q.processing, 1, d.Raw).Err(); err != nil {
		return fmt.Errorf("ack job %s: %w", d.Job.ID, err)
	}
	return nil
}

// Retry records the failure and schedules the job again, or moves it to the
// dead list when attempts are exhausted or cause is permanent. It reports
// whether the job was dead-lettered.
func (q *RedisQueue) Retry(ctx context.Context, d *Delivery, cause error) (bool, error) {
	job := d.Job
	job.Attempts++
	if cause != nil {
		job.LastError = cause.Error()
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("encode job: %w", err)
	}

	if job.Attempts >= q.maxAttempts || IsPermanent(cause) {
		return true, q.bury(ctx, d.Raw, string(raw))
	}

	due := q.now().Add(q.Backoff(job.Attempts))
	if err := q.rdb.ZAdd(ctx, q.delayed, redis.Z{Score: float64(due.UnixMilli()), Member: string(raw)}).Err(); err != nil {
		return false, fmt.Errorf("schedule retry: %w", err)
	}
	if err := q.rdb.LRem(ctx, q.processing, 1, d.Raw).Err(); err != nil {
		return false, fmt.Errorf("remove from processing: %w", err)
	}
	return false, nil
}

// Backoff is the delay before the given attempt: base doubled per previous
// attempt, capped at max.
func (q *RedisQueue) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := q.baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if q.maxBackoff > 0 && d >= q.maxBackoff {
			return q.maxBackoff
		}
	}
	if q.maxBackoff > 0 && d > q.maxBackoff {
		return q.maxBackoff
	}
	return d
}

// promoteScriptSource moves due members of the delayed set (KEYS[1]) to the
// ready list (KEYS[2]) in one atomic step, at most ARGV[2] per call.
const promoteScriptSource = `
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local moved = 0
for _, member in ipairs(due) do
	if redis.call('ZREM', KEYS[1], member) == 1 then
		redis.call('LPUSH', KEYS[2], member)
		moved = moved + 1
	end
end
return moved
`

var promoteScript = redis.NewScript(promoteScriptSource)

const promoteBatch = 100

// PromoteDue moves delayed jobs whose retry time has passed back to ready.
// A job is never in neither place: removal and push run in one script.
func (q *RedisQueue) PromoteDue(ctx context.Context) (int, error) {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	n, err := promoteScript.Run(ctx, q.rdb, []string{q.delayed, q.ready}, now, promoteBatch).Int()
	if err != nil {
		return 0, fmt.Errorf("promote due jobs: %w", err)
	}
	return n, nil
}

// Recover moves every job left in processing back to ready. Call it only
// while no other worker of this queue is running, or their in-flight jobs
// are delivered twice.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.rdb.LMove(ctx, q.processing, q.ready, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover processing jobs: %w", err)
		}
		moved++
	}
}

// Stats returns the length of every list.
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	var err error
	if s.Ready, err = q.rdb.LLen(ctx, q.ready).Result(); err != nil {
		return s, fmt.Errorf("ready length: %w", err)
	}
	if s.Processing, err = q.rdb.LLen(ctx, q.processing).Result(); err != nil {
		return s, fmt.Errorf("processing length: %w", err)
	}
	if s.Delayed, err = q.rdb.ZCard(ctx, q.delayed).Result(); err != nil {
		return s, fmt.Errorf("delayed length: %w", err)
	}
	if s.Dead, err = q.rdb.LLen(ctx, q.dead).Result(); err != nil {
		return s, fmt.Errorf("dead length: %w", err)
	}
	return s, nil
}

func (q *RedisQueue) bury(ctx context.Context, processingRaw, deadRaw string) error {
	if err := q.rdb.LPush(ctx, q.dead, deadRaw).Err(); err != nil {
		return fmt.Errorf("dead-letter job: %w", err)
	}
	if err := q.rdb.LRem(ctx, q.processing, 1, processingRaw).Err(); err != nil {
		return fmt.Errorf("remove from processing: %w", err)
	}
	return nil
}
