// Package redisq implements the job queue port over Redis: addressable
// jobs with delayed delivery, bounded retries with exponential backoff,
// and bounded retention of finished jobs.
package redisq

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vantahire/signal/internal/port/jobqueue"
)

// Key layout per queue name (prefix signal:q:<name>):
//
//	<p>:waiting   LIST of job ids, LPUSH in / RPOP out
//	<p>:delayed   ZSET job id -> ready-at unix ms
//	<p>:active    SET of job ids
//	<p>:completed ZSET job id -> finished-at unix ms
//	<p>:failed    ZSET job id -> finished-at unix ms
//	<p>:job:<id>  HASH with payload and bookkeeping
const keyPrefix = "signal:q:"

// Hash fields of a job record.
const (
	fieldData         = "data"
	fieldState        = "state"
	fieldAttemptsMade = "attempts_made"
	fieldMaxAttempts  = "max_attempts"
	fieldBackoffMs    = "backoff_ms"
	fieldKeepDoneN    = "keep_done_count"
	fieldKeepDoneMs   = "keep_done_age_ms"
	fieldKeepFailN    = "keep_fail_count"
	fieldKeepFailMs   = "keep_fail_age_ms"
	fieldCreatedAtMs  = "created_at_ms"
)

// Queue is a named Redis-backed job queue.
type Queue struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// New creates a queue handle. Multiple handles on the same name share state
// through Redis.
func New(rdb *redis.Client, name string) *Queue {
	return &Queue{
		rdb:    rdb,
		prefix: keyPrefix + name,
		now:    time.Now,
	}
}

func (q *Queue) waitingKey() string   { return q.prefix + ":waiting" }
func (q *Queue) delayedKey() string   { return q.prefix + ":delayed" }
func (q *Queue) activeKey() string    { return q.prefix + ":active" }
func (q *Queue) completedKey() string { return q.prefix + ":completed" }
func (q *Queue) failedKey() string    { return q.prefix + ":failed" }
func (q *Queue) jobKey(id string) string {
	return q.prefix + ":job:" + id
}

// Add enqueues a job under the given ID. Any existing job with the same ID,
// finished or not, makes Add return ErrDuplicateJob; callers re-adding a
// finished job must Remove it first.
func (q *Queue) Add(ctx context.Context, jobID string, data []byte, opts jobqueue.Options) (jobqueue.Job, error) {
	exists, err := q.rdb.Exists(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisq exists: %w", err)
	}
	if exists > 0 {
		return nil, jobqueue.ErrDuplicateJob
	}

	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}

	state := jobqueue.StateWaiting
	if opts.Delay > 0 {
		state = jobqueue.StateDelayed
	}

	now := q.now()
	fields := map[string]any{
		fieldData:         data,
		fieldState:        string(state),
		fieldAttemptsMade: 0,
		fieldMaxAttempts:  attempts,
		fieldBackoffMs:    opts.Backoff.Milliseconds(),
		fieldKeepDoneN:    opts.RemoveOnComplete.Count,
		fieldKeepDoneMs:   opts.RemoveOnComplete.Age.Milliseconds(),
		fieldKeepFailN:    opts.RemoveOnFail.Count,
		fieldKeepFailMs:   opts.RemoveOnFail.Age.Milliseconds(),
		fieldCreatedAtMs:  now.UnixMilli(),
	}
	if err := q.rdb.HSet(ctx, q.jobKey(jobID), fields).Err(); err != nil {
		return nil, fmt.Errorf("redisq job hset: %w", err)
	}

	if state == jobqueue.StateDelayed {
		readyAt := float64(now.Add(opts.Delay).UnixMilli())
		err = q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{Score: readyAt, Member: jobID}).Err()
	} else {
		err = q.rdb.LPush(ctx, q.waitingKey(), jobID).Err()
	}
	if err != nil {
		return nil, fmt.Errorf("redisq enqueue: %w", err)
	}
	return &job{q: q, id: jobID, data: data}, nil
}

// GetJob returns a handle for the given ID, or nil if unknown.
func (q *Queue) GetJob(ctx context.Context, jobID string) (jobqueue.Job, error) {
	data, err := q.rdb.HGet(ctx, q.jobKey(jobID), fieldData).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisq job get: %w", err)
	}
	return &job{q: q, id: jobID, data: data}, nil
}

// Stats reports queue depth per state.
func (q *Queue) Stats(ctx context.Context) (jobqueue.Stats, error) {
	pipe := q.rdb.Pipeline()
	waiting := pipe.LLen(ctx, q.waitingKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	active := pipe.SCard(ctx, q.activeKey())
	completed := pipe.ZCard(ctx, q.completedKey())
	failed := pipe.ZCard(ctx, q.failedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return jobqueue.Stats{}, fmt.Errorf("redisq stats: %w", err)
	}
	return jobqueue.Stats{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// Close is a no-op: the Redis client is shared and owned by the caller.
func (q *Queue) Close() error { return nil }

// job is a handle on one enqueued job.
type job struct {
	q    *Queue
	id   string
	data []byte
}

func (j *job) ID() string   { return j.id }
func (j *job) Data() []byte { return j.data }

func (j *job) State(ctx context.Context) (jobqueue.State, error) {
	s, err := j.q.rdb.HGet(ctx, j.q.jobKey(j.id), fieldState).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("redisq job %s: gone", j.id)
	}
	if err != nil {
		return "", fmt.Errorf("redisq job state: %w", err)
	}
	return jobqueue.State(s), nil
}

// Remove deletes the job from every queue structure.
func (j *job) Remove(ctx context.Context) error {
	pipe := j.q.rdb.Pipeline()
	pipe.LRem(ctx, j.q.waitingKey(), 0, j.id)
	pipe.ZRem(ctx, j.q.delayedKey(), j.id)
	pipe.SRem(ctx, j.q.activeKey(), j.id)
	pipe.ZRem(ctx, j.q.completedKey(), j.id)
	pipe.ZRem(ctx, j.q.failedKey(), j.id)
	pipe.Del(ctx, j.q.jobKey(j.id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisq job remove: %w", err)
	}
	return nil
}
