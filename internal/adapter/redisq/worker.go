package redisq

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"

	"github.com/vantahire/signal/internal/port/jobqueue"
)

const pollInterval = 250 * time.Millisecond

// Worker polls a queue and runs jobs with bounded concurrency. Failed jobs
// are retried with exponential backoff until their attempt budget runs out.
type Worker struct {
	q           *Queue
	concurrency int64
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

func NewWorker(q *Queue, concurrency int, logger *slog.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		q:           q,
		concurrency: int64(concurrency),
		logger:      logger,
		now:         q.now,
	}
}

// Start launches the polling loop. It returns immediately; jobs run on
// background goroutines until Close or context cancellation.
func (w *Worker) Start(ctx context.Context, handler jobqueue.Handler) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	w.started = true

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.loop(runCtx, handler)
	return nil
}

// Close stops polling and waits for in-flight jobs to finish.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()
	w.wg.Wait()
	return nil
}

func (w *Worker) loop(ctx context.Context, handler jobqueue.Handler) {
	defer w.wg.Done()

	sem := semaphore.NewWeighted(w.concurrency)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Drain in-flight jobs before returning.
			_ = sem.Acquire(context.Background(), w.concurrency)
			return
		case <-ticker.C:
		}

		if err := w.promoteDue(ctx); err != nil {
			w.logger.Warn("queue promote failed", "error", err)
		}

		// Drain waiting jobs up to the concurrency limit, then sleep again.
		for sem.TryAcquire(1) {
			jobID, err := w.q.rdb.RPop(ctx, w.q.waitingKey()).Result()
			if err == redis.Nil {
				sem.Release(1)
				break
			}
			if err != nil {
				sem.Release(1)
				if ctx.Err() == nil {
					w.logger.Warn("queue pop failed", "error", err)
				}
				break
			}

			w.markActive(ctx, jobID)
			go func(id string) {
				defer sem.Release(1)
				w.runJob(ctx, id, handler)
			}(jobID)
		}
	}
}

// promoteDue moves delayed jobs whose ready time has passed onto the
// waiting list.
func (w *Worker) promoteDue(ctx context.Context) error {
	nowMs := strconv.FormatInt(w.now().UnixMilli(), 10)
	due, err := w.q.rdb.ZRangeByScore(ctx, w.q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: nowMs,
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range due {
		removed, err := w.q.rdb.ZRem(ctx, w.q.delayedKey(), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // another worker promoted it
		}
		pipe := w.q.rdb.Pipeline()
		pipe.HSet(ctx, w.q.jobKey(id), fieldState, string(jobqueue.StateWaiting))
		pipe.LPush(ctx, w.q.waitingKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) markActive(ctx context.Context, jobID string) {
	pipe := w.q.rdb.Pipeline()
	pipe.HSet(ctx, w.q.jobKey(jobID), fieldState, string(jobqueue.StateActive))
	pipe.SAdd(ctx, w.q.activeKey(), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		w.logger.Warn("queue mark active failed", "job_id", jobID, "error", err)
	}
}

func (w *Worker) runJob(ctx context.Context, jobID string, handler jobqueue.Handler) {
	rec, err := w.q.rdb.HGetAll(ctx, w.q.jobKey(jobID)).Result()
	if err != nil || len(rec) == 0 {
		w.logger.Warn("queue job record missing", "job_id", jobID, "error", err)
		_ = w.q.rdb.SRem(ctx, w.q.activeKey(), jobID).Err()
		return
	}

	j := &job{q: w.q, id: jobID, data: []byte(rec[fieldData])}
	handlerErr := handler(ctx, j)

	if handlerErr == nil {
		w.finish(ctx, jobID, rec, jobqueue.StateCompleted)
		return
	}

	attemptsMade := atoi(rec[fieldAttemptsMade]) + 1
	maxAttempts := atoi(rec[fieldMaxAttempts])
	if attemptsMade < maxAttempts {
		backoff := time.Duration(atoi64(rec[fieldBackoffMs])) * time.Millisecond
		// Exponential: base, 2*base, 4*base, ...
		delay := backoff << (attemptsMade - 1)
		readyAt := float64(w.now().Add(delay).UnixMilli())

		pipe := w.q.rdb.Pipeline()
		pipe.HSet(ctx, w.q.jobKey(jobID),
			fieldAttemptsMade, attemptsMade,
			fieldState, string(jobqueue.StateDelayed),
		)
		pipe.SRem(ctx, w.q.activeKey(), jobID)
		pipe.ZAdd(ctx, w.q.delayedKey(), redis.Z{Score: readyAt, Member: jobID})
		if _, err := pipe.Exec(ctx); err != nil {
			w.logger.Warn("queue retry schedule failed", "job_id", jobID, "error", err)
		}
		w.logger.Warn("job failed, retrying",
			"job_id", jobID,
			"attempt", attemptsMade,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", handlerErr,
		)
		return
	}

	w.logger.Error("job failed permanently",
		"job_id", jobID,
		"attempts", attemptsMade,
		"error", handlerErr,
	)
	rec[fieldAttemptsMade] = strconv.Itoa(attemptsMade)
	w.finish(ctx, jobID, rec, jobqueue.StateFailed)
}

// finish moves a job into a terminal set and applies that set's retention.
func (w *Worker) finish(ctx context.Context, jobID string, rec map[string]string, state jobqueue.State) {
	doneKey := w.q.completedKey()
	keepN := atoi64(rec[fieldKeepDoneN])
	keepMs := atoi64(rec[fieldKeepDoneMs])
	if state == jobqueue.StateFailed {
		doneKey = w.q.failedKey()
		keepN = atoi64(rec[fieldKeepFailN])
		keepMs = atoi64(rec[fieldKeepFailMs])
	}

	nowMs := w.now().UnixMilli()
	pipe := w.q.rdb.Pipeline()
	pipe.HSet(ctx, w.q.jobKey(jobID),
		fieldState, string(state),
		fieldAttemptsMade, rec[fieldAttemptsMade],
	)
	pipe.SRem(ctx, w.q.activeKey(), jobID)
	pipe.ZAdd(ctx, doneKey, redis.Z{Score: float64(nowMs), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		w.logger.Warn("queue finish failed", "job_id", jobID, "error", err)
		return
	}

	w.trim(ctx, doneKey, keepN, keepMs, nowMs)
}

// trim evicts finished jobs past the count or age retention limits,
// deleting their records. Zero limits mean unlimited.
func (w *Worker) trim(ctx context.Context, doneKey string, keepN, keepMs, nowMs int64) {
	var evict []string

	if keepMs > 0 {
		cutoff := strconv.FormatInt(nowMs-keepMs, 10)
		old, err := w.q.rdb.ZRangeByScore(ctx, doneKey, &redis.ZRangeBy{
			Min: "-inf",
			Max: "(" + cutoff,
		}).Result()
		if err == nil {
			evict = append(evict, old...)
		}
	}

	if keepN > 0 {
		// Oldest first; everything before the newest keepN entries goes.
		excess, err := w.q.rdb.ZRange(ctx, doneKey, 0, -keepN-1).Result()
		if err == nil {
			evict = append(evict, excess...)
		}
	}

	if len(evict) == 0 {
		return
	}
	pipe := w.q.rdb.Pipeline()
	for _, id := range evict {
		pipe.ZRem(ctx, doneKey, id)
		pipe.Del(ctx, w.q.jobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.logger.Warn("queue retention trim failed", "error", err)
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
