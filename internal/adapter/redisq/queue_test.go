package redisq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vantahire/signal/internal/port/jobqueue"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "test")
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestAddAndGetJob(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	j, err := q.Add(ctx, "job-1", []byte(`{"n":1}`), jobqueue.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if j.ID() != "job-1" {
		t.Fatalf("id = %s", j.ID())
	}

	got, err := q.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || string(got.Data()) != `{"n":1}` {
		t.Fatalf("got = %v", got)
	}
	state, err := got.State(ctx)
	if err != nil || state != jobqueue.StateWaiting {
		t.Fatalf("state = %s err = %v", state, err)
	}
}

func TestGetJobUnknownReturnsNil(t *testing.T) {
	q := newTestQueue(t)
	j, err := q.GetJob(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if j != nil {
		t.Fatalf("expected nil, got %v", j)
	}
}

func TestAddDuplicateReturnsSentinel(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Add(ctx, "job-1", nil, jobqueue.Options{}); err != nil {
		t.Fatal(err)
	}
	_, err := q.Add(ctx, "job-1", nil, jobqueue.Options{})
	if !errors.Is(err, jobqueue.ErrDuplicateJob) {
		t.Fatalf("err = %v, want ErrDuplicateJob", err)
	}
}

func TestRemoveAllowsReAdd(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	j, err := q.Add(ctx, "job-1", []byte("old"), jobqueue.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Remove(ctx); err != nil {
		t.Fatal(err)
	}

	j2, err := q.Add(ctx, "job-1", []byte("new"), jobqueue.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if string(j2.Data()) != "new" {
		t.Fatalf("data = %s", j2.Data())
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Waiting != 1 {
		t.Fatalf("waiting = %d, want 1", stats.Waiting)
	}
}

func TestDelayedJobStartsDelayed(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	j, err := q.Add(ctx, "job-1", nil, jobqueue.Options{Delay: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	state, err := j.State(ctx)
	if err != nil || state != jobqueue.StateDelayed {
		t.Fatalf("state = %s err = %v", state, err)
	}

	stats, _ := q.Stats(ctx)
	if stats.Delayed != 1 || stats.Waiting != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestWorkerProcessesWaitingJobs(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := q.Add(ctx, id, []byte(id), jobqueue.Options{}); err != nil {
			t.Fatal(err)
		}
	}

	var mu sync.Mutex
	seen := map[string]bool{}
	w := NewWorker(q, 2, discard())
	err := w.Start(ctx, func(_ context.Context, j jobqueue.Job) error {
		mu.Lock()
		seen[j.ID()] = true
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	waitFor(t, 5*time.Second, func() bool {
		stats, err := q.Stats(ctx)
		return err == nil && stats.Completed == 3
	})

	mu.Lock()
	defer mu.Unlock()
	for _, id := range []string{"a", "b", "c"} {
		if !seen[id] {
			t.Fatalf("job %s never ran", id)
		}
	}
	stats, _ := q.Stats(ctx)
	if stats.Waiting != 0 || stats.Active != 0 || stats.Failed != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestWorkerPromotesDueDelayedJobs(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	var mu sync.Mutex
	clock := time.Now()
	q.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	if _, err := q.Add(ctx, "job-1", nil, jobqueue.Options{Delay: time.Minute}); err != nil {
		t.Fatal(err)
	}

	var ran atomic.Int32
	w := NewWorker(q, 1, discard())
	if err := w.Start(ctx, func(context.Context, jobqueue.Job) error {
		ran.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	time.Sleep(600 * time.Millisecond)
	if n := ran.Load(); n != 0 {
		t.Fatalf("job ran %d times before its delay elapsed", n)
	}

	mu.Lock()
	clock = clock.Add(2 * time.Minute)
	mu.Unlock()

	waitFor(t, 5*time.Second, func() bool { return ran.Load() == 1 })
}

func TestWorkerRetriesThenFails(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Add(ctx, "job-1", nil, jobqueue.Options{
		Attempts: 2,
		Backoff:  time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	var attempts atomic.Int32
	w := NewWorker(q, 1, discard())
	if err := w.Start(ctx, func(context.Context, jobqueue.Job) error {
		attempts.Add(1)
		return errors.New("boom")
	}); err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	waitFor(t, 5*time.Second, func() bool {
		stats, err := q.Stats(ctx)
		return err == nil && stats.Failed == 1
	})
	if n := attempts.Load(); n != 2 {
		t.Fatalf("attempts = %d, want 2", n)
	}

	j, err := q.GetJob(ctx, "job-1")
	if err != nil || j == nil {
		t.Fatalf("job = %v err = %v", j, err)
	}
	state, err := j.State(ctx)
	if err != nil || state != jobqueue.StateFailed {
		t.Fatalf("state = %s err = %v", state, err)
	}
}

func TestWorkerRetrySucceedsSecondTime(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Add(ctx, "job-1", nil, jobqueue.Options{
		Attempts: 3,
		Backoff:  time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	var attempts atomic.Int32
	w := NewWorker(q, 1, discard())
	if err := w.Start(ctx, func(context.Context, jobqueue.Job) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	waitFor(t, 5*time.Second, func() bool {
		stats, err := q.Stats(ctx)
		return err == nil && stats.Completed == 1
	})
	if n := attempts.Load(); n != 2 {
		t.Fatalf("attempts = %d, want 2", n)
	}
}

func TestCompletedRetentionByCount(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	opts := jobqueue.Options{
		RemoveOnComplete: jobqueue.Retention{Count: 1},
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, err := q.Add(ctx, id, nil, opts); err != nil {
			t.Fatal(err)
		}
	}

	w := NewWorker(q, 1, discard())
	if err := w.Start(ctx, func(context.Context, jobqueue.Job) error {
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	waitFor(t, 5*time.Second, func() bool {
		stats, err := q.Stats(ctx)
		return err == nil && stats.Completed == 1 && stats.Waiting == 0 && stats.Active == 0
	})

	// Evicted jobs lose their records entirely.
	var kept int
	for _, id := range []string{"a", "b", "c"} {
		j, err := q.GetJob(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if j != nil {
			kept++
		}
	}
	if kept != 1 {
		t.Fatalf("kept = %d, want 1", kept)
	}
}

func TestCloseWaitsForInFlightJob(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Add(ctx, "job-1", nil, jobqueue.Options{}); err != nil {
		t.Fatal(err)
	}

	started := make(chan struct{})
	var finished atomic.Bool
	w := NewWorker(q, 1, discard())
	if err := w.Start(ctx, func(context.Context, jobqueue.Job) error {
		close(started)
		time.Sleep(300 * time.Millisecond)
		finished.Store(true)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	<-started
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if !finished.Load() {
		t.Fatal("Close returned before the in-flight job finished")
	}
}
