package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/roadmapflow/testutil"
)

func startWorker(t *testing.T, w *Worker) (cancel func(), done <-chan struct{}) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		assert.NoError(t, w.Run(ctx))
	}()
	return stop, ch
}

func TestWorker_ProcessesJobsWithinParallelLimit(t *testing.T) {
	ctx := testutil.TestContext(t)
	q := NewMemoryQueue()
	defer q.Close()

	var running, peak atomic.Int32
	var mu sync.Mutex
	seen := map[string]bool{}

	handler := HandlerFunc(func(ctx context.Context, job *Job) error {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		mu.Lock()
		seen[job.TaskID] = true
		mu.Unlock()
		return nil
	})

	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		require.NoError(t, q.Enqueue(ctx, NewJob(id, KindRun)))
	}

	w := NewWorker(q, handler, WorkerConfig{MaxParallel: 2, DrainTimeout: time.Second}, nil, zaptest.NewLogger(t))
	stop, done := startWorker(t, w)

	testutil.AssertEventuallyTrue(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 6
	}, 2*time.Second)

	stop()
	<-done
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Zero(t, q.InFlight())
}

func TestWorker_FailedJobsAreAcked(t *testing.T) {
	ctx := testutil.TestContext(t)
	q := NewMemoryQueue()
	defer q.Close()

	var calls atomic.Int32
	handler := HandlerFunc(func(ctx context.Context, job *Job) error {
		calls.Add(1)
		return errors.New("stage failed")
	})
	require.NoError(t, q.Enqueue(ctx, NewJob("x", KindRun)))

	w := NewWorker(q, handler, WorkerConfig{MaxParallel: 1, DrainTimeout: time.Second}, nil, zaptest.NewLogger(t))
	stop, done := startWorker(t, w)

	testutil.AssertEventuallyTrue(t, func() bool { return calls.Load() == 1 && q.InFlight() == 0 }, time.Second)
	stop()
	<-done
	assert.Equal(t, int32(1), calls.Load())
}

func TestWorker_InterruptedJobsStayInFlight(t *testing.T) {
	ctx := testutil.TestContext(t)
	client, _ := testutil.NewTestRedis(t)
	q := NewRedisQueue(client, "drain:", 50*time.Millisecond)
	defer q.Close()

	started := make(chan struct{})
	handler := HandlerFunc(func(ctx context.Context, job *Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, q.Enqueue(ctx, NewJob("slow", KindResume)))

	w := NewWorker(q, handler, WorkerConfig{MaxParallel: 1, DrainTimeout: 20 * time.Millisecond}, nil, zaptest.NewLogger(t))
	stop, done := startWorker(t, w)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}
	stop()
	<-done

	n, err := q.InFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// 重启时放回队列
	moved, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
}

func TestWorker_StopsWhenQueueClosed(t *testing.T) {
	q := NewMemoryQueue()
	w := NewWorker(q, HandlerFunc(func(ctx context.Context, job *Job) error { return nil }),
		DefaultWorkerConfig(), nil, zaptest.NewLogger(t))

	stop, done := startWorker(t, w)
	defer stop()

	require.NoError(t, q.Close())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}

func TestWorker_StateTracksJobs(t *testing.T) {
	ctx := testutil.TestContext(t)
	q := NewMemoryQueue()
	defer q.Close()

	release := make(chan struct{})
	handler := HandlerFunc(func(ctx context.Context, job *Job) error {
		if job.TaskID == "bad" {
			return errors.New("boom")
		}
		<-release
		return nil
	})

	w := NewWorker(q, handler, WorkerConfig{MaxParallel: 3, DrainTimeout: time.Second}, nil, zaptest.NewLogger(t))
	assert.Equal(t, WorkerState{MaxParallel: 3}, w.State())

	require.NoError(t, q.Enqueue(ctx, NewJob("slow", KindRun)))
	require.NoError(t, q.Enqueue(ctx, NewJob("bad", KindRun)))
	stop, done := startWorker(t, w)

	testutil.AssertEventuallyTrue(t, func() bool {
		s := w.State()
		return s.Running && s.ActiveJobs == 1 && s.Failed == 1
	}, 2*time.Second)

	close(release)
	testutil.AssertEventuallyTrue(t, func() bool {
		return w.State().Processed == 2
	}, 2*time.Second)

	stop()
	<-done
	s := w.State()
	assert.False(t, s.Running)
	assert.Zero(t, s.ActiveJobs)
	assert.Equal(t, int64(1), s.Failed)
}
