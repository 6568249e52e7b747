package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sdr-backend/internal/metrics"
	"sdr-backend/pkg/logger"
)

func newTestWorker(q Queue, max int) *Worker {
	w := NewWorker(q, max, logger.Discard(), metrics.New())
	w.backoff = 5 * time.Millisecond
	w.poll = 10 * time.Millisecond
	return w
}

func TestMemoryQueue_EmptyAfterWait(t *testing.T) {
	q := NewMemoryQueue(1)
	_, err := q.Dequeue(context.Background(), 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueEmpty)

	require.NoError(t, q.Enqueue(context.Background(), Job{Kind: KindTranscription}))
	j, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, j.ID)
	assert.False(t, j.EnqueuedAt.IsZero())
}

func TestWorker_RetriesUntilSuccess(t *testing.T) {
	q := NewMemoryQueue(4)
	w := newTestWorker(q, 3)

	var calls int32
	done := make(chan Job, 1)
	w.Handle(KindTranscription, func(_ context.Context, j Job) error {
		if atomic.AddInt32(&calls, 1) < 2 {
			return errors.New("transient")
		}
		done <- j
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	require.NoError(t, q.Enqueue(ctx, Job{Kind: KindTranscription, ConversationID: "c1"}))

	select {
	case j := <-done:
		assert.Equal(t, 2, j.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded")
	}
}

func TestWorker_DropsAfterMaxAttempts(t *testing.T) {
	q := NewMemoryQueue(4)
	w := newTestWorker(q, 3)

	var calls int32
	w.Handle(KindTranscription, func(context.Context, Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("permanent")
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	require.NoError(t, q.Enqueue(ctx, Job{Kind: KindTranscription}))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 3 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	cancel()
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, 0, q.Len())
}

func TestWorker_ShutdownRequeuesPendingRetry(t *testing.T) {
	q := NewMemoryQueue(4)
	w := newTestWorker(q, 3)
	w.backoff = 200 * time.Millisecond

	var calls int32
	w.Handle(KindTranscription, func(context.Context, Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("transient")
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = w.Run(ctx)
	}()
	require.NoError(t, q.Enqueue(ctx, Job{Kind: KindTranscription, ConversationID: "c1"}))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-stopped

	j, err := q.Dequeue(context.Background(), 100*time.Millisecond)
	require.NoError(t, err, "pending retry must be handed back to the queue")
	assert.Equal(t, "c1", j.ConversationID)
	assert.Equal(t, 1, j.Attempt)
}

func TestWorker_HandlerOutlivesShutdown(t *testing.T) {
	q := NewMemoryQueue(4)
	w := newTestWorker(q, 3)

	started := make(chan struct{})
	release := make(chan struct{})
	var handlerErr atomic.Value
	w.Handle(KindTranscription, func(ctx context.Context, _ Job) error {
		close(started)
		<-release
		handlerErr.Store(fmt.Sprint(ctx.Err()))
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = w.Run(ctx)
	}()
	require.NoError(t, q.Enqueue(ctx, Job{Kind: KindTranscription}))

	<-started
	cancel()
	close(release)
	<-stopped
	assert.Equal(t, "<nil>", handlerErr.Load())
	assert.Equal(t, 0, q.Len())
}
