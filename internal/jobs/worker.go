package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"sdr-backend/internal/metrics"
)

type Handler func(ctx context.Context, j Job) error

// Worker consumes a queue and retries failed jobs with exponential backoff.
type Worker struct {
	queue       Queue
	handlers    map[string]Handler
	maxAttempts int
	backoff     time.Duration
	poll        time.Duration
	log         *slog.Logger
	metrics     *metrics.Metrics

	// requeueTimeout bounds the hand-back of pending retries at shutdown.
	requeueTimeout time.Duration

	retries sync.WaitGroup
}

func NewWorker(q Queue, maxAttempts int, log *slog.Logger, m *metrics.Metrics) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		queue:       q,
		handlers:    map[string]Handler{},
		maxAttempts: maxAttempts,
		backoff:     time.Second,
		poll:        2 * time.Second,
		log:         log,
		metrics:     m,

		requeueTimeout: 5 * time.Second,
	}
}

// Handle registers the handler for a job kind.
func (w *Worker) Handle(kind string, h Handler) { w.handlers[kind] = h }

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	defer w.retries.Wait()
	for {
		if ctx.Err() != nil {
			return nil
		}
		j, err := w.queue.Dequeue(ctx, w.poll)
		if errors.Is(err, ErrQueueEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Warn("job dequeue failed", "err", err)
			sleep(ctx, w.backoff)
			continue
		}
		if ctx.Err() != nil {
			w.handBack(ctx, j)
			return nil
		}
		w.process(ctx, j)
	}
}

func (w *Worker) process(ctx context.Context, j Job) {
	h, ok := w.handlers[j.Kind]
	if !ok {
		w.log.Error("no handler for job", "job_id", j.ID, "kind", j.Kind)
		w.metrics.Job(j.Kind, "unhandled")
		return
	}

	j.Attempt++
	// A job already popped from the queue finishes even if shutdown starts.
	err := h(context.WithoutCancel(ctx), j)
	if err == nil {
		w.metrics.Job(j.Kind, "done")
		return
	}
	if j.Attempt >= w.maxAttempts {
		w.log.Error("job failed permanently", "job_id", j.ID, "kind", j.Kind, "conversation_id", j.ConversationID, "attempt", j.Attempt, "err", err)
		w.metrics.Job(j.Kind, "dropped")
		return
	}

	delay := w.backoff << (j.Attempt - 1)
	w.log.Warn("job failed; retrying", "job_id", j.ID, "kind", j.Kind, "attempt", j.Attempt, "retry_in", delay, "err", err)
	w.metrics.Job(j.Kind, "retry")
	w.retries.Add(1)
	go func() {
		defer w.retries.Done()
		if !sleep(ctx, delay) {
			w.handBack(ctx, j)
			return
		}
		if err := w.queue.Enqueue(ctx, j); err != nil {
			w.log.Error("job requeue failed", "job_id", j.ID, "err", err)
		}
	}()
}

// handBack returns a job to the queue during shutdown so another worker picks it up.
func (w *Worker) handBack(ctx context.Context, j Job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.requeueTimeout)
	defer cancel()
	if err := w.queue.Enqueue(ctx, j); err != nil {
		w.log.Error("job hand-back failed", "job_id", j.ID, "kind", j.Kind, "err", err)
		return
	}
	w.log.Info("job handed back on shutdown", "job_id", j.ID, "kind", j.Kind, "attempt", j.Attempt)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
