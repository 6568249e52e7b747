// Package jobs is a small durable work queue on Redis lists.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"sdr-backend/internal/domain"
)

// ErrQueueEmpty is returned by Dequeue when nothing arrived before the wait elapsed.
var ErrQueueEmpty = errors.New("jobs: queue empty")

const KindTranscription = "transcription"

// Job is one unit of deferred work.
type Job struct {
	ID             string              `json:"id"`
	Kind           string              `json:"kind"`
	ConversationID string              `json:"conversation_id"`
	// MessageID is the logged lead message the job follows up on.
	MessageID  string              `json:"message_id,omitempty"`
	Event      domain.InboundEvent `json:"event"`
	Attempt    int                 `json:"attempt"`
	EnqueuedAt time.Time           `json:"enqueued_at"`
}

type Queue interface {
	Enqueue(ctx context.Context, j Job) error
	Dequeue(ctx context.Context, wait time.Duration) (Job, error)
}

func prepare(j Job) Job {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now().UTC()
	}
	return j
}

// RedisQueue pushes on the left and pops on the right of one list.
type RedisQueue struct {
	rdb *redis.Client
	key string
}

func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	return &RedisQueue{rdb: rdb, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, j Job) error {
	raw, err := json.Marshal(prepare(j))
	if err != nil {
		return fmt.Errorf("jobs: marshal: %w", err)
	}
	return q.rdb.LPush(ctx, q.key, raw).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (Job, error) {
	res, err := q.rdb.BRPop(ctx, wait, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrQueueEmpty
	}
	if err != nil {
		return Job{}, err
	}
	// BRPOP answers [key, value].
	if len(res) != 2 {
		return Job{}, fmt.Errorf("jobs: unexpected brpop reply of %d elements", len(res))
	}
	var j Job
	if err := json.Unmarshal([]byte(res[1]), &j); err != nil {
		return Job{}, fmt.Errorf("jobs: decode: %w", err)
	}
	return j, nil
}

// MemoryQueue is a bounded in-process queue for tests and local runs.
type MemoryQueue struct {
	ch chan Job
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan Job, size)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, j Job) error {
	select {
	case q.ch <- prepare(j):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, wait time.Duration) (Job, error) {
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case j := <-q.ch:
		return j, nil
	case <-t.C:
		return Job{}, ErrQueueEmpty
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Len reports queued jobs.
func (q *MemoryQueue) Len() int { return len(q.ch) }
