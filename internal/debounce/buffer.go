// Package debounce folds rapid successive text fragments from one conversation
// into a single unit of work.
package debounce

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sdr-backend/internal/domain"
	"sdr-backend/internal/metrics"
)

// DefaultDelay is the quiet period after the last fragment before a flush.
const DefaultDelay = 4 * time.Second

const shardCount = 32

// Unit is one aggregated turn handed to downstream processing.
// Event is the most recent fragment's event and carries the metadata.
type Unit struct {
	ConversationID string
	Text           string
	Event          domain.InboundEvent
	Fragments      int
}

// FlushFunc receives aggregated units. It runs on the timer goroutine.
type FlushFunc func(ctx context.Context, u Unit)

// Buffer owns the per-conversation accumulators. Entries are removed on flush,
// and every entry has a live timer, so the map cannot grow without bound.
type Buffer struct {
	delay   time.Duration
	flush   FlushFunc
	baseCtx context.Context
	log     *slog.Logger
	metrics *metrics.Metrics

	shards  [shardCount]shard
	seq     atomic.Uint64
	pending atomic.Int64
	closed  atomic.Bool
	wg      sync.WaitGroup
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	texts []string
	last  domain.InboundEvent
	timer *time.Timer
	// gen identifies the live timer. It is drawn from a buffer-wide sequence so
	// a stale timer never matches an entry recreated for the same conversation.
	gen uint64
}

func New(ctx context.Context, delay time.Duration, flush FlushFunc, log *slog.Logger, m *metrics.Metrics) *Buffer {
	if log == nil {
		log = slog.Default()
	}
	b := &Buffer{delay: delay, flush: flush, baseCtx: ctx, log: log, metrics: m}
	for i := range b.shards {
		b.shards[i].entries = map[string]*entry{}
	}
	return b
}

// Enabled reports whether text is buffered at all.
func (b *Buffer) Enabled() bool { return b != nil && b.delay > 0 }

func (b *Buffer) shardFor(conversationID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	return &b.shards[h.Sum32()%shardCount]
}

// Push appends text to the conversation's accumulator and restarts its timer.
// It returns false when the fragment was not buffered (buffering disabled,
// blank text, or the buffer is closed); the caller then processes it directly.
func (b *Buffer) Push(conversationID, text string, ev domain.InboundEvent) bool {
	if !b.Enabled() || b.closed.Load() {
		return false
	}
	text = strings.TrimSpace(text)
	if conversationID == "" || text == "" {
		return false
	}

	s := b.shardFor(conversationID)
	s.mu.Lock()
	e, ok := s.entries[conversationID]
	if !ok {
		e = &entry{}
		s.entries[conversationID] = e
		b.metrics.DebouncePending(int(b.pending.Add(1)))
	}
	e.texts = append(e.texts, text)
	e.last = ev
	if e.timer != nil {
		e.timer.Stop()
	}
	gen := b.seq.Add(1)
	e.gen = gen
	e.timer = time.AfterFunc(b.delay, func() { b.fire(conversationID, gen) })
	n := len(e.texts)
	s.mu.Unlock()

	b.log.Debug("text buffered", "conversation_id", conversationID, "fragments", n, "delay_ms", b.delay.Milliseconds())
	return true
}

func (b *Buffer) fire(conversationID string, gen uint64) {
	s := b.shardFor(conversationID)
	s.mu.Lock()
	e, ok := s.entries[conversationID]
	if !ok || e.gen != gen || b.closed.Load() {
		s.mu.Unlock()
		return
	}
	delete(s.entries, conversationID)
	b.wg.Add(1)
	s.mu.Unlock()

	defer b.wg.Done()
	b.metrics.DebouncePending(int(b.pending.Add(-1)))
	b.emit(conversationID, e)
}

func (b *Buffer) emit(conversationID string, e *entry) {
	text := Aggregate(e.texts)
	if text == "" {
		return
	}
	b.metrics.DebounceFlushed()
	b.log.Debug("text buffer flushed", "conversation_id", conversationID, "fragments", len(e.texts))
	b.flush(b.baseCtx, Unit{
		ConversationID: conversationID,
		Text:           text,
		Event:          e.last,
		Fragments:      len(e.texts),
	})
}

// Pending returns the number of conversations with buffered text.
func (b *Buffer) Pending() int {
	if b == nil {
		return 0
	}
	return int(b.pending.Load())
}

// Close stops accepting fragments, flushes what is pending and waits for
// in-flight flushes to return.
func (b *Buffer) Close() {
	if b == nil || !b.closed.CompareAndSwap(false, true) {
		return
	}
	type drained struct {
		id string
		e  *entry
	}
	var out []drained
	for i := range b.shards {
		s := &b.shards[i]
		s.mu.Lock()
		for id, e := range s.entries {
			if e.timer != nil {
				e.timer.Stop()
			}
			out = append(out, drained{id: id, e: e})
			delete(s.entries, id)
		}
		s.mu.Unlock()
	}
	for _, d := range out {
		b.metrics.DebouncePending(int(b.pending.Add(-1)))
		b.emit(d.id, d.e)
	}
	b.wg.Wait()
}

// Aggregate joins trimmed, non-empty fragments with single spaces.
func Aggregate(fragments []string) string {
	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, " ")
}
