package debounce

import (
	"context"
	"sync"
	"testing"
	"time"

	"sdr-backend/internal/domain"
	"sdr-backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu    sync.Mutex
	units []Unit
	ch    chan Unit
}

func newSink() *sink { return &sink{ch: make(chan Unit, 16)} }

func (s *sink) flush(_ context.Context, u Unit) {
	s.mu.Lock()
	s.units = append(s.units, u)
	s.mu.Unlock()
	s.ch <- u
}

func (s *sink) wait(t *testing.T) Unit {
	t.Helper()
	select {
	case u := <-s.ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for flush")
		return Unit{}
	}
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units)
}

func ev(id string) domain.InboundEvent {
	return domain.InboundEvent{ID: id, Sender: "+551199", Kind: domain.KindText}
}

func TestPush_AggregatesFragmentsIntoOneFlush(t *testing.T) {
	s := newSink()
	b := New(context.Background(), 40*time.Millisecond, s.flush, logger.Discard(), nil)

	require.True(t, b.Push("c1", "Hi", ev("m1")))
	require.True(t, b.Push("c1", "are", ev("m2")))
	require.True(t, b.Push("c1", " you there? ", ev("m3")))

	u := s.wait(t)
	assert.Equal(t, "Hi are you there?", u.Text)
	assert.Equal(t, "m3", u.Event.ID, "most recent event carries the unit")
	assert.Equal(t, 3, u.Fragments)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, s.count())
	assert.Equal(t, 0, b.Pending())
}

func TestPush_AfterFlushStartsNewWindow(t *testing.T) {
	s := newSink()
	b := New(context.Background(), 30*time.Millisecond, s.flush, logger.Discard(), nil)

	b.Push("c1", "first", ev("m1"))
	first := s.wait(t)
	b.Push("c1", "second", ev("m2"))
	second := s.wait(t)

	assert.Equal(t, "first", first.Text)
	assert.Equal(t, "second", second.Text)
}

func TestPush_SupersessionDelaysFlush(t *testing.T) {
	s := newSink()
	b := New(context.Background(), 150*time.Millisecond, s.flush, logger.Discard(), nil)

	for i := 0; i < 4; i++ {
		b.Push("c1", "x", ev("m"))
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, 0, s.count(), "pushes within the window keep cancelling the timer")
	u := s.wait(t)
	assert.Equal(t, "x x x x", u.Text)
}

func TestPush_ConversationsAreIndependent(t *testing.T) {
	s := newSink()
	b := New(context.Background(), 30*time.Millisecond, s.flush, logger.Discard(), nil)

	b.Push("c1", "hello", ev("a"))
	b.Push("c2", "oi", ev("b"))

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		u := s.wait(t)
		got[u.ConversationID] = u.Text
	}
	assert.Equal(t, map[string]string{"c1": "hello", "c2": "oi"}, got)
}

func TestPush_RejectedWhenDisabledOrBlank(t *testing.T) {
	s := newSink()
	off := New(context.Background(), 0, s.flush, logger.Discard(), nil)
	assert.False(t, off.Push("c1", "hi", ev("m1")))

	on := New(context.Background(), time.Second, s.flush, logger.Discard(), nil)
	assert.False(t, on.Push("c1", "   ", ev("m1")))
	assert.Equal(t, 0, on.Pending())
}

func TestClose_FlushesPending(t *testing.T) {
	s := newSink()
	b := New(context.Background(), time.Hour, s.flush, logger.Discard(), nil)
	b.Push("c1", "pending", ev("m1"))
	assert.Equal(t, 1, b.Pending())

	b.Close()
	u := s.wait(t)
	assert.Equal(t, "pending", u.Text)
	assert.False(t, b.Push("c1", "late", ev("m2")))
}

func TestAggregate(t *testing.T) {
	assert.Equal(t, "", Aggregate([]string{" ", ""}))
	assert.Equal(t, "a b", Aggregate([]string{" a", "", "b "}))
}

// liveGen reads the generation of the conversation's armed timer.
func liveGen(t *testing.T, b *Buffer, conversationID string) uint64 {
	t.Helper()
	s := b.shardFor(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[conversationID]
	require.True(t, ok, "no pending entry for %s", conversationID)
	return e.gen
}

func TestFire_SupersededTimerDoesNotFlush(t *testing.T) {
	s := newSink()
	b := New(context.Background(), time.Hour, s.flush, logger.Discard(), nil)
	defer b.Close()

	require.True(t, b.Push("c1", "a", ev("m1")))
	stale := liveGen(t, b, "c1")
	require.True(t, b.Push("c1", "b", ev("m2")))
	live := liveGen(t, b, "c1")
	require.NotEqual(t, stale, live)

	// The first timer lost the race to Stop and fires anyway.
	b.fire("c1", stale)
	assert.Equal(t, 0, s.count())
	assert.Equal(t, 1, b.Pending())

	b.fire("c1", live)
	u := s.wait(t)
	assert.Equal(t, "a b", u.Text)
	assert.Equal(t, "m2", u.Event.ID)
	assert.Equal(t, 0, b.Pending())

	b.fire("c1", live)
	assert.Equal(t, 1, s.count(), "a timer fires at most once")
}

func TestFire_PushDuringFlushStartsNewAccumulation(t *testing.T) {
	entered := make(chan Unit, 2)
	release := make(chan struct{})
	flush := func(_ context.Context, u Unit) {
		entered <- u
		if u.Text == "one" {
			<-release
		}
	}
	b := New(context.Background(), time.Hour, flush, logger.Discard(), nil)
	defer b.Close()

	require.True(t, b.Push("c1", "one", ev("m1")))
	first := liveGen(t, b, "c1")
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.fire("c1", first)
	}()

	select {
	case u := <-entered:
		assert.Equal(t, "one", u.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("first flush never started")
	}

	// The first flush is still running; this fragment must not join it.
	require.True(t, b.Push("c1", "two", ev("m2")))
	assert.Equal(t, 1, b.Pending())
	second := liveGen(t, b, "c1")

	close(release)
	<-done

	b.fire("c1", second)
	select {
	case u := <-entered:
		assert.Equal(t, "two", u.Text)
		assert.Equal(t, 1, u.Fragments)
		assert.Equal(t, "m2", u.Event.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("second flush never happened")
	}
}

func TestFire_StaleTimerIgnoresRecreatedEntry(t *testing.T) {
	s := newSink()
	b := New(context.Background(), time.Hour, s.flush, logger.Discard(), nil)
	defer b.Close()

	require.True(t, b.Push("c1", "a", ev("m1")))
	stale := liveGen(t, b, "c1")
	require.True(t, b.Push("c1", "b", ev("m2")))
	b.fire("c1", liveGen(t, b, "c1"))
	assert.Equal(t, "a b", s.wait(t).Text)

	// A fresh window for the same conversation; the old superseded timer
	// arriving late must not flush it early.
	require.True(t, b.Push("c1", "c", ev("m3")))
	b.fire("c1", stale)
	assert.Equal(t, 1, s.count())
	assert.Equal(t, 1, b.Pending())
}
