// Package dedup is the two-layer idempotency gate in front of inbound processing.
//
// The fast layer is an ephemeral SET NX with a TTL and tolerates data loss.
// The durable layer is a ledger row with a unique constraint on the event id;
// its insertion is the source of truth for "this event was accepted".
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sdr-backend/internal/cache"
	"sdr-backend/internal/metrics"
)

type Verdict string

const (
	Accepted  Verdict = "accepted"
	Duplicate Verdict = "duplicate"
)

// KeyPrefix namespaces fast-layer keys in the shared cache.
const KeyPrefix = "evolution:webhook:msg:"

// DefaultTTL bounds how long the fast layer remembers an event.
const DefaultTTL = time.Hour

// Ledger is the durable half of the filter.
type Ledger interface {
	// RegisterIncomingMessage inserts the ledger row. It returns false, nil
	// when the id already exists (unique violation).
	RegisterIncomingMessage(ctx context.Context, eventID string) (bool, error)
	// ReleaseIncomingMessage deletes the ledger row. Compensation only.
	ReleaseIncomingMessage(ctx context.Context, eventID string) error
}

type Filter struct {
	cache   cache.Store
	ledger  Ledger
	ttl     time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewFilter(c cache.Store, l Ledger, ttl time.Duration, log *slog.Logger, m *metrics.Metrics) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Filter{cache: c, ledger: l, ttl: ttl, log: log, metrics: m}
}

func key(eventID string) string { return KeyPrefix + eventID }

// Admit decides whether eventID is seen for the first time.
// An empty id is always Accepted. A non-nil error means the verdict is unknown
// and the caller must fail the request; the fast-layer claim is already undone.
func (f *Filter) Admit(ctx context.Context, eventID string) (Verdict, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		f.metrics.DedupVerdict("no_id")
		return Accepted, nil
	}

	claimed := false
	if f.cache != nil {
		ok, err := f.cache.SetNX(ctx, key(eventID), "1", f.ttl)
		switch {
		case err != nil:
			f.log.Warn("dedup fast layer unavailable", "event_id", eventID, "err", err)
		case !ok:
			f.metrics.DedupVerdict(string(Duplicate))
			return Duplicate, nil
		default:
			claimed = true
		}
	}

	if f.ledger == nil {
		f.metrics.DedupVerdict(string(Accepted))
		return Accepted, nil
	}

	inserted, err := f.ledger.RegisterIncomingMessage(ctx, eventID)
	if err != nil {
		if claimed {
			f.dropFastKey(ctx, eventID)
		}
		f.metrics.DedupVerdict("error")
		return "", fmt.Errorf("dedup: register %s: %w", eventID, err)
	}
	if !inserted {
		// Another attempt owns this event; this call will not process it.
		if claimed {
			f.dropFastKey(ctx, eventID)
		}
		f.metrics.DedupVerdict(string(Duplicate))
		return Duplicate, nil
	}

	f.metrics.DedupVerdict(string(Accepted))
	return Accepted, nil
}

// Release undoes an Accepted verdict after downstream processing failed,
// so a provider retry is processed instead of being dropped as a duplicate.
func (f *Filter) Release(ctx context.Context, eventID string) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil
	}
	var errs []error
	if f.cache != nil {
		if err := f.cache.Delete(ctx, key(eventID)); err != nil {
			errs = append(errs, fmt.Errorf("dedup: drop fast key: %w", err))
		}
	}
	if f.ledger != nil {
		if err := f.ledger.ReleaseIncomingMessage(ctx, eventID); err != nil {
			errs = append(errs, fmt.Errorf("dedup: release ledger row: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (f *Filter) dropFastKey(ctx context.Context, eventID string) {
	if err := f.cache.Delete(ctx, key(eventID)); err != nil {
		// The key expires on its own after ttl.
		f.log.Warn("dedup fast key cleanup failed", "event_id", eventID, "err", err)
	}
}
