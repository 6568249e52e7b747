// Package lock implements a renewable named lock on the shared cache.
//
// Ownership is proven by token equality, never assumed: a holder whose TTL
// lapsed may find the lock reassigned, and then renew reports false and
// release is a no-op.
//
// Housekeeping policy: infrastructure errors during renew/release are logged
// and not escalated. The TTL is the safety net.
package lock

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"sdr-backend/internal/cache"
	"sdr-backend/internal/metrics"

	"github.com/oklog/ulid/v2"
)

type Manager struct {
	store   cache.Store
	log     *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
}

func NewManager(store cache.Store, log *slog.Logger, m *metrics.Metrics) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: store, log: log, metrics: m, clock: time.Now}
}

// newToken returns a unique, time-sortable token for one acquisition.
func (m *Manager) newToken() (string, error) {
	id, err := ulid.New(ulid.Timestamp(m.clock()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// TryAcquire claims name for ttl. ok is false when someone else holds it;
// that is a normal outcome, not an error.
func (m *Manager) TryAcquire(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error) {
	if name == "" || ttl <= 0 {
		return "", false, fmt.Errorf("lock: name and positive ttl required")
	}
	token, err = m.newToken()
	if err != nil {
		return "", false, fmt.Errorf("lock: token: %w", err)
	}
	ok, err = m.store.SetNX(ctx, name, token, ttl)
	if err != nil {
		m.metrics.LockOp("acquire", "error")
		return "", false, fmt.Errorf("lock: acquire %s: %w", name, err)
	}
	if !ok {
		m.metrics.LockOp("acquire", "contended")
		return "", false, nil
	}
	m.metrics.LockOp("acquire", "ok")
	return token, true, nil
}

// Renew extends the lock only while token still owns it.
// An infrastructure error is logged and reported as still-held.
func (m *Manager) Renew(ctx context.Context, name, token string, ttl time.Duration) bool {
	ok, err := m.store.CompareAndExpire(ctx, name, token, ttl)
	if err != nil {
		m.metrics.LockOp("renew", "error")
		m.log.Warn("lock renew failed", "lock", name, "err", err)
		return true
	}
	if !ok {
		m.metrics.LockOp("renew", "lost")
		m.log.Warn("lock taken over by another holder", "lock", name)
		return false
	}
	m.metrics.LockOp("renew", "ok")
	return true
}

// Release deletes the lock only while token still owns it. Best-effort.
func (m *Manager) Release(ctx context.Context, name, token string) {
	ok, err := m.store.CompareAndDelete(ctx, name, token)
	switch {
	case err != nil:
		m.metrics.LockOp("release", "error")
		m.log.Warn("lock release failed", "lock", name, "err", err)
	case !ok:
		m.metrics.LockOp("release", "not_held")
		m.log.Info("lock already reassigned at release", "lock", name)
	default:
		m.metrics.LockOp("release", "ok")
	}
}
