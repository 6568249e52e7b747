// Package reengagement nudges leads who went quiet and hands long-silent
// conversations to a human broker.
package reengagement

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"sdr-backend/internal/agents"
	"sdr-backend/internal/conversations"
	"sdr-backend/internal/domain"
	"sdr-backend/internal/events"
	"sdr-backend/internal/handoff"
	"sdr-backend/internal/messaging"
	"sdr-backend/internal/metrics"
	"sdr-backend/pkg/logger"
)

const (
	// LockName is held for the whole sweep.
	LockName = "jobs:reengagement:lock"
	// HandoffTier records the 24h handoff nudge.
	HandoffTier = 24 * 60

	handoffStatus       = "no_reply_24h"
	handoffHistoryLimit = 50
)

// Store is the slice of the durable store a sweep needs.
type Store interface {
	ListInactive(ctx context.Context, cutoff time.Time) ([]conversations.InactiveConversation, error)
	HasReengagementSince(ctx context.Context, conversationID string, tierMinutes int, since time.Time) (bool, error)
	RecordReengagement(ctx context.Context, r conversations.ReengagementRecord) error
}

type Locker interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	Renew(ctx context.Context, name, token string, ttl time.Duration) bool
	Release(ctx context.Context, name, token string)
}

type Sender interface {
	SendText(ctx context.Context, req messaging.SendTextRequest) (messaging.SendResult, error)
}

// Broker receives 24h handoffs.
type Broker interface {
	Dispatch(ctx context.Context, req handoff.Request) (string, error)
}

type Options struct {
	Tiers        []int
	LockTTL      time.Duration
	Location     *time.Location
	StartHour    int
	EndHour      int
	HistoryLimit int
	Prompts      Prompts
}

type Deps struct {
	Store         Store
	Conversations *conversations.Service
	Locker        Locker
	Sender        Sender
	// Composer may be nil; the tier base message is sent verbatim then.
	Composer agents.NudgeComposer
	// Broker may be nil; the 24h pass still nudges and records.
	Broker  Broker
	Events  *events.Service
	Metrics *metrics.Metrics
	Log     *slog.Logger
}

// Report summarizes one sweep.
type Report struct {
	StartedAt    time.Time   `json:"started_at"`
	Acquired     bool        `json:"acquired"`
	OutsideHours bool        `json:"outside_hours,omitempty"`
	LockLost     bool        `json:"lock_lost,omitempty"`
	Sent         map[int]int `json:"sent"`
	Failed       int         `json:"failed"`
	Handoffs     int         `json:"handoffs"`
}

type Scheduler struct {
	deps  Deps
	opts  Options
	log   *slog.Logger
	clock func() time.Time
}

func New(d Deps, o Options) *Scheduler {
	if o.LockTTL <= 0 {
		o.LockTTL = 10 * time.Minute
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.EndHour == 0 {
		o.StartHour, o.EndHour = 8, 19
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 20
	}
	if o.Prompts == nil {
		o.Prompts = DefaultPrompts()
	}
	o.Tiers = append([]int(nil), o.Tiers...)
	sort.Ints(o.Tiers)
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{deps: d, opts: o, log: log, clock: time.Now}
}

func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// InBusinessHours reports whether t falls in [StartHour, EndHour) local time.
func (s *Scheduler) InBusinessHours(t time.Time) bool {
	h := t.In(s.opts.Location).Hour()
	return h >= s.opts.StartHour && h < s.opts.EndHour
}

// Sweep runs one pass. Only a lock infrastructure failure is returned;
// per-conversation failures are logged and counted.
func (s *Scheduler) Sweep(ctx context.Context) (Report, error) {
	rep := Report{StartedAt: s.clock().UTC(), Sent: map[int]int{}}

	token, ok, err := s.deps.Locker.TryAcquire(ctx, LockName, s.opts.LockTTL)
	if err != nil {
		return rep, fmt.Errorf("reengagement: acquire lock: %w", err)
	}
	if !ok {
		s.log.Info("reengagement sweep already running elsewhere")
		return rep, nil
	}
	rep.Acquired = true

	release := true
	defer func() {
		if release {
			s.deps.Locker.Release(context.WithoutCancel(ctx), LockName, token)
		}
	}()

	if !s.InBusinessHours(s.clock()) {
		rep.OutsideHours = true
		return rep, nil
	}

	for _, tier := range s.opts.Tiers {
		if !s.deps.Locker.Renew(ctx, LockName, token, s.opts.LockTTL) {
			s.log.Warn("reengagement lock lost; aborting", "tier", tier)
			rep.LockLost, release = true, false
			return rep, nil
		}
		if lost := s.sweepTier(ctx, tier, token, &rep); lost {
			rep.LockLost, release = true, false
			return rep, nil
		}
	}

	if lost := s.sweepHandoffs(ctx, token, &rep); lost {
		rep.LockLost, release = true, false
	}
	return rep, nil
}

// candidates lists conversations due for tier with no record since their last activity.
func (s *Scheduler) candidates(ctx context.Context, tier int) []conversations.InactiveConversation {
	cutoff := s.clock().UTC().Add(-time.Duration(tier) * time.Minute)
	list, err := s.deps.Store.ListInactive(ctx, cutoff)
	if err != nil {
		s.log.Error("list inactive conversations failed", "tier", tier, "err", err)
		return nil
	}
	out := list[:0]
	for _, c := range list {
		if strings.TrimSpace(c.Contact) == "" {
			continue
		}
		done, err := s.deps.Store.HasReengagementSince(ctx, c.ID, tier, c.LastActivityAt)
		if err != nil {
			s.log.Warn("reengagement lookup failed", "conversation_id", c.ID, "tier", tier, "err", err)
			continue
		}
		if !done {
			out = append(out, c)
		}
	}
	return out
}

func (s *Scheduler) sweepTier(ctx context.Context, tier int, token string, rep *Report) (lockLost bool) {
	base := s.opts.Prompts.ForTier(tier)
	for _, c := range s.candidates(ctx, tier) {
		if ctx.Err() != nil {
			return false
		}
		if !s.nudge(ctx, c, tier, base) {
			rep.Failed++
			continue
		}
		rep.Sent[tier]++
		if !s.deps.Locker.Renew(ctx, LockName, token, s.opts.LockTTL) {
			s.log.Warn("reengagement lock lost mid-tier; aborting", "tier", tier)
			return true
		}
	}
	return false
}

func (s *Scheduler) sweepHandoffs(ctx context.Context, token string, rep *Report) (lockLost bool) {
	for _, c := range s.candidates(ctx, HandoffTier) {
		if ctx.Err() != nil {
			return false
		}
		if s.deps.Broker != nil {
			history, err := s.deps.Conversations.HistoryText(ctx, c.ID, handoffHistoryLimit)
			if err != nil {
				s.log.Warn("handoff history unavailable", "conversation_id", c.ID, "err", err)
				rep.Failed++
				continue
			}
			_, err = s.deps.Broker.Dispatch(ctx, handoff.Request{
				ConversationID: c.ID,
				LeadName:       c.LeadName,
				LeadContact:    c.Contact,
				History:        BuildSummary(handoffStatus, history),
				Status:         handoffStatus,
			})
			if err != nil {
				s.log.Error("broker handoff failed", "conversation_id", c.ID, "err", err)
				rep.Failed++
				continue
			}
		}
		if !s.nudge(ctx, c, HandoffTier, s.opts.Prompts.Handoff()) {
			rep.Failed++
			continue
		}
		rep.Handoffs++
		if !s.deps.Locker.Renew(ctx, LockName, token, s.opts.LockTTL) {
			s.log.Warn("reengagement lock lost during handoffs; aborting")
			return true
		}
	}
	return false
}

// nudge composes, sends and records one tier message. It reports success
// only once the record is written.
func (s *Scheduler) nudge(ctx context.Context, c conversations.InactiveConversation, tier int, base string) bool {
	msg := base
	if s.deps.Composer != nil {
		history, err := s.deps.Conversations.HistoryText(ctx, c.ID, s.opts.HistoryLimit)
		if err != nil {
			s.log.Warn("nudge history unavailable", "conversation_id", c.ID, "err", err)
		}
		out, err := s.deps.Composer.ComposeNudge(ctx, history, base)
		if err != nil || strings.TrimSpace(out) == "" {
			s.log.Warn("nudge composition failed; sending base message", "conversation_id", c.ID, "tier", tier, "err", err)
		} else {
			msg = out
		}
	}

	if _, err := s.deps.Sender.SendText(ctx, messaging.SendTextRequest{To: c.Contact, Text: msg}); err != nil {
		s.log.Error("nudge delivery failed",
			"conversation_id", c.ID,
			"tier", tier,
			"contact", logger.MaskContact(c.Contact),
			"err", err,
		)
		s.deps.Metrics.Nudge(tier, "failed")
		return false
	}

	rec := conversations.ReengagementRecord{
		ID:             uuid.NewString(),
		ConversationID: c.ID,
		TierMinutes:    tier,
		ExecutedAt:     s.clock().UTC(),
	}
	if err := s.deps.Store.RecordReengagement(ctx, rec); err != nil {
		s.log.Error("reengagement record failed after send", "conversation_id", c.ID, "tier", tier, "err", err)
		s.deps.Metrics.Nudge(tier, "unrecorded")
		return false
	}
	// Logged without touching: a nudge is not lead activity.
	if _, err := s.deps.Conversations.LogMessage(ctx, c.ID, conversations.AuthorAgent, domain.KindText, msg, ""); err != nil {
		s.log.Warn("nudge message log failed", "conversation_id", c.ID, "err", err)
	}
	s.deps.Events.Record(ctx, c.ID, events.TypeReengagementSent, map[string]any{"tier": tier})
	s.deps.Metrics.Nudge(tier, "sent")
	s.log.Info("nudge sent", "conversation_id", c.ID, "tier", tier, "contact", logger.MaskContact(c.Contact))
	return true
}

// BuildSummary is the raw broker summary body.
func BuildSummary(status, history string) string {
	return "Status: " + status + "\nSummary:\n" + history
}

// Run sweeps immediately and then on every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		rep, err := s.Sweep(ctx)
		if err != nil {
			s.log.Error("reengagement sweep failed", "err", err)
		} else if rep.Acquired && !rep.OutsideHours {
			s.log.Info("reengagement sweep done", "sent", rep.Sent, "handoffs", rep.Handoffs, "failed", rep.Failed, "lock_lost", rep.LockLost)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
