package lease

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// recurringTimer fires once after a start delay and then repeatedly at a
// fixed period. Unlike time.Ticker it supports a first firing that differs
// from the period. advance must be called after every receive from c.
type recurringTimer struct {
	timer  *time.Timer
	period time.Duration
}

func newRecurringTimer(start, period time.Duration) *recurringTimer {
	return &recurringTimer{
		timer:  time.NewTimer(start),
		period: period,
	}
}

func (t *recurringTimer) c() <-chan time.Time {
	return t.timer.C
}

func (t *recurringTimer) advance() {
	t.timer.Reset(t.period)
}

func (t *recurringTimer) stop() {
	t.timer.Stop()
}

// state is the lease bookkeeping state machine. It is owned and mutated by a
// single loop goroutine; none of its methods are safe for concurrent use.
//
// Every message id lives in at most one of underLease, toAck, toNack:
// recording a decision removes the id from the lease set and appends it to
// the matching pending list in one step.
type state struct {
	leaser Leaser
	logger *slog.Logger

	underLease map[string]struct{}
	toAck      []string
	toNack     []string

	flushTimer  *recurringTimer
	extendTimer *recurringTimer
}

func newState(leaser Leaser, opts Options) *state {
	opts = opts.withDefaults()
	return &state{
		leaser:      leaser,
		logger:      opts.Logger,
		underLease:  make(map[string]struct{}),
		flushTimer:  newRecurringTimer(opts.FlushStart, opts.FlushInterval),
		extendTimer: newRecurringTimer(opts.ExtendStart, opts.ExtendInterval),
	}
}

// add registers a newly delivered message id as under lease. Idempotent.
func (s *state) add(id string) {
	s.underLease[id] = struct{}{}
}

// ack records a positive decision. The id is removed from the lease set and
// queued for the next flush even if it was not under lease: an ack for an
// already-expired lease costs nothing and may still land in time.
func (s *state) ack(id string) {
	delete(s.underLease, id)
	s.toAck = append(s.toAck, id)
}

// nack records a negative decision, but only for ids still under lease. If
// the lease already expired the queue will redeliver on its own schedule and
// an explicit release buys nothing.
func (s *state) nack(id string) {
	if _, ok := s.underLease[id]; !ok {
		return
	}
	delete(s.underLease, id)
	s.toNack = append(s.toNack, id)
}

// pollEvent reports a due timer without blocking.
func (s *state) pollEvent() (event, bool) {
	select {
	case <-s.flushTimer.c():
		s.flushTimer.advance()
		return eventFlush, true
	default:
	}
	select {
	case <-s.extendTimer.c():
		s.extendTimer.advance()
		return eventExtend, true
	default:
	}
	return 0, false
}

// nextEvent blocks until one of the two timers fires. The timers are
// single-consumer: at most one nextEvent or pollEvent call may be
// outstanding at a time.
func (s *state) nextEvent() event {
	select {
	case <-s.flushTimer.c():
		s.flushTimer.advance()
		return eventFlush
	case <-s.extendTimer.c():
		s.extendTimer.advance()
		return eventExtend
	}
}

func (s *state) handle(ctx context.Context, ev event) {
	switch ev {
	case eventFlush:
		s.flush(ctx)
	case eventExtend:
		s.extend(ctx)
	}
}

// flush sends the accumulated ack and nack batches to the Leaser. The
// pending lists are swapped for empty ones before the calls are issued, so
// decisions recorded while a call is in flight land in the next cycle rather
// than being lost or sent twice. Empty batches are skipped.
func (s *state) flush(ctx context.Context) {
	acks := s.toAck
	nacks := s.toNack
	s.toAck = nil
	s.toNack = nil

	if len(acks) > 0 {
		if err := s.leaser.Ack(ctx, acks); err != nil {
			s.logger.Warn("ack batch failed", slog.Int("count", len(acks)), slog.String("error", err.Error()))
		}
	}
	if len(nacks) > 0 {
		if err := s.leaser.Nack(ctx, nacks); err != nil {
			s.logger.Warn("nack batch failed", slog.Int("count", len(nacks)), slog.String("error", err.Error()))
		}
	}
}

// extend renews the deadline for every id still under lease. Ids are never
// aged out of the lease set here, even when their previous deadline could
// not have been met; the queue resolves that by redelivering.
func (s *state) extend(ctx context.Context) {
	if len(s.underLease) == 0 {
		return
	}
	ids := make([]string, 0, len(s.underLease))
	for id := range s.underLease {
		ids = append(ids, id)
	}
	if err := s.leaser.Extend(ctx, ids); err != nil {
		s.logger.Warn("extend batch failed", slog.Int("count", len(ids)), slog.String("error", err.Error()))
	}
}

// shutdown releases everything still under lease so the queue can redeliver
// promptly, then performs one final flush. The state must not be used after
// shutdown returns.
func (s *state) shutdown(ctx context.Context) {
	for id := range s.underLease {
		s.toNack = append(s.toNack, id)
	}
	s.underLease = nil
	s.flush(ctx)
	s.flushTimer.stop()
	s.extendTimer.stop()
}

// snapshot is the observable portion of the state, with deterministic
// ordering. Comparisons in tests go through snapshots rather than the live
// state, which carries timers and the injected Leaser.
type snapshot struct {
	underLease []string
	toAck      []string
	toNack     []string
}

func (s *state) snapshot() snapshot {
	leased := make([]string, 0, len(s.underLease))
	for id := range s.underLease {
		leased = append(leased, id)
	}
	sort.Strings(leased)
	return snapshot{
		underLease: leased,
		toAck:      append(make([]string, 0, len(s.toAck)), s.toAck...),
		toNack:     append(make([]string, 0, len(s.toNack)), s.toNack...),
	}
}
