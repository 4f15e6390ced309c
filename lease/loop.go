package lease

import (
	"context"
	"sync"
)

// Loop runs the lease engine on a dedicated background goroutine. Newly
// delivered message ids enter through Add; application decisions enter
// through Ack and Nack. The goroutine merges both inputs with the engine's
// flush and extend timers and is the only place the bookkeeping state is
// touched, so no locking guards the state itself.
//
// Two exits exist. Close ends the message stream and waits for a final flush
// of every recorded decision. Abandon stops the loop immediately without
// flushing; pending decisions are lost. Callers that need delivery
// guarantees on the way out must use Close.
type Loop struct {
	msgs      *ingress[string]
	decisions *ingress[Result]
	done      chan struct{}

	closeMsgs      sync.Once
	closeDecisions sync.Once
}

// NewLoop starts the engine with the given Leaser and options.
func NewLoop(leaser Leaser, opts Options) *Loop {
	l := &Loop{
		msgs:      newIngress[string](),
		decisions: newIngress[Result](),
		done:      make(chan struct{}),
	}
	go l.run(newState(leaser, opts))
	return l
}

// Add registers a newly delivered message id for lease tracking. Must not be
// called after Close.
func (l *Loop) Add(id string) {
	l.msgs.send(id)
}

// Ack records that the message identified by id was processed successfully.
func (l *Loop) Ack(id string) {
	l.decisions.send(Result{ID: id})
}

// Nack records that the message identified by id should be redelivered.
func (l *Loop) Nack(id string) {
	l.decisions.send(Result{ID: id, Nack: true})
}

// Close ends the message stream and waits for the loop to flush every
// recorded decision and release everything still under lease. The final
// Leaser calls run to completion regardless of ctx; ctx only bounds how long
// Close itself waits for them.
func (l *Loop) Close(ctx context.Context) error {
	l.closeMsgs.Do(l.msgs.close)
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abandon stops the loop without draining or flushing anything. It returns
// immediately; pending acks and nacks are dropped and the queue redelivers
// the affected messages when their deadlines lapse.
func (l *Loop) Abandon() {
	l.closeDecisions.Do(l.decisions.close)
}

// Done is closed when the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run(s *state) {
	defer close(l.done)
	ctx := context.Background()
	for {
		// Fixed priority each iteration: due timers, then new messages,
		// then decisions. A message must be registered before a decision
		// about it is applied; a fair select here could apply an ack ahead
		// of its add and let the late add resurrect the id.
		if ev, ok := s.pollEvent(); ok {
			s.handle(ctx, ev)
			continue
		}
		if id, ok, done := l.msgs.tryRecv(); ok {
			s.add(id)
			continue
		} else if done {
			l.drainDecisions(s)
			s.shutdown(ctx)
			return
		}
		if r, ok, done := l.decisions.tryRecv(); ok {
			l.apply(s, r)
			continue
		} else if done {
			return
		}

		// Nothing ready. Block until a timer fires or an ingress signals,
		// then re-run the priority checks from the top.
		select {
		case <-s.flushTimer.c():
			s.flushTimer.advance()
			s.flush(ctx)
		case <-s.extendTimer.c():
			s.extendTimer.advance()
			s.extend(ctx)
		case <-l.msgs.ready():
		case <-l.decisions.ready():
		}
	}
}

func (l *Loop) apply(s *state, r Result) {
	if r.Nack {
		s.nack(r.ID)
	} else {
		s.ack(r.ID)
	}
}

// drainDecisions applies every decision already queued without waiting for
// more. Part of the graceful shutdown path.
func (l *Loop) drainDecisions(s *state) {
	for {
		r, ok, _ := l.decisions.tryRecv()
		if !ok {
			return
		}
		l.apply(s, r)
	}
}
