// Package lease tracks messages that have been delivered to the application
// but not yet acknowledged. It batches ack/nack decisions, periodically
// renews the processing deadline for everything still checked out, and
// guarantees that an orderly shutdown flushes every recorded decision.
package lease

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Leaser performs the batched acknowledgement calls against the remote queue.
// The engine treats every call as best-effort: failures are logged and
// dropped, never retried. Implementations that need retries (e.g. around
// transient network errors) should handle them internally before returning.
type Leaser interface {
	// Ack acknowledges the messages identified by ids so the queue can
	// delete them.
	Ack(ctx context.Context, ids []string) error
	// Nack releases the messages identified by ids back to the queue for
	// immediate redelivery.
	Nack(ctx context.Context, ids []string) error
	// Extend pushes out the redelivery deadline for the messages identified
	// by ids.
	Extend(ctx context.Context, ids []string) error
}

// Options configures the lease engine's timers. Both timers fire first after
// their start delay and repeat at their interval thereafter. The zero value
// of any field selects its default.
type Options struct {
	// FlushInterval is how often accumulated ack/nack decisions are sent to
	// the Leaser. Default 1s.
	FlushInterval time.Duration
	// FlushStart is the delay before the first flush. Default 1s.
	FlushStart time.Duration
	// ExtendInterval is how often deadlines are renewed for messages still
	// under lease. Default 3s.
	ExtendInterval time.Duration
	// ExtendStart is the delay before the first renewal. Default 500ms.
	ExtendStart time.Duration
	// Logger receives warnings about failed Leaser calls. Defaults to a
	// discarding logger.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.FlushInterval == 0 {
		o.FlushInterval = time.Second
	}
	if o.FlushStart == 0 {
		o.FlushStart = time.Second
	}
	if o.ExtendInterval == 0 {
		o.ExtendInterval = 3 * time.Second
	}
	if o.ExtendStart == 0 {
		o.ExtendStart = 500 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// Result is one application decision about a delivered message.
type Result struct {
	ID   string
	Nack bool
}

// event identifies which of the engine's two timers fired.
type event int

const (
	eventFlush event = iota
	eventExtend
)
