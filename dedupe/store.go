// Package dedupe remembers which message ids were already processed so that
// at-least-once redeliveries can be acknowledged without re-running the
// handler. It is application-side hygiene, not an acknowledgement guarantee:
// the lease engine behaves identically with or without it.
package dedupe

import "context"

type Store interface {
	// Seen reports whether messageID was marked as processed for queueURL.
	Seen(ctx context.Context, queueURL, messageID string) (bool, error)
	// Mark records messageID as processed for queueURL.
	Mark(ctx context.Context, queueURL, messageID string) error
	// Forget removes the processed mark, if any.
	Forget(ctx context.Context, queueURL, messageID string) error
}
