package consumer

import (
	"errors"

	"github.com/pratilipi/sqs-consumer-go/dedupe"
	"github.com/pratilipi/sqs-consumer-go/lease"
)

// Option configures optional consumer features.
type Option func(*consumerOptions) error

type consumerOptions struct {
	batchHandler BatchHandlerFunc
	dedupeStore  dedupe.Store
	leaser       lease.Leaser
}

func applyOptions(opts []Option) (consumerOptions, error) {
	var cfg consumerOptions
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return consumerOptions{}, err
		}
	}
	return cfg, nil
}

// WithBatchHandler switches the consumer to call the provided batch handler
// once per ReceiveMessage call instead of invoking the per-message handler.
// Acks and nacks are recorded for the whole batch based on the handler's
// result.
func WithBatchHandler(handler BatchHandlerFunc) Option {
	if handler == nil {
		return func(*consumerOptions) error {
			return errors.New("batch handler cannot be nil")
		}
	}
	return func(cfg *consumerOptions) error {
		cfg.batchHandler = handler
		return nil
	}
}

// WithDedupeStore enables redelivery suppression: messages whose id is
// already marked as processed are acknowledged without running the handler,
// and ids are marked after a successful handling. Store errors are logged
// and the message is processed normally.
func WithDedupeStore(store dedupe.Store) Option {
	return func(cfg *consumerOptions) error {
		if store == nil {
			return errors.New("dedupe store cannot be nil")
		}
		cfg.dedupeStore = store
		return nil
	}
}

// WithLeaser overrides the SQS-backed leaser the consumer builds by default.
// Mainly useful for tests and for queues fronted by a custom
// acknowledgement path.
func WithLeaser(leaser lease.Leaser) Option {
	return func(cfg *consumerOptions) error {
		if leaser == nil {
			return errors.New("leaser cannot be nil")
		}
		cfg.leaser = leaser
		return nil
	}
}
