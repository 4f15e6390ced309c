package consumer

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/pratilipi/sqs-consumer-go/lease"
)

type RetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration
}

type Config struct {
	// QueueURL is the full URL of the SQS queue to consume from.
	QueueURL string
	// MaxMessages is the ReceiveMessage batch size, 1..10.
	MaxMessages int32
	// WaitTime is the long-poll duration per ReceiveMessage call, up to the
	// SQS maximum of 20s.
	WaitTime time.Duration
	// VisibilityTimeout is how long a received message stays invisible to
	// other consumers; the lease engine renews it while the handler runs.
	VisibilityTimeout time.Duration
	// PollInterval is the pause after a failed receive before retrying.
	PollInterval time.Duration
	// Concurrency is the number of messages of one batch handled in
	// parallel.
	Concurrency int
	Retry       RetryConfig
	// Lease configures the flush and renewal timers of the lease engine.
	Lease  lease.Options
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxMessages == 0 {
		c.MaxMessages = 10
	}
	if c.WaitTime == 0 {
		c.WaitTime = 20 * time.Second
	}
	if c.VisibilityTimeout == 0 {
		c.VisibilityTimeout = 30 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.Concurrency == 0 {
		c.Concurrency = 1
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.Backoff == 0 {
		c.Retry.Backoff = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

func (c Config) validate() error {
	if c.QueueURL == "" {
		return errors.New("queue URL is required")
	}
	if c.MaxMessages < 1 || c.MaxMessages > 10 {
		return errors.New("max messages must be between 1 and 10")
	}
	if c.WaitTime < 0 || c.WaitTime > 20*time.Second {
		return errors.New("wait time must be between 0 and 20s")
	}
	if c.VisibilityTimeout < time.Second {
		return errors.New("visibility timeout must be >= 1s")
	}
	if c.Concurrency < 1 {
		return errors.New("concurrency must be >= 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry max attempts must be >= 1")
	}
	return nil
}
