package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/pratilipi/sqs-consumer-go/dedupe"
	"github.com/pratilipi/sqs-consumer-go/lease"
)

type HandlerFunc func(ctx context.Context, msg types.Message) error
type BatchHandlerFunc func(ctx context.Context, msgs []types.Message) error

// SQSAPI is the subset of the SQS client the consumer needs: receiving plus
// the acknowledgement calls the lease engine issues.
type SQSAPI interface {
	lease.SQSAPI
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
}

type Consumer struct {
	cfg          Config
	client       SQSAPI
	handler      HandlerFunc
	batchHandler BatchHandlerFunc
	dedupeStore  dedupe.Store
	leaser       lease.Leaser
	logger       *slog.Logger
}

func New(cfg Config, client SQSAPI, handler HandlerFunc, opts ...Option) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("sqs client is required")
	}

	opt, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	if handler == nil && opt.batchHandler == nil {
		return nil, errors.New("handler is required (provide WithBatchHandler for batch processing)")
	}

	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	leaser := opt.leaser
	if leaser == nil {
		leaser = lease.NewSQSLeaser(client, cfg.QueueURL, cfg.VisibilityTimeout)
	}

	return &Consumer{
		cfg:          cfg,
		client:       client,
		handler:      handler,
		batchHandler: opt.batchHandler,
		dedupeStore:  opt.dedupeStore,
		leaser:       leaser,
		logger:       cfg.Logger,
	}, nil
}

// Start polls the queue until ctx is cancelled. Every received message is
// registered with the lease engine before its handler runs, so its
// visibility deadline is renewed for as long as processing takes. On return
// the engine has flushed every recorded ack and nack and released whatever
// was still checked out.
func (c *Consumer) Start(ctx context.Context) error {
	loopOpts := c.cfg.Lease
	if loopOpts.Logger == nil {
		loopOpts.Logger = c.logger
	}
	loop := lease.NewLoop(c.leaser, loopOpts)

	c.logger.Info("starting consumer", slog.String("queue", c.cfg.QueueURL))

	for ctx.Err() == nil {
		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.cfg.QueueURL),
			MaxNumberOfMessages: c.cfg.MaxMessages,
			WaitTimeSeconds:     int32(c.cfg.WaitTime / time.Second),
			VisibilityTimeout:   int32(c.cfg.VisibilityTimeout / time.Second),
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Error("receive messages", slog.String("queue", c.cfg.QueueURL), slog.String("error", err.Error()))
			if err := sleepWithContext(ctx, c.cfg.PollInterval); err != nil {
				break
			}
			continue
		}
		if len(out.Messages) == 0 {
			continue
		}

		if c.batchHandler != nil {
			c.handleBatch(ctx, loop, out.Messages)
		} else {
			c.handleMessages(ctx, loop, out.Messages)
		}
	}

	// Flush recorded decisions and release the rest before reporting the
	// consumer as stopped.
	if err := loop.Close(context.Background()); err != nil {
		return fmt.Errorf("close lease loop: %w", err)
	}
	c.logger.Info("consumer stopped", slog.String("queue", c.cfg.QueueURL))
	return nil
}

func (c *Consumer) handleMessages(ctx context.Context, loop *lease.Loop, msgs []types.Message) {
	workerLimit := c.cfg.Concurrency
	if workerLimit > len(msgs) {
		workerLimit = len(msgs)
	}

	sem := make(chan struct{}, workerLimit)
	var wg sync.WaitGroup

	for _, msg := range msgs {
		receipt := aws.ToString(msg.ReceiptHandle)
		if receipt == "" {
			continue
		}
		loop.Add(receipt)

		if c.alreadyProcessed(ctx, msg) {
			// Redelivery of a message a previous run finished; delete it
			// without touching the handler.
			loop.Ack(receipt)
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(msg types.Message, receipt string) {
			defer wg.Done()
			defer func() { <-sem }()
			c.handleOne(ctx, loop, msg, receipt)
		}(msg, receipt)
	}

	wg.Wait()
}

func (c *Consumer) handleOne(ctx context.Context, loop *lease.Loop, msg types.Message, receipt string) {
	if err := c.handleWithRetry(ctx, msg); err != nil {
		c.logger.Warn("message handling failed",
			slog.String("message_id", aws.ToString(msg.MessageId)),
			slog.String("error", err.Error()))
		loop.Nack(receipt)
		return
	}
	loop.Ack(receipt)
	c.markProcessed(ctx, msg)
}

func (c *Consumer) handleBatch(ctx context.Context, loop *lease.Loop, msgs []types.Message) {
	fresh := make([]types.Message, 0, len(msgs))
	for _, msg := range msgs {
		receipt := aws.ToString(msg.ReceiptHandle)
		if receipt == "" {
			continue
		}
		loop.Add(receipt)
		if c.alreadyProcessed(ctx, msg) {
			loop.Ack(receipt)
			continue
		}
		fresh = append(fresh, msg)
	}
	if len(fresh) == 0 {
		return
	}

	if err := c.handleBatchWithRetry(ctx, fresh); err != nil {
		c.logger.Warn("batch handling failed", slog.Int("count", len(fresh)), slog.String("error", err.Error()))
		for _, msg := range fresh {
			loop.Nack(aws.ToString(msg.ReceiptHandle))
		}
		return
	}
	for _, msg := range fresh {
		loop.Ack(aws.ToString(msg.ReceiptHandle))
		c.markProcessed(ctx, msg)
	}
}

func (c *Consumer) alreadyProcessed(ctx context.Context, msg types.Message) bool {
	if c.dedupeStore == nil {
		return false
	}
	seen, err := c.dedupeStore.Seen(ctx, c.cfg.QueueURL, aws.ToString(msg.MessageId))
	if err != nil {
		c.logger.Warn("dedupe lookup failed", slog.String("message_id", aws.ToString(msg.MessageId)), slog.String("error", err.Error()))
		return false
	}
	return seen
}

func (c *Consumer) markProcessed(ctx context.Context, msg types.Message) {
	if c.dedupeStore == nil {
		return
	}
	if err := c.dedupeStore.Mark(ctx, c.cfg.QueueURL, aws.ToString(msg.MessageId)); err != nil {
		c.logger.Warn("dedupe mark failed", slog.String("message_id", aws.ToString(msg.MessageId)), slog.String("error", err.Error()))
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, msg types.Message) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Retry.MaxAttempts; attempt++ {
		if err := c.handler(ctx, msg); err != nil {
			lastErr = err
			if attempt == c.cfg.Retry.MaxAttempts {
				break
			}
			backoff := time.Duration(attempt) * c.cfg.Retry.Backoff
			if err := sleepWithContext(ctx, backoff); err != nil {
				return err
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("handler failed after %d attempts: %w", c.cfg.Retry.MaxAttempts, lastErr)
}

func (c *Consumer) handleBatchWithRetry(ctx context.Context, msgs []types.Message) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Retry.MaxAttempts; attempt++ {
		if err := c.batchHandler(ctx, msgs); err != nil {
			lastErr = err
			if attempt == c.cfg.Retry.MaxAttempts {
				break
			}
			backoff := time.Duration(attempt) * c.cfg.Retry.Backoff
			if err := sleepWithContext(ctx, backoff); err != nil {
				return err
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("batch handler failed after %d attempts: %w", c.cfg.Retry.MaxAttempts, lastErr)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
