package lease

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the subset of the SQS client the leaser needs.
type SQSAPI interface {
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	ChangeMessageVisibilityBatch(ctx context.Context, params *sqs.ChangeMessageVisibilityBatchInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityBatchOutput, error)
}

// SQS batch APIs accept at most 10 entries per request.
const maxBatchEntries = 10

// SQSLeaser implements Leaser against an SQS queue. Message ids are receipt
// handles: ack deletes the message, nack makes it visible again immediately,
// and extend pushes the visibility deadline out by the configured timeout.
type SQSLeaser struct {
	client            SQSAPI
	queueURL          string
	visibilityTimeout int32
}

func NewSQSLeaser(client SQSAPI, queueURL string, visibilityTimeout time.Duration) *SQSLeaser {
	if visibilityTimeout <= 0 {
		visibilityTimeout = 30 * time.Second
	}
	return &SQSLeaser{
		client:            client,
		queueURL:          queueURL,
		visibilityTimeout: int32(visibilityTimeout / time.Second),
	}
}

func (l *SQSLeaser) Ack(ctx context.Context, ids []string) error {
	var firstErr error
	for _, batch := range chunk(ids, maxBatchEntries) {
		entries := make([]types.DeleteMessageBatchRequestEntry, len(batch))
		for i, id := range batch {
			entries[i] = types.DeleteMessageBatchRequestEntry{
				Id:            aws.String(strconv.Itoa(i)),
				ReceiptHandle: aws.String(id),
			}
		}
		_, err := l.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(l.queueURL),
			Entries:  entries,
		})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete message batch: %w", err)
		}
	}
	return firstErr
}

func (l *SQSLeaser) Nack(ctx context.Context, ids []string) error {
	return l.changeVisibility(ctx, ids, 0)
}

func (l *SQSLeaser) Extend(ctx context.Context, ids []string) error {
	return l.changeVisibility(ctx, ids, l.visibilityTimeout)
}

func (l *SQSLeaser) changeVisibility(ctx context.Context, ids []string, timeout int32) error {
	var firstErr error
	for _, batch := range chunk(ids, maxBatchEntries) {
		entries := make([]types.ChangeMessageVisibilityBatchRequestEntry, len(batch))
		for i, id := range batch {
			entries[i] = types.ChangeMessageVisibilityBatchRequestEntry{
				Id:                aws.String(strconv.Itoa(i)),
				ReceiptHandle:     aws.String(id),
				VisibilityTimeout: timeout,
			}
		}
		_, err := l.client.ChangeMessageVisibilityBatch(ctx, &sqs.ChangeMessageVisibilityBatchInput{
			QueueUrl: aws.String(l.queueURL),
			Entries:  entries,
		})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("change message visibility batch: %w", err)
		}
	}
	return firstErr
}

func chunk(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	batches := make([][]string, 0, (len(ids)+size-1)/size)
	for len(ids) > size {
		batches = append(batches, ids[:size])
		ids = ids[size:]
	}
	return append(batches, ids)
}
