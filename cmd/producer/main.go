package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	defaultQueueName = "bench-queue"
	defaultRegion    = "us-east-1"
	maxSendBatchSize = 10
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queueName := env("QUEUE_NAME", defaultQueueName)
	region := env("AWS_REGION", defaultRegion)
	endpoint := os.Getenv("AWS_ENDPOINT")
	batchSize := envInt("BATCH_SIZE", maxSendBatchSize)
	if batchSize > maxSendBatchSize {
		slog.Warn("batch size capped at SQS max", slog.Int("requested", batchSize), slog.Int("effective", maxSendBatchSize))
		batchSize = maxSendBatchSize
	}
	workerCount := envInt("WORKERS", 8)
	payloadBytes := envInt("PAYLOAD_BYTES", 1024)

	slog.Info("producer config",
		slog.String("queue", queueName),
		slog.String("region", region),
		slog.String("endpoint", endpoint),
		slog.Int("batch_size", batchSize),
		slog.Int("workers", workerCount),
		slog.Int("payload_bytes", payloadBytes))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		slog.Error("load aws config", slog.Any("err", err))
		return
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	queueURL, err := ensureQueue(ctx, sqsClient, queueName)
	if err != nil {
		slog.Error("ensure queue", slog.Any("err", err))
		return
	}

	payload := strings.Repeat("x", payloadBytes)
	var sentMessages uint64
	var sentBytes uint64

	go logProducerMetrics(ctx, &sentMessages, &sentBytes)

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for ctx.Err() == nil {
				entries := make([]types.SendMessageBatchRequestEntry, batchSize)
				for j := range entries {
					entries[j] = types.SendMessageBatchRequestEntry{
						Id:          aws.String(strconv.Itoa(j)),
						MessageBody: aws.String(payload),
					}
				}

				resp, err := sqsClient.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
					QueueUrl: aws.String(queueURL),
					Entries:  entries,
				})
				if err != nil {
					slog.Warn("send message batch failed", slog.Int("worker", workerID), slog.Any("err", err))
					time.Sleep(200 * time.Millisecond)
					continue
				}

				succeeded := len(resp.Successful)
				if failed := len(resp.Failed); failed > 0 {
					slog.Debug("send message batch partial success",
						slog.Int("worker", workerID),
						slog.Int("succeeded", succeeded),
						slog.Int("failed", failed))
				}

				atomic.AddUint64(&sentMessages, uint64(succeeded))
				atomic.AddUint64(&sentBytes, uint64(succeeded*payloadBytes))
			}
		}(i)
	}

	<-ctx.Done()
	slog.Info("producer stopping", slog.Any("reason", ctx.Err()))
}

func ensureQueue(ctx context.Context, cli *sqs.Client, name string) (string, error) {
	out, err := cli.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: aws.String(name),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.QueueUrl), nil
}

func logProducerMetrics(ctx context.Context, messages *uint64, bytes *uint64) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var lastMessages uint64
	var lastBytes uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			curMessages := atomic.LoadUint64(messages)
			curBytes := atomic.LoadUint64(bytes)

			deltaMessages := curMessages - lastMessages
			deltaBytes := curBytes - lastBytes

			lastMessages = curMessages
			lastBytes = curBytes

			mps := float64(deltaMessages) / 5.0
			mbps := float64(deltaBytes) / (1024.0 * 1024.0) / 5.0

			slog.Info("producer throughput",
				slog.Float64("messages_per_sec", mps),
				slog.Float64("mb_per_sec", mbps),
				slog.Uint64("total_messages", curMessages))
		}
	}
}

func env(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func envInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("invalid int env; using default", slog.String("key", key), slog.String("value", val), slog.Int("default", def))
		return def
	}
	return parsed
}
