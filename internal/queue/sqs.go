// Package queue dispatches and consumes chunk messages over SQS. Delivery is
// at-least-once under a visibility timeout; the consumer deletes a message
// only after the chunk reached a terminal state, so a crashed worker's
// message is redelivered and reprocessed idempotently.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/mediakeep/upload-service/internal/config"
	"github.com/mediakeep/upload-service/internal/types"
)

// ChunkProcessor handles one chunk message to a terminal state. A non-nil
// error leaves the message in flight for redelivery.
type ChunkProcessor interface {
	ProcessChunk(ctx context.Context, msg *types.ChunkMessage) error
}

// NewClient builds an SQS client from service config. A custom endpoint
// (LocalStack, ElasticMQ) and static credentials are honored when set.
func NewClient(ctx context.Context, cfg *config.Config) (*sqs.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.SQS.Region),
	}
	if cfg.SQS.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.SQS.AccessKeyID, cfg.SQS.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.SQS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.SQS.Endpoint)
		}
	})
	return client, nil
}

// Publisher sends one message per chunk of a large batch.
type Publisher struct {
	client   *sqs.Client
	queueURL string
}

// NewPublisher creates a Publisher for the configured queue.
func NewPublisher(client *sqs.Client, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL}
}

// PublishChunk marshals and sends a chunk message.
func (p *Publisher) PublishChunk(ctx context.Context, msg *types.ChunkMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk message: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to send chunk message: %w", err)
	}
	return nil
}

// Consumer long-polls the queue and hands chunk messages to the processor.
type Consumer struct {
	client    *sqs.Client
	queueURL  string
	processor ChunkProcessor

	visibilityTimeout int32
	waitTimeSeconds   int32
}

// NewConsumer creates a Consumer. Visibility and wait times come from
// config; zero values fall back to 60s visibility and 20s long-poll.
func NewConsumer(client *sqs.Client, cfg *config.Config, processor ChunkProcessor) *Consumer {
	visibility := cfg.SQS.VisibilityTimeoutSeconds
	if visibility <= 0 {
		visibility = 60
	}
	wait := cfg.SQS.WaitTimeSeconds
	if wait <= 0 {
		wait = 20
	}

	return &Consumer{
		client:            client,
		queueURL:          cfg.SQS.QueueURL,
		processor:         processor,
		visibilityTimeout: visibility,
		waitTimeSeconds:   wait,
	}
}

// Run polls until the context is cancelled. Receive errors are logged and
// polling continues; a processing error leaves the message for redelivery
// after the visibility timeout.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     c.waitTimeSeconds,
			VisibilityTimeout:   c.visibilityTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("failed to receive messages", slog.String("error", err.Error()))
			continue
		}

		for _, m := range out.Messages {
			c.handle(ctx, m)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, m sqstypes.Message) {
	var msg types.ChunkMessage
	if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &msg); err != nil {
		// A malformed body will never parse; delete instead of poisoning
		// the queue with endless redeliveries.
		slog.Error("dropping malformed chunk message", slog.String("error", err.Error()))
		c.delete(ctx, m)
		return
	}

	if err := c.processor.ProcessChunk(ctx, &msg); err != nil {
		slog.Error("chunk processing failed, leaving message for redelivery",
			slog.String("chunk_batch_id", msg.ChunkBatchID),
			slog.String("error", err.Error()))
		return
	}

	c.delete(ctx, m)
}

func (c *Consumer) delete(ctx context.Context, m sqstypes.Message) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil {
		slog.Error("failed to delete message", slog.String("error", err.Error()))
	}
}
