// Package queue provides the SQS producer that defers usage reports to the
// report worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"notemeter/internal/config"
	"notemeter/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// ErrNoQueue is returned when the publisher has no queue URL configured.
var ErrNoQueue = errors.New("queue: usage queue url not configured")

// UsagePublisher enqueues usage reports as UsageReportMessages. It satisfies
// billing.ReportDeliverer, so a queue-backed sink is
// billing.NewAsyncSink(publisher).
type UsagePublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewUsagePublisher creates a publisher sending to awsCfg.UsageQueueURL.
func NewUsagePublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *UsagePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsagePublisher{
		client:   client,
		queueURL: awsCfg.UsageQueueURL,
		logger:   logger,
	}
}

// Deliver serializes report and sends it to the usage queue.
func (p *UsagePublisher) Deliver(ctx context.Context, report types.UsageReport) error {
	if p.queueURL == "" {
		return ErrNoQueue
	}

	msg := types.UsageReportMessage{
		MessageID: uuid.New().String(),
		Subject:   report.Subject,
		Feature:   report.Feature,
		N:         report.N,
		At:        report.At,
		Clobber:   report.Clobber,
		TraceID:   types.GetRequestID(ctx),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal UsageReportMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"feature": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(report.Feature)),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send UsageReportMessage to %s: %w", p.queueURL, err)
	}

	p.logger.DebugContext(ctx, "usage report enqueued",
		"message_id", msg.MessageID,
		"subject", string(msg.Subject),
		"feature", string(msg.Feature),
		"n", msg.N,
		"clobber", msg.Clobber,
	)
	return nil
}
