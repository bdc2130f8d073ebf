// Package main is the entrypoint for the Report Worker Lambda function.
//
// The worker consumes UsageReportMessages from the usage SQS queue, which
// the API fills when REPORT_MODE=queue, and forwards each report to the
// entitlement service.
//
// For each SQS message in the batch:
//  1. Unmarshal the UsageReportMessage. Malformed bodies are logged and
//     acknowledged; retrying them cannot succeed.
//  2. Report the usage. Transient failures are returned as batch item
//     failures so SQS redelivers only those messages.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"notemeter/internal/config"
	"notemeter/internal/external"
	"notemeter/internal/types"
)

// Reporter is the part of EntitlementClient the worker needs.
type Reporter interface {
	Report(ctx context.Context, report types.UsageReport) error
}

// Handler holds the dependencies for the report worker Lambda handler.
type Handler struct {
	reporter Reporter
	logger   *slog.Logger
}

// Handle processes an SQS event containing one or more usage reports.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "failed to deliver usage report",
				"message_id", record.MessageId,
				"error", err,
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	var msg types.UsageReportMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		h.logger.ErrorContext(ctx, "dropping malformed usage report",
			"message_id", record.MessageId,
			"error", err,
		)
		return nil
	}
	if msg.Subject == "" || msg.Feature == "" {
		h.logger.ErrorContext(ctx, "dropping incomplete usage report",
			"message_id", record.MessageId,
			"report_id", msg.MessageID,
		)
		return nil
	}

	ctx = types.WithRequestID(ctx, msg.TraceID)
	if err := h.reporter.Report(ctx, msg.Report()); err != nil {
		if types.KindOf(err) != types.KindTransientService {
			h.logger.WarnContext(ctx, "usage report rejected",
				"report_id", msg.MessageID,
				"subject", string(msg.Subject),
				"feature", string(msg.Feature),
				"error", err,
			)
			return nil
		}
		return fmt.Errorf("report %s: %w", msg.MessageID, err)
	}

	h.logger.DebugContext(ctx, "usage report delivered",
		"report_id", msg.MessageID,
		"subject", string(msg.Subject),
		"feature", string(msg.Feature),
		"n", msg.N,
		"clobber", msg.Clobber,
	)
	return nil
}

func main() {
	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	logger.Info("Report Worker Lambda initializing (cold start)", "environment", cfg.Environment)

	base := external.NewBaseClient(
		&http.Client{Timeout: cfg.Billing.Timeout},
		"tier",
		external.DefaultRetryPolicy(),
		"notemeter-report-worker/"+cfg.Build.Version,
	)
	client := external.NewTierClientWithBase(base, external.TierClientConfig{
		APIKey:  cfg.Billing.APIKey.Reveal(),
		BaseURL: cfg.Billing.BaseURL,
		Logger:  logger,
	})

	handler := &Handler{reporter: client, logger: logger}

	logger.Info("Report Worker Lambda initialized",
		"billing_base_url", cfg.Billing.BaseURL,
		"billing_timeout", cfg.Billing.Timeout.String(),
		"started_at", time.Now().UTC().Format(time.RFC3339),
	)

	lambda.Start(handler.Handle)
}
