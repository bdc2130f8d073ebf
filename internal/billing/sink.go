package billing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"notemeter/internal/external"
	"notemeter/internal/telemetry"
	"notemeter/internal/types"
)

const defaultReportTimeout = 10 * time.Second

// ReportDeliverer delivers one usage report to its destination.
type ReportDeliverer interface {
	Deliver(ctx context.Context, report types.UsageReport) error
}

// AsyncSink delivers each submitted report on its own goroutine. Delivery
// runs on a context detached from the submitter's cancellation and bounded
// by the sink's timeout.
type AsyncSink struct {
	deliverer ReportDeliverer
	timeout   time.Duration
	metrics   telemetry.BillingMetrics
	logger    *slog.Logger

	wg sync.WaitGroup
}

// SinkOption configures an AsyncSink.
type SinkOption func(*AsyncSink)

// WithReportTimeout bounds each delivery. Non-positive values keep the
// default.
func WithReportTimeout(d time.Duration) SinkOption {
	return func(s *AsyncSink) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSinkMetrics sets the metrics sink.
func WithSinkMetrics(m telemetry.BillingMetrics) SinkOption {
	return func(s *AsyncSink) { s.metrics = m }
}

// WithSinkLogger sets the logger.
func WithSinkLogger(l *slog.Logger) SinkOption {
	return func(s *AsyncSink) { s.logger = l }
}

// NewAsyncSink creates a sink over deliverer.
func NewAsyncSink(deliverer ReportDeliverer, opts ...SinkOption) *AsyncSink {
	s := &AsyncSink{
		deliverer: deliverer,
		timeout:   defaultReportTimeout,
		metrics:   telemetry.NoopBillingMetrics{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewDirectSink creates a sink that reports straight to the billing service.
func NewDirectSink(client external.EntitlementClient, opts ...SinkOption) *AsyncSink {
	return NewAsyncSink(ClientDeliverer{Client: client}, opts...)
}

// Submit schedules delivery and returns immediately.
func (s *AsyncSink) Submit(ctx context.Context, report types.UsageReport) {
	detached := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		deliverCtx, cancel := context.WithTimeout(detached, s.timeout)
		defer cancel()

		if err := s.deliverer.Deliver(deliverCtx, report); err != nil {
			s.logger.WarnContext(deliverCtx, "usage report failed",
				"subject", string(report.Subject),
				"feature", string(report.Feature),
				"amount", report.N,
				"clobber", report.Clobber,
				"error", err,
			)
			s.metrics.RecordReport(deliverCtx, report.Feature, telemetry.ResultFailed)
			return
		}
		s.metrics.RecordReport(deliverCtx, report.Feature, telemetry.ResultSuccess)
	}()
}

// Wait blocks until every submitted report has been attempted.
func (s *AsyncSink) Wait() {
	s.wg.Wait()
}

// ClientDeliverer delivers reports through an EntitlementClient.
type ClientDeliverer struct {
	Client external.EntitlementClient
}

func (d ClientDeliverer) Deliver(ctx context.Context, report types.UsageReport) error {
	return d.Client.Report(ctx, report)
}

var _ UsageSink = (*AsyncSink)(nil)
