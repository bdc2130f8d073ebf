package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"notemeter/internal/external"
	"notemeter/internal/telemetry"
	"notemeter/internal/types"
)

var (
	// ErrAnswerDenied is returned when reporting against a denied answer.
	ErrAnswerDenied = errors.New("billing: cannot report usage for a denied answer")
	// ErrAnswerAlreadyReported is returned on the second report of an answer.
	ErrAnswerAlreadyReported = errors.New("billing: answer already reported")
	// ErrAnswerNotIssued is returned for an allowed answer the gateway did not produce.
	ErrAnswerNotIssued = errors.New("billing: answer was not issued by a gateway check")
)

// Answer is the result of an entitlement check. Copies of an Answer share
// their reported state, so any copy may be reported at most once in total.
type Answer struct {
	OK      bool              `json:"ok"`
	Subject types.Subject     `json:"subject"`
	Feature types.FeatureName `json:"feature"`
	Used    int64             `json:"used"`
	Limit   int64             `json:"limit"`

	state *answerState
}

type answerState struct {
	reported atomic.Bool
}

// Reported reports whether usage has been recorded against this answer.
func (a Answer) Reported() bool {
	return a.state != nil && a.state.reported.Load()
}

// UsageSink accepts usage reports for best-effort delivery. Submit must not
// block on the remote service and never fails the caller.
type UsageSink interface {
	Submit(ctx context.Context, report types.UsageReport)
}

// Gateway implements check-then-report over an EntitlementClient.
type Gateway struct {
	client  external.EntitlementClient
	sink    UsageSink
	metrics telemetry.BillingMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayMetrics sets the metrics sink.
func WithGatewayMetrics(m telemetry.BillingMetrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// WithGatewayLogger sets the logger.
func WithGatewayLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// WithClock overrides the report timestamp source.
func WithClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) { g.now = now }
}

// NewGateway creates a Gateway that checks through client and reports
// through sink.
func NewGateway(client external.EntitlementClient, sink UsageSink, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		client:  client,
		sink:    sink,
		metrics: telemetry.NoopBillingMetrics{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check asks whether subject may use one more unit of feature. A failed
// remote call is returned as an upstream_billing_unavailable error and is
// never turned into a denial.
func (g *Gateway) Check(ctx context.Context, subject types.Subject, feature types.FeatureName) (Answer, error) {
	start := time.Now()
	usage, err := g.client.CanUse(ctx, subject, feature)
	g.metrics.RecordLatency(ctx, "CanUse", time.Since(start))

	if err != nil {
		g.metrics.RecordCheck(ctx, feature, telemetry.ResultError)
		return Answer{Subject: subject, Feature: feature}, types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamBilling,
			"entitlement check failed",
			err,
			map[string]any{"feature": string(feature)},
		)
	}

	answer := Answer{
		OK:      usage.Allows(),
		Subject: subject,
		Feature: feature,
		Used:    usage.Used,
		Limit:   usage.Limit,
		state:   &answerState{},
	}

	if answer.OK {
		g.metrics.RecordCheck(ctx, feature, telemetry.ResultAllowed)
	} else {
		g.metrics.RecordCheck(ctx, feature, telemetry.ResultDenied)
	}
	return answer, nil
}

// Require is Check that turns a denial into a plan_limit error.
func (g *Gateway) Require(ctx context.Context, subject types.Subject, feature types.FeatureName) (Answer, error) {
	answer, err := g.Check(ctx, subject, feature)
	if err != nil {
		return answer, err
	}
	if !answer.OK {
		return answer, types.NewAppErrorWithDetails(
			types.ErrCodePlanLimit,
			fmt.Sprintf("plan limit reached for %s", feature),
			nil,
			map[string]any{
				"feature": string(feature),
				"used":    answer.Used,
				"limit":   answer.Limit,
			},
		)
	}
	return answer, nil
}

// Report records amount units against an allowed answer. Call it only after
// the gated action has committed. Amounts below one count as one. Delivery
// is asynchronous; delivery failures are logged and never returned.
func (g *Gateway) Report(ctx context.Context, answer Answer, amount int64) error {
	if !answer.OK {
		return ErrAnswerDenied
	}
	if answer.state == nil {
		return ErrAnswerNotIssued
	}
	if !answer.state.reported.CompareAndSwap(false, true) {
		return ErrAnswerAlreadyReported
	}

	g.sink.Submit(ctx, types.UsageReport{
		Subject: answer.Subject,
		Feature: answer.Feature,
		N:       max(amount, 1),
		At:      g.now().UTC(),
	})
	return nil
}

// ReportCurrentCount overwrites the subject's counter for feature with count,
// without a prior check. Used after reads to resync totals that deletes do
// not report.
func (g *Gateway) ReportCurrentCount(ctx context.Context, subject types.Subject, feature types.FeatureName, count int64) {
	g.sink.Submit(ctx, types.UsageReport{
		Subject: subject,
		Feature: feature,
		N:       max(count, 0),
		At:      g.now().UTC(),
		Clobber: true,
	})
}
