// Package telemetry emits billing-path metrics to CloudWatch.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"notemeter/internal/types"
)

// MetricResult is the Result dimension value.
type MetricResult string

const (
	ResultAllowed  MetricResult = "allowed"
	ResultDenied   MetricResult = "denied"
	ResultError    MetricResult = "error"
	ResultSuccess  MetricResult = "success"
	ResultFailed   MetricResult = "failed"
	ResultEnrolled MetricResult = "enrolled"
	ResultExisting MetricResult = "existing"
)

// BillingMetrics records outcomes of entitlement checks, usage reports and
// provisioning attempts. Implementations must not fail the caller.
type BillingMetrics interface {
	RecordCheck(ctx context.Context, feature types.FeatureName, result MetricResult)
	RecordReport(ctx context.Context, feature types.FeatureName, result MetricResult)
	RecordProvisioning(ctx context.Context, result MetricResult)
	RecordLatency(ctx context.Context, operation string, d time.Duration)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchBillingMetrics publishes BillingMetrics to CloudWatch.
//
//   - EntitlementCheck: Dims {Feature, Result}
//   - UsageReport: Dims {Feature, Result}
//   - Provisioning: Dims {Result}
//   - BillingLatency: Dims {Operation}, milliseconds
type CloudWatchBillingMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

var _ BillingMetrics = (*CloudWatchBillingMetrics)(nil)

// NewCloudWatchBillingMetrics creates metrics publishing into namespace.
// An empty namespace selects types.MetricNamespace.
func NewCloudWatchBillingMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchBillingMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchBillingMetrics{client: client, namespace: namespace, logger: logger}
}

func (m *CloudWatchBillingMetrics) RecordCheck(ctx context.Context, feature types.FeatureName, result MetricResult) {
	m.count(ctx, types.MetricEntitlementCheck,
		dim(types.DimFeature, string(feature)),
		dim(types.DimResult, string(result)),
	)
}

func (m *CloudWatchBillingMetrics) RecordReport(ctx context.Context, feature types.FeatureName, result MetricResult) {
	m.count(ctx, types.MetricUsageReport,
		dim(types.DimFeature, string(feature)),
		dim(types.DimResult, string(result)),
	)
}

func (m *CloudWatchBillingMetrics) RecordProvisioning(ctx context.Context, result MetricResult) {
	m.count(ctx, types.MetricProvisioning, dim(types.DimResult, string(result)))
}

func (m *CloudWatchBillingMetrics) RecordLatency(ctx context.Context, operation string, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricBillingLatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{dim(types.DimOperation, operation)},
	})
}

func (m *CloudWatchBillingMetrics) count(ctx context.Context, name string, dims ...cwtypes.Dimension) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	})
}

func (m *CloudWatchBillingMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.WarnContext(ctx, "failed to publish metric",
			"metric", aws.ToString(datum.MetricName),
			"error", err.Error(),
		)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// NoopBillingMetrics discards all metrics.
type NoopBillingMetrics struct{}

var _ BillingMetrics = NoopBillingMetrics{}

func (NoopBillingMetrics) RecordCheck(context.Context, types.FeatureName, MetricResult)  {}
func (NoopBillingMetrics) RecordReport(context.Context, types.FeatureName, MetricResult) {}
func (NoopBillingMetrics) RecordProvisioning(context.Context, MetricResult)              {}
func (NoopBillingMetrics) RecordLatency(context.Context, string, time.Duration)          {}
