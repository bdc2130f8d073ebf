package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricEntitlementCheck = "EntitlementCheck"
	MetricUsageReport      = "UsageReport"
	MetricProvisioning     = "Provisioning"
	MetricBillingLatency   = "BillingLatency"

	// Dimension Keys
	DimFeature   = "Feature"
	DimResult    = "Result"
	DimOperation = "Operation"

	// Metric Namespace
	MetricNamespace = "NoteMeter"
)
