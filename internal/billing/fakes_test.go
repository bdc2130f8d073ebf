package billing

import (
	"context"
	"sync"
	"sync/atomic"

	"notemeter/internal/external"
	"notemeter/internal/telemetry"
	"notemeter/internal/types"
)

// fakeClient is a func-field EntitlementClient with call counters. Unset
// funcs succeed with zero values.
type fakeClient struct {
	canUseFn      func(ctx context.Context, subject types.Subject, feature types.FeatureName) (*types.Usage, error)
	reportFn      func(ctx context.Context, report types.UsageReport) error
	subscribeFn   func(ctx context.Context, subject types.Subject, plans ...types.PlanName) error
	lookupPhaseFn func(ctx context.Context, subject types.Subject) (*types.Phase, error)
	pullLatestFn  func(ctx context.Context) (*types.Model, error)

	canUseCalls    atomic.Int32
	reportCalls    atomic.Int32
	subscribeCalls atomic.Int32
	cancelCalls    atomic.Int32
	lookupCalls    atomic.Int32
	pullCalls      atomic.Int32

	mu         sync.Mutex
	subscribed []types.PlanName
}

var _ external.EntitlementClient = (*fakeClient)(nil)

func (f *fakeClient) CanUse(ctx context.Context, subject types.Subject, feature types.FeatureName) (*types.Usage, error) {
	f.canUseCalls.Add(1)
	if f.canUseFn != nil {
		return f.canUseFn(ctx, subject, feature)
	}
	return &types.Usage{Feature: feature}, nil
}

func (f *fakeClient) Report(ctx context.Context, report types.UsageReport) error {
	f.reportCalls.Add(1)
	if f.reportFn != nil {
		return f.reportFn(ctx, report)
	}
	return nil
}

func (f *fakeClient) Subscribe(ctx context.Context, subject types.Subject, plans ...types.PlanName) error {
	f.subscribeCalls.Add(1)
	f.mu.Lock()
	f.subscribed = append(f.subscribed, plans...)
	f.mu.Unlock()
	if f.subscribeFn != nil {
		return f.subscribeFn(ctx, subject, plans...)
	}
	return nil
}

func (f *fakeClient) Cancel(context.Context, types.Subject) error {
	f.cancelCalls.Add(1)
	return nil
}

func (f *fakeClient) LookupPhase(ctx context.Context, subject types.Subject) (*types.Phase, error) {
	f.lookupCalls.Add(1)
	if f.lookupPhaseFn != nil {
		return f.lookupPhaseFn(ctx, subject)
	}
	return &types.Phase{}, nil
}

func (f *fakeClient) PullLatest(ctx context.Context) (*types.Model, error) {
	f.pullCalls.Add(1)
	if f.pullLatestFn != nil {
		return f.pullLatestFn(ctx)
	}
	return &types.Model{}, nil
}

func (f *fakeClient) subscribedPlans() []types.PlanName {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.PlanName(nil), f.subscribed...)
}

// recordingSink captures submitted reports synchronously.
type recordingSink struct {
	mu      sync.Mutex
	reports []types.UsageReport
}

func (s *recordingSink) Submit(_ context.Context, r types.UsageReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
}

func (s *recordingSink) all() []types.UsageReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.UsageReport(nil), s.reports...)
}

// countingMetrics counts recorded results per metric.
type countingMetrics struct {
	telemetry.NoopBillingMetrics

	mu      sync.Mutex
	checks  map[telemetry.MetricResult]int
	reports map[telemetry.MetricResult]int
	enrolls map[telemetry.MetricResult]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		checks:  map[telemetry.MetricResult]int{},
		reports: map[telemetry.MetricResult]int{},
		enrolls: map[telemetry.MetricResult]int{},
	}
}

func (m *countingMetrics) RecordCheck(_ context.Context, _ types.FeatureName, r telemetry.MetricResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[r]++
}

func (m *countingMetrics) RecordReport(_ context.Context, _ types.FeatureName, r telemetry.MetricResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r]++
}

func (m *countingMetrics) RecordProvisioning(_ context.Context, r telemetry.MetricResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrolls[r]++
}

func (m *countingMetrics) count(bucket map[telemetry.MetricResult]int, r telemetry.MetricResult) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bucket[r]
}

func notFoundSubject() error {
	return types.NewAppErrorWithDetails(types.ErrCodeNotFoundSubject, "billing subject not found", nil,
		map[string]any{"remote_code": "org_not_found"})
}

func catalog(names ...types.PlanName) *types.Model {
	m := &types.Model{Plans: map[types.PlanName]types.Plan{}}
	for _, n := range names {
		m.Plans[n] = types.Plan{Title: string(n)}
	}
	return m
}
