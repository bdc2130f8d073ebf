// Package billing holds the entitlement core: lazy plan enrollment, the
// check-then-report quota protocol, and pricing display resolution.
package billing

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"

	"notemeter/internal/external"
	"notemeter/internal/telemetry"
	"notemeter/internal/types"
)

// DefaultFreePlanPrefix marks plans that new subjects are enrolled in.
const DefaultFreePlanPrefix = "plan:free@"

const defaultEnrollTimeout = 30 * time.Second

// ProvisioningGate enrolls subjects in the free plan on first sight. At most
// one enrollment attempt per subject is in flight at a time within the
// process; concurrent callers share its outcome. Nothing is cached once an
// attempt settles, so a failed subject is retried on its next load.
type ProvisioningGate struct {
	client        external.EntitlementClient
	freePrefix    string
	enrollTimeout time.Duration
	metrics       telemetry.BillingMetrics
	logger        *slog.Logger

	group singleflight.Group
}

// GateOption configures a ProvisioningGate.
type GateOption func(*ProvisioningGate)

// WithFreePlanPrefix overrides DefaultFreePlanPrefix.
func WithFreePlanPrefix(prefix string) GateOption {
	return func(g *ProvisioningGate) { g.freePrefix = prefix }
}

// WithEnrollTimeout bounds a shared enrollment attempt. The attempt does not
// inherit any single caller's deadline.
func WithEnrollTimeout(d time.Duration) GateOption {
	return func(g *ProvisioningGate) { g.enrollTimeout = d }
}

// WithGateMetrics sets the metrics sink.
func WithGateMetrics(m telemetry.BillingMetrics) GateOption {
	return func(g *ProvisioningGate) { g.metrics = m }
}

// WithGateLogger sets the logger.
func WithGateLogger(l *slog.Logger) GateOption {
	return func(g *ProvisioningGate) { g.logger = l }
}

// NewProvisioningGate creates a gate over client.
func NewProvisioningGate(client external.EntitlementClient, opts ...GateOption) *ProvisioningGate {
	g := &ProvisioningGate{
		client:        client,
		freePrefix:    DefaultFreePlanPrefix,
		enrollTimeout: defaultEnrollTimeout,
		metrics:       telemetry.NoopBillingMetrics{},
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// EnsureEnrolled returns once the subject has a phase or has just been
// subscribed to the free plan. A caller whose ctx ends first returns
// ctx.Err() without cancelling the shared attempt.
func (g *ProvisioningGate) EnsureEnrolled(ctx context.Context, subject types.Subject) error {
	detached := context.WithoutCancel(ctx)
	ch := g.group.DoChan(string(subject), func() (any, error) {
		attemptCtx, cancel := context.WithTimeout(detached, g.enrollTimeout)
		defer cancel()
		return nil, g.enroll(attemptCtx, subject)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *ProvisioningGate) enroll(ctx context.Context, subject types.Subject) error {
	_, err := g.client.LookupPhase(ctx, subject)
	if err == nil {
		g.metrics.RecordProvisioning(ctx, telemetry.ResultExisting)
		return nil
	}
	if !types.HasCode(err, types.ErrCodeNotFoundSubject) {
		g.metrics.RecordProvisioning(ctx, telemetry.ResultFailed)
		return provisioningError(subject, "failed to look up subject phase", err)
	}

	model, err := g.client.PullLatest(ctx)
	if err != nil {
		g.metrics.RecordProvisioning(ctx, telemetry.ResultFailed)
		return provisioningError(subject, "failed to load plan catalog", err)
	}

	plan, ok := SelectFreePlan(model, g.freePrefix)
	if !ok {
		g.metrics.RecordProvisioning(ctx, telemetry.ResultFailed)
		return provisioningError(subject, "no free plan in catalog", nil).
			WithDetails(map[string]any{"prefix": g.freePrefix})
	}

	if err := g.client.Subscribe(ctx, subject, plan); err != nil {
		g.metrics.RecordProvisioning(ctx, telemetry.ResultFailed)
		return provisioningError(subject, "failed to subscribe subject to free plan", err)
	}

	g.logger.InfoContext(ctx, "enrolled subject in free plan",
		"subject", string(subject),
		"plan", string(plan),
	)
	g.metrics.RecordProvisioning(ctx, telemetry.ResultEnrolled)
	return nil
}

// SelectFreePlan returns the lexically first plan in model whose identifier
// starts with prefix.
func SelectFreePlan(model *types.Model, prefix string) (types.PlanName, bool) {
	if model == nil {
		return "", false
	}
	var candidates []types.PlanName
	for name := range model.Plans {
		if name.HasPrefix(prefix) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	return slices.Min(candidates), true
}

func provisioningError(subject types.Subject, msg string, err error) *types.AppError {
	return types.NewAppErrorWithDetails(types.ErrCodeProvisioningFailed, msg, err,
		map[string]any{"subject": string(subject)})
}
