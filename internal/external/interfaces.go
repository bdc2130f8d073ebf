package external

import (
	"context"

	"notemeter/internal/types"
)

// EntitlementClient is the RPC facade over the billing service. Every method
// may fail with a transient upstream_* AppError; callers must not treat such
// failures as a denial.
type EntitlementClient interface {
	// CanUse returns the subject's current usage and limit for feature.
	// An unknown feature on a known subject is a zero-limit usage, not an error.
	CanUse(ctx context.Context, subject types.Subject, feature types.FeatureName) (*types.Usage, error)

	// Report records usage. With Clobber set, N replaces the counter.
	Report(ctx context.Context, report types.UsageReport) error

	// Subscribe enrolls the subject in the given plans, effective now.
	Subscribe(ctx context.Context, subject types.Subject, plans ...types.PlanName) error

	// Cancel ends the subject's subscription.
	Cancel(ctx context.Context, subject types.Subject) error

	// LookupPhase returns the subject's active phase. A subject the billing
	// service has never seen fails with not_found_subject.
	LookupPhase(ctx context.Context, subject types.Subject) (*types.Phase, error)

	// PullLatest returns the latest pushed pricing model.
	PullLatest(ctx context.Context) (*types.Model, error)
}
