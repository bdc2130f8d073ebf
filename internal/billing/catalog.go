package billing

import (
	"context"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"notemeter/internal/external"
	"notemeter/internal/types"
)

// PricingPage is everything the pricing page needs.
type PricingPage struct {
	Plans        []PlanView                   `json:"plans"`
	Features     map[types.FeatureName]string `json:"features"`
	CurrentPlans []types.PlanName             `json:"current_plans,omitempty"`
}

// PricingService loads the catalog and the visitor's phase and renders them.
type PricingService struct {
	client external.EntitlementClient
	order  []string
	logger *slog.Logger
}

// NewPricingService creates a PricingService. A nil order selects
// DefaultPlanOrder.
func NewPricingService(client external.EntitlementClient, order []string, logger *slog.Logger) *PricingService {
	if len(order) == 0 {
		order = DefaultPlanOrder
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PricingService{client: client, order: order, logger: logger}
}

// View fetches the latest catalog and, for a signed-in subject, its phase
// concurrently. A failed phase lookup only loses the current-plan marker.
func (s *PricingService) View(ctx context.Context, subject *types.Subject) (*PricingPage, error) {
	var (
		model *types.Model
		phase *types.Phase
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := s.client.PullLatest(gctx)
		if err != nil {
			return err
		}
		model = m
		return nil
	})
	if subject != nil {
		g.Go(func() error {
			p, err := s.client.LookupPhase(gctx, *subject)
			if err != nil {
				s.logger.DebugContext(gctx, "phase lookup failed for pricing page",
					"subject", string(*subject),
					"error", err,
				)
				return nil
			}
			phase = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamBilling, "failed to load pricing catalog", err)
	}

	page := &PricingPage{
		Plans:    ResolvePricingView(model, phase, s.order),
		Features: Features(model),
	}
	if phase != nil {
		page.CurrentPlans = slices.Clone(phase.Plans)
	}
	return page, nil
}

// ChangePlan subscribes subject to plan, which must exist in the latest
// catalog.
func (s *PricingService) ChangePlan(ctx context.Context, subject types.Subject, plan types.PlanName) error {
	model, err := s.client.PullLatest(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamBilling, "failed to load pricing catalog", err)
	}
	if _, ok := model.Plans[plan]; !ok {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationUnknownPlan, "unknown plan", nil,
			map[string]any{"plan": string(plan)})
	}

	if err := s.client.Subscribe(ctx, subject, plan); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamBilling, "failed to change plan", err)
	}

	s.logger.InfoContext(ctx, "plan changed",
		"subject", string(subject),
		"plan", string(plan),
	)
	return nil
}

// Features maps every feature in model to its display title, falling back to
// the feature key. The first plan in lexical order carrying a feature decides.
func Features(model *types.Model) map[types.FeatureName]string {
	out := make(map[types.FeatureName]string)
	if model == nil {
		return out
	}

	names := make([]types.PlanName, 0, len(model.Plans))
	for name := range model.Plans {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		for feature, def := range model.Plans[name].Features {
			if out[feature] != "" {
				continue
			}
			if def.Title != "" {
				out[feature] = def.Title
			} else {
				out[feature] = string(feature)
			}
		}
	}
	return out
}
