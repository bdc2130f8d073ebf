package external

import (
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"notemeter/internal/types"
)

// Unlimited is the limit reported for a feature whose top tier has no ceiling.
const Unlimited int64 = math.MaxInt64

// MemoryEntitlementClient is an in-process EntitlementClient used for local
// development and tests. Limits are derived from the model the same way the
// billing service derives them: the highest tier ceiling across the
// subject's plans, unlimited when a top tier has none.
type MemoryEntitlementClient struct {
	mu    sync.Mutex
	model types.Model
	orgs  map[types.Subject]*memoryOrg
	now   func() time.Time
}

type memoryOrg struct {
	effective time.Time
	plans     []types.PlanName
	usage     map[types.FeatureName]int64
}

// NewMemoryEntitlementClient creates a client serving model. A nil model
// selects DefaultModel.
func NewMemoryEntitlementClient(model *types.Model) *MemoryEntitlementClient {
	m := DefaultModel()
	if model != nil {
		m = cloneModel(*model)
	}
	return &MemoryEntitlementClient{
		model: m,
		orgs:  make(map[types.Subject]*memoryOrg),
		now:   time.Now,
	}
}

// DefaultModel is the catalog served in local mode.
func DefaultModel() types.Model {
	return types.Model{Plans: map[types.PlanName]types.Plan{
		"plan:free@1": {
			Title: "Free",
			Features: map[types.FeatureName]types.FeatureDef{
				types.FeatureNotesTotal: {Title: "Notes", Tiers: []types.Tier{{Upto: 10}}},
				types.FeatureNotesEdit:  {Title: "Edits", Tiers: []types.Tier{{Upto: 100}}},
			},
		},
		"plan:basic@1": {
			Title: "Basic",
			Features: map[types.FeatureName]types.FeatureDef{
				types.FeatureNotesTotal: {Title: "Notes", Tiers: []types.Tier{{Upto: 100, Base: 500}}},
				types.FeatureNotesEdit:  {Title: "Edits", Tiers: []types.Tier{{Upto: 1000}, {Upto: 10000, Price: 0.5}}},
			},
		},
		"plan:pro@1": {
			Title: "Pro",
			Features: map[types.FeatureName]types.FeatureDef{
				types.FeatureNotesTotal: {Title: "Notes", Tiers: []types.Tier{{Base: 1500}}},
				types.FeatureNotesEdit:  {Title: "Edits", Tiers: []types.Tier{{Upto: 10000}, {}}},
			},
		},
	}}
}

func (c *MemoryEntitlementClient) CanUse(_ context.Context, subject types.Subject, feature types.FeatureName) (*types.Usage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	org, err := c.org(subject)
	if err != nil {
		return nil, err
	}
	return &types.Usage{
		Feature: feature,
		Used:    org.usage[feature],
		Limit:   c.limit(org, feature),
	}, nil
}

func (c *MemoryEntitlementClient) Report(_ context.Context, report types.UsageReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	org, err := c.org(report.Subject)
	if err != nil {
		return err
	}
	if report.Clobber {
		org.usage[report.Feature] = report.N
	} else {
		org.usage[report.Feature] += report.N
	}
	return nil
}

func (c *MemoryEntitlementClient) Subscribe(_ context.Context, subject types.Subject, plans ...types.PlanName) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range plans {
		if _, ok := c.model.Plans[p]; !ok {
			return types.NewAppErrorWithDetails(types.ErrCodeValidationUnknownPlan, "plan not found", nil,
				map[string]any{"plan": string(p)})
		}
	}

	org, ok := c.orgs[subject]
	if !ok {
		org = &memoryOrg{usage: make(map[types.FeatureName]int64)}
		c.orgs[subject] = org
	}
	org.plans = slices.Clone(plans)
	org.effective = c.now().UTC()
	return nil
}

func (c *MemoryEntitlementClient) Cancel(_ context.Context, subject types.Subject) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	org, err := c.org(subject)
	if err != nil {
		return err
	}
	org.plans = nil
	org.effective = c.now().UTC()
	return nil
}

func (c *MemoryEntitlementClient) LookupPhase(_ context.Context, subject types.Subject) (*types.Phase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	org, err := c.org(subject)
	if err != nil {
		return nil, err
	}

	var features []string
	for _, p := range org.plans {
		for f := range c.model.Plans[p].Features {
			features = append(features, string(f)+"@"+string(p))
		}
	}
	slices.Sort(features)

	return &types.Phase{
		Effective: org.effective,
		Features:  features,
		Plans:     slices.Clone(org.plans),
	}, nil
}

func (c *MemoryEntitlementClient) PullLatest(context.Context) (*types.Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := cloneModel(c.model)
	return &m, nil
}

// Used returns the recorded counter for a subject's feature.
func (c *MemoryEntitlementClient) Used(subject types.Subject, feature types.FeatureName) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if org, ok := c.orgs[subject]; ok {
		return org.usage[feature]
	}
	return 0
}

func (c *MemoryEntitlementClient) org(subject types.Subject) (*memoryOrg, error) {
	org, ok := c.orgs[subject]
	if !ok {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundSubject, "billing subject not found", nil,
			map[string]any{"remote_code": tierCodeOrgNotFound})
	}
	return org, nil
}

func (c *MemoryEntitlementClient) limit(org *memoryOrg, feature types.FeatureName) int64 {
	var limit int64
	for _, p := range org.plans {
		def, ok := c.model.Plans[p].Features[feature]
		if !ok || len(def.Tiers) == 0 {
			continue
		}
		top := def.Tiers[len(def.Tiers)-1]
		if top.Unlimited() {
			return Unlimited
		}
		limit = max(limit, top.Upto)
	}
	return limit
}

func cloneModel(m types.Model) types.Model {
	out := types.Model{Plans: make(map[types.PlanName]types.Plan, len(m.Plans))}
	for name, plan := range m.Plans {
		features := make(map[types.FeatureName]types.FeatureDef, len(plan.Features))
		for f, def := range plan.Features {
			def.Tiers = slices.Clone(def.Tiers)
			features[f] = def
		}
		plan.Features = features
		out.Plans[name] = plan
	}
	return out
}

var _ EntitlementClient = (*MemoryEntitlementClient)(nil)
