package billing

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"notemeter/internal/types"
)

// DefaultPlanOrder is the display order of plan families on the pricing page.
var DefaultPlanOrder = []string{"plan:free@", "plan:basic@", "plan:pro@", "plan:paygo@"}

// PlanView is the display summary of one plan.
type PlanView struct {
	Name        types.PlanName `json:"name"`
	Title       string         `json:"title"`
	Headline    string         `json:"headline"`
	Subheadline string         `json:"subheadline"`
	Bullets     []string       `json:"bullets"`
	Current     bool           `json:"current"`
}

var hundred = decimal.NewFromInt(100)

// ResolvePricingView summarizes every sellable plan in model, in display
// order. Plans without tiers for both note features are skipped. phase may
// be nil for anonymous visitors.
func ResolvePricingView(model *types.Model, phase *types.Phase, order []string) []PlanView {
	if model == nil {
		return nil
	}

	names := make([]types.PlanName, 0, len(model.Plans))
	for name := range model.Plans {
		names = append(names, name)
	}

	views := make([]PlanView, 0, len(names))
	for _, name := range SortPlanNames(names, order) {
		plan := model.Plans[name]
		totals := plan.Features[types.FeatureNotesTotal].Tiers
		edits := plan.Features[types.FeatureNotesEdit].Tiers
		if len(totals) == 0 || len(edits) == 0 {
			continue
		}

		views = append(views, PlanView{
			Name:        name,
			Title:       plan.Title,
			Headline:    Headline(totals),
			Subheadline: Subheadline(totals),
			Bullets:     Bullets(totals, edits),
			Current:     phase.HasPlan(name),
		})
	}
	return views
}

// SortPlanNames orders names by the first prefix in order each matches.
// Names matching no prefix go last. Ties keep lexical order.
func SortPlanNames(names []types.PlanName, order []string) []types.PlanName {
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	slices.SortStableFunc(sorted, func(a, b types.PlanName) int {
		return planRank(a, order) - planRank(b, order)
	})
	return sorted
}

func planRank(name types.PlanName, order []string) int {
	for i, prefix := range order {
		if name.HasPrefix(prefix) {
			return i
		}
	}
	return len(order)
}

// Headline is the price shown in large type for the primary feature's tiers.
func Headline(tiers []types.Tier) string {
	if len(tiers) == 0 {
		return ""
	}
	top, prior := topTiers(tiers)

	switch {
	case top.Free():
		return "Free"
	case top.Base == 0 && prior != nil && prior.Base != 0:
		return FormatUSD(cents(prior.Base))
	case top.Base == 0:
		return FormatUSD(decimal.NewFromFloat(top.Price).Div(hundred))
	default:
		return FormatUSD(cents(top.Base))
	}
}

// Subheadline describes the usage envelope behind the headline price.
func Subheadline(tiers []types.Tier) string {
	if len(tiers) == 0 {
		return ""
	}
	top, prior := topTiers(tiers)

	if prior == nil {
		switch {
		case !top.Unlimited():
			return fmt.Sprintf("Up to %d notes", top.Upto)
		case top.Price != 0 && top.Base == 0:
			return "Per note"
		default:
			return "Unlimited notes"
		}
	}

	switch {
	case top.Base == 0 && prior.Base != 0:
		return fmt.Sprintf("Up to %d notes, then %s per note",
			prior.Upto, FormatUSD(decimal.NewFromFloat(top.Price).Div(hundred)))
	case top.Price != 0 && top.Base == 0:
		return "Per note, after free quota"
	case !top.Unlimited():
		return fmt.Sprintf("Up to %d notes, after free quota", top.Upto)
	default:
		return ""
	}
}

// Bullets lists the plan's feature lines: unlimited markers, the free edit
// allotment, then one line per further edit tier. Edit prices are quoted per
// 100 edits as stored, without cent conversion.
func Bullets(totals, edits []types.Tier) []string {
	if len(totals) == 0 || len(edits) == 0 {
		return nil
	}
	var bullets []string

	if totals[len(totals)-1].Unlimited() {
		bullets = append(bullets, "Unlimited notes!")
	}
	if edits[len(edits)-1].Unlimited() {
		bullets = append(bullets, "Unlimited edits!")
	}
	if first := edits[0]; !first.Unlimited() {
		bullets = append(bullets, fmt.Sprintf("%d edits free", first.Upto))
	}

	for _, tier := range edits[1:] {
		var b strings.Builder
		if tier.Unlimited() {
			b.WriteString("Beyond that: ")
		} else {
			fmt.Fprintf(&b, "Up to %d edits: ", tier.Upto)
		}
		if tier.Price != 0 {
			fmt.Fprintf(&b, "%s per 100", FormatUSD(decimal.NewFromFloat(tier.Price)))
		} else {
			b.WriteString("Free!")
		}
		bullets = append(bullets, b.String())
	}
	return bullets
}

// FormatUSD renders amount as US dollars with between 2 and 12 fraction
// digits and comma-grouped thousands, e.g. "$1,234.50" or "$0.005".
func FormatUSD(amount decimal.Decimal) string {
	sign := ""
	if amount.IsNegative() {
		sign = "-"
		amount = amount.Neg()
	}

	whole, frac, _ := strings.Cut(amount.Round(12).String(), ".")
	for len(frac) < 2 {
		frac += "0"
	}
	return sign + "$" + groupThousands(whole) + "." + frac
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

func cents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

// topTiers returns the last tier and, when present, the one before it.
func topTiers(tiers []types.Tier) (types.Tier, *types.Tier) {
	top := tiers[len(tiers)-1]
	if len(tiers) < 2 {
		return top, nil
	}
	prior := tiers[len(tiers)-2]
	return top, &prior
}
