package billing

import (
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/shoplink/cryptobill/pkg/invoice"
)

// Plan is one purchasable subscription tier.
type Plan struct {
	Tier        string
	Name        string
	Description string
	PriceUSD    decimal.Decimal
}

// PlanSource holds the tier catalog and prices invoices from it. It
// implements invoice.TierPricer.
type PlanSource struct {
	plans map[string]Plan
}

// NewPlanSource builds a PlanSource from explicit plans. Panics when no
// plans are given: a billing service without a catalog cannot start.
func NewPlanSource(plans ...Plan) *PlanSource {
	if len(plans) == 0 {
		panic("billing: at least one plan is required")
	}
	byTier := make(map[string]Plan, len(plans))
	for _, p := range plans {
		byTier[p.Tier] = p
	}
	return &PlanSource{plans: byTier}
}

// DefaultPlans is the built-in catalog used when no plans file is configured.
func DefaultPlans() []Plan {
	return []Plan{
		{Tier: "basic", Name: "Basic", Description: "Standard shop listing", PriceUSD: decimal.NewFromInt(25)},
		{Tier: "pro", Name: "Pro", Description: "Priority placement and pro features", PriceUSD: decimal.NewFromInt(50)},
	}
}

// Price implements invoice.TierPricer.
func (s *PlanSource) Price(tier string) (decimal.Decimal, error) {
	plan, ok := s.plans[tier]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", invoice.ErrInvalidTier, tier)
	}
	return plan.PriceUSD, nil
}

// All returns the catalog sorted by price.
func (s *PlanSource) All() []Plan {
	out := make([]Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceUSD.LessThan(out[j].PriceUSD) })
	return out
}

// planFile is the YAML shape of a plan catalog. Prices are strings so the
// file carries exact decimal values.
type planFile struct {
	Plans []struct {
		Tier        string `yaml:"tier"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		PriceUSD    string `yaml:"price_usd"`
	} `yaml:"plans"`
}

// LoadPlansFile reads a YAML plan catalog:
//
//	plans:
//	  - tier: basic
//	    name: Basic
//	    price_usd: "25"
//	  - tier: pro
//	    name: Pro
//	    price_usd: "50"
func LoadPlansFile(path string) ([]Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}

	var file planFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse plans file: %w", err)
	}
	if len(file.Plans) == 0 {
		return nil, fmt.Errorf("plans file %q declares no plans", path)
	}

	plans := make([]Plan, 0, len(file.Plans))
	for _, p := range file.Plans {
		price, err := decimal.NewFromString(p.PriceUSD)
		if err != nil {
			return nil, fmt.Errorf("plan %q has invalid price %q: %w", p.Tier, p.PriceUSD, err)
		}
		if p.Tier == "" || !price.IsPositive() {
			return nil, fmt.Errorf("plan %q needs a tier and a positive price", p.Tier)
		}
		plans = append(plans, Plan{
			Tier:        p.Tier,
			Name:        p.Name,
			Description: p.Description,
			PriceUSD:    price,
		})
	}
	return plans, nil
}
