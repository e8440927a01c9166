package billing

import (
	"strings"

	"marefa/pkg/domain"
)

// Plans maps the purchasable plans to provider price ids.
type Plans struct {
	Basic    string
	Research string
	Teams    string
}

// Plan is one purchasable option as shown to clients.
type Plan struct {
	Name    string                  `json:"name"`
	Tier    domain.SubscriptionTier `json:"tier"`
	PriceID string                  `json:"priceId"`
}

// List returns the configured plans in ascending order.
func (p Plans) List() []Plan {
	return []Plan{
		{Name: "basic", Tier: domain.TierBasic, PriceID: p.Basic},
		{Name: "research", Tier: domain.TierResearch, PriceID: p.Research},
		{Name: "teams", Tier: domain.TierTeams, PriceID: p.Teams},
	}
}

// Lookup resolves a plan name to its price id and the tier it grants.
func (p Plans) Lookup(name string) (Plan, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, plan := range p.List() {
		if plan.Name == name && plan.PriceID != "" {
			return plan, true
		}
	}
	return Plan{}, false
}

// TierForPrice reverses the price map.
func (p Plans) TierForPrice(priceID string) (domain.SubscriptionTier, bool) {
	if priceID == "" {
		return "", false
	}
	for _, plan := range p.List() {
		if plan.PriceID == priceID {
			return plan.Tier, true
		}
	}
	return "", false
}

var productTiers = map[string]domain.SubscriptionTier{
	"Basic Plan":    domain.TierBasic,
	"Research Plan": domain.TierResearch,
	"Teams Plan":    domain.TierTeams,
}

// TierForProductName maps a provider product name to a tier. Unknown
// products grant basic.
func TierForProductName(name string) domain.SubscriptionTier {
	if tier, ok := productTiers[strings.TrimSpace(name)]; ok {
		return tier
	}
	return domain.TierBasic
}
