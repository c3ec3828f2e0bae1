package pricing

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/money"
)

// Quote is the derived price pair for one entry price.
type Quote struct {
	EntryPrice decimal.Decimal
	Retail     decimal.Decimal
	Wholesale  decimal.Decimal
	RuleID     *uint64
}

// Calculator derives retail and wholesale prices from entry prices. It is a pure
// function of its rule snapshot and safe for concurrent use.
type Calculator struct {
	rules []models.PricingRule
}

// NewCalculator snapshots the active rules, ordered by priority (desc) then id (asc).
func NewCalculator(rules []models.PricingRule) *Calculator {
	active := make([]models.PricingRule, 0, len(rules))
	for _, rule := range rules {
		if rule.IsActive {
			active = append(active, rule)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority > active[j].Priority
		}
		return active[i].ID < active[j].ID
	})
	return &Calculator{rules: active}
}

// Rule returns the rule that governs entry, if any.
func (c *Calculator) Rule(entry decimal.Decimal) (models.PricingRule, bool) {
	for _, rule := range c.rules {
		if rule.Matches(entry) {
			return rule, true
		}
	}
	return models.PricingRule{}, false
}

// Calculate applies the matching rule's markups. Without a matching rule both prices
// equal the rounded entry price.
func (c *Calculator) Calculate(entry decimal.Decimal) Quote {
	quote := Quote{
		EntryPrice: money.Round(entry),
		Retail:     money.Round(entry),
		Wholesale:  money.Round(entry),
	}
	rule, ok := c.Rule(entry)
	if !ok {
		return quote
	}
	id := rule.ID
	quote.RuleID = &id
	quote.Retail = money.Markup(entry, rule.RetailPercentage)
	quote.Wholesale = money.Markup(entry, rule.WholesalePercentage)
	return quote
}

// Retail is shorthand for Calculate(entry).Retail.
func (c *Calculator) Retail(entry decimal.Decimal) decimal.Decimal {
	return c.Calculate(entry).Retail
}
