package loyalty

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Tier grants Percent off the subtotal once lifetime net spend reaches MinSpend.
type Tier struct {
	Name     string
	MinSpend decimal.Decimal
	Percent  decimal.Decimal
}

// ParseTiers reads "name:min_spend:percent" entries and sorts them by MinSpend.
func ParseTiers(raw []string) ([]Tier, error) {
	tiers := make([]Tier, 0, len(raw))
	seen := map[string]bool{}
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("loyalty tier %q must be name:min_spend:percent", entry)
		}
		name := strings.ToLower(strings.TrimSpace(parts[0]))
		if name == "" || seen[name] {
			return nil, fmt.Errorf("loyalty tier %q has an empty or duplicate name", entry)
		}
		minSpend, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil || minSpend.IsNegative() {
			return nil, fmt.Errorf("loyalty tier %q has an invalid min spend", entry)
		}
		percent, err := decimal.NewFromString(strings.TrimSpace(parts[2]))
		if err != nil || percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("loyalty tier %q has an invalid percent", entry)
		}
		seen[name] = true
		tiers = append(tiers, Tier{Name: name, MinSpend: minSpend, Percent: percent})
	}
	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].MinSpend.LessThan(tiers[j].MinSpend)
	})
	return tiers, nil
}

// TierFor returns the highest tier whose threshold spend reaches. ok is false when
// no tier applies.
func TierFor(tiers []Tier, spend decimal.Decimal) (Tier, bool) {
	var (
		best  Tier
		found bool
	)
	for _, tier := range tiers {
		if spend.GreaterThanOrEqual(tier.MinSpend) {
			best, found = tier, true
		}
	}
	return best, found
}
