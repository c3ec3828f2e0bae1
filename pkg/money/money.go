// Package money holds the rounding policy shared by pricing, checkout and settlement.
package money

import "github.com/shopspring/decimal"

// Scale is the number of fractional digits persisted for every amount.
const Scale = 2

var hundred = decimal.NewFromInt(100)

// MaxAmount is the largest value a numeric(12,2) amount column holds.
var MaxAmount = decimal.New(999999999999, -Scale)

// Round applies round-half-to-even at two decimal places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(Scale)
}

// Percent returns Round(base * pct / 100).
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return Round(base.Mul(pct).Div(hundred))
}

// Markup returns Round(base * (1 + pct/100)).
func Markup(base, pct decimal.Decimal) decimal.Decimal {
	return Round(base.Add(base.Mul(pct).Div(hundred)))
}

// Sum adds the supplied amounts without intermediate rounding.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, amount := range amounts {
		total = total.Add(amount)
	}
	return total
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
