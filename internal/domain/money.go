package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// LineCents prices qty units at unitCents, rounded half away from zero.
func LineCents(unitCents int64, qty decimal.Decimal) int64 {
	return decimal.NewFromInt(unitCents).Mul(qty).Round(0).IntPart()
}

// TaxSplit returns the tax portion and the payable total for a discounted base.
// Inclusive prices already contain the tax, so the total equals the base.
func TaxSplit(baseCents int64, ratePercent float64, inclusive bool) (taxCents int64, totalCents int64) {
	if baseCents <= 0 || ratePercent <= 0 {
		return 0, baseCents
	}
	base := decimal.NewFromInt(baseCents)
	rate := decimal.NewFromFloat(ratePercent)
	if inclusive {
		net := base.Mul(hundred).Div(hundred.Add(rate)).Round(0)
		return baseCents - net.IntPart(), baseCents
	}
	taxCents = base.Mul(rate).Div(hundred).Round(0).IntPart()
	return taxCents, baseCents + taxCents
}

// ScaleCents returns amount * num / den rounded, for prorating discounts.
func ScaleCents(amount int64, num int64, den int64) int64 {
	if den == 0 {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(decimal.NewFromInt(num)).Div(decimal.NewFromInt(den)).Round(0).IntPart()
}
