package ledger

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// minUpgradeCharge floors prorated upgrades at one cent.
var minUpgradeCharge = decimal.New(1, -2)

// Prorate computes the cost of switching from the basic to the pro price for
// the remainder of the current period:
//
//	dailyDelta = (proPrice - basicPrice) / ceil(total days)
//	amount     = round2(dailyDelta * ceil(remaining days)), floored at $0.01
//
// Both day counts use calendar-day ceilings. Near period boundaries this can
// price a partial day as a whole one; that rounding is intentional and must
// not be normalized away.
func Prorate(basicPrice, proPrice decimal.Decimal, periodStart, periodEnd, now time.Time) decimal.Decimal {
	totalDays := ceilDays(periodEnd.Sub(periodStart))
	if totalDays < 1 {
		totalDays = 1
	}
	remainingDays := ceilDays(periodEnd.Sub(now))
	if remainingDays < 0 {
		remainingDays = 0
	}

	dailyDelta := proPrice.Sub(basicPrice).Div(decimal.NewFromInt(totalDays))
	amount := dailyDelta.Mul(decimal.NewFromInt(remainingDays)).Round(2)
	if amount.LessThan(minUpgradeCharge) {
		return minUpgradeCharge
	}
	return amount
}

func ceilDays(d time.Duration) int64 {
	return int64(math.Ceil(d.Hours() / 24))
}
