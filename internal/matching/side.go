// Package matching is the price-time priority matching engine: given a
// resting book and an incoming order, it walks eligible resting orders in
// price-time order, prints trades at the resting order's price, and
// reports the leftover unmatched stake for the caller to persist/rest.
package matching

import (
	"github.com/shopspring/decimal"

	"sportsexchange/internal/model"
)

var one = decimal.NewFromInt(1)

// RequiredExposure returns the amount a side must lock to risk stake at
// price. BACK risks only the stake; LAY risks (price-1)*stake, since a LAY
// bet pays out stake*(price-1) to the backer if the selection wins.
func RequiredExposure(side model.Side, price, stake decimal.Decimal) decimal.Decimal {
	switch side {
	case model.SideBack:
		return stake
	case model.SideLay:
		return price.Sub(one).Mul(stake)
	default:
		return decimal.Zero
	}
}

// ReleaseOnMatch returns the exposure released when matchedStake of an
// order resting at price is filled. It is RequiredExposure evaluated at
// the matched portion, since exposure is locked proportionally to stake.
func ReleaseOnMatch(side model.Side, price, matchedStake decimal.Decimal) decimal.Decimal {
	return RequiredExposure(side, price, matchedStake)
}
