package matching

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sportsexchange/internal/book"
	"sportsexchange/internal/db"
	"sportsexchange/internal/exposure"
	"sportsexchange/internal/ledger"
	"sportsexchange/internal/model"
)

// Result is the outcome of running an incoming order through the book.
type Result struct {
	Trades         []model.Trade
	MatchedStake   decimal.Decimal
	RemainingStake decimal.Decimal

	// Fills records, per resting order matched, the maker's user and the
	// exposure released from their wallet. The caller uses this to notify
	// makers of their own balance changes — Execute itself never publishes,
	// since it runs inside the caller's still-open transaction.
	Fills []Fill
}

// Fill is one resting order's exposure release from a single match.
type Fill struct {
	UserID   string
	OrderID  string
	Released decimal.Decimal
}

// Execute walks b for counter-side orders eligible to trade against
// incoming, prints a trade at each resting order's price, persists the
// trade and the resting order's updated fill state, and releases the
// resting side's exposure for the matched portion. incoming itself is not
// written here: the caller inserts it before Execute runs (trade rows
// reference it) and records its fill state after Execute returns.
//
// Mirrors the teacher's processOrder fill loop: one trade row plus one
// maker-order update per match, all within the caller's transaction.
func Execute(tx *sql.Tx, b *book.Book, incoming *model.Order) (*Result, error) {
	matches := b.FindMatches(incoming.Side, incoming.Price, incoming.RemainingStake, incoming.UserID)

	res := &Result{MatchedStake: decimal.Zero}
	matched := decimal.Zero

	for _, m := range matches {
		entry := m.Entry
		fillStake := m.FillStake
		fillPrice := m.FillPrice

		trade := model.Trade{
			ID:          uuid.NewString(),
			MarketID:    incoming.MarketID,
			SelectionID: incoming.SelectionID,
			Price:       fillPrice,
			Stake:       fillStake,
		}
		if incoming.Side == model.SideBack {
			trade.BackOrderID = incoming.ID
			trade.LayOrderID = entry.OrderID
			trade.LayExposureReleased = true // resting side releases at match time
		} else {
			trade.BackOrderID = entry.OrderID
			trade.LayOrderID = incoming.ID
			trade.BackExposureReleased = true
		}
		if err := db.InsertTrade(tx, &trade); err != nil {
			return nil, err
		}
		res.Trades = append(res.Trades, trade)

		// Release the resting order's locked exposure proportional to the
		// matched stake, at the resting order's own price.
		release := ReleaseOnMatch(entry.Side, entry.Price, fillStake)
		if _, err := ledger.AdjustExposure(tx, entry.UserID, release.Neg(), model.LedgerExposureRelease, "order fill"); err != nil {
			return nil, err
		}
		if err := exposure.Adjust(tx, entry.UserID, incoming.MarketID, release.Neg()); err != nil {
			return nil, err
		}

		newRemaining := entry.RemainingStake.Sub(fillStake)
		newLocked := entry.LockedExposure.Sub(release)
		newMatched := entry.Stake.Sub(newRemaining)
		status := model.OrderPartial
		if !newRemaining.IsPositive() {
			status = model.OrderMatched
		}
		if err := db.UpdateOrderFill(tx, entry.OrderID, newMatched, newRemaining, newLocked, status); err != nil {
			return nil, err
		}

		b.ApplyFill(entry.OrderID, fillStake)
		entry.LockedExposure = newLocked

		res.Fills = append(res.Fills, Fill{UserID: entry.UserID, OrderID: entry.OrderID, Released: release})

		matched = matched.Add(fillStake)
	}

	res.MatchedStake = matched
	res.RemainingStake = incoming.RemainingStake.Sub(matched)
	if res.RemainingStake.IsNegative() {
		res.RemainingStake = decimal.Zero
	}
	return res, nil
}
