// Package settlement resolves a CLOSED market: it sets each runner's
// outcome, walks every unsettled trade on the market translating outcome
// into balance/exposure movements, closes any orders left resting, and
// advances the market to SETTLED. The whole operation is one
// transaction per market; anomalies across trades are accumulated rather
// than aborting the batch on the first one, since a market can carry
// thousands of trades and one bad row should not block settling the rest.
package settlement

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"

	"sportsexchange/internal/db"
	"sportsexchange/internal/errs"
	"sportsexchange/internal/events"
	"sportsexchange/internal/exposure"
	"sportsexchange/internal/ledger"
	"sportsexchange/internal/matching"
	"sportsexchange/internal/model"
)

type Engine struct {
	Store   *db.Store
	Publish events.Publisher
}

func New(store *db.Store, pub events.Publisher) *Engine {
	if pub == nil {
		pub = events.Noop{}
	}
	return &Engine{Store: store, Publish: pub}
}

// RunnerOutcome names the resolution for one runner of the market being
// settled. A nil Winner means refund for that runner.
type RunnerOutcome struct {
	RunnerID string
	Winner   *bool
}

// Settle resolves marketID: the market must be CLOSED. outcomes must name
// every runner in the market. A market already SETTLED is rejected
// outright rather than silently skipped, so the caller can tell "already
// done" apart from "in progress"; trades already settled are skipped.
func (e *Engine) Settle(ctx context.Context, marketID string, outcomes []RunnerOutcome) error {
	tx, err := e.Store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	market, err := db.GetMarketForUpdate(tx, marketID)
	if err != nil {
		return err
	}
	if market == nil {
		return errs.New(errs.NotFound, "market not found")
	}
	if market.Status == model.MarketSettled {
		return errs.New(errs.InvalidState, "market already settled")
	}
	if market.Status != model.MarketClosed {
		return errs.New(errs.InvalidState, "market must be CLOSED before settlement")
	}

	winnerByRunner := make(map[string]*bool, len(outcomes))
	for _, o := range outcomes {
		if err := db.SetRunnerOutcome(tx, o.RunnerID, o.Winner); err != nil {
			return err
		}
		winnerByRunner[o.RunnerID] = o.Winner
	}

	trades, err := db.ListUnsettledTrades(tx, marketID)
	if err != nil {
		return err
	}

	var anomalies *multierror.Error
	var settledEvents []tradeSettleEvent
	for i := range trades {
		t := &trades[i]
		winner, ok := winnerByRunner[t.SelectionID]
		if !ok {
			anomalies = multierror.Append(anomalies, fmt.Errorf("trade %s: no outcome supplied for selection %s", t.ID, t.SelectionID))
			continue
		}
		evts, err := settleTrade(tx, t, winner)
		if err != nil {
			anomalies = multierror.Append(anomalies, fmt.Errorf("trade %s: %w", t.ID, err))
			continue
		}
		settledEvents = append(settledEvents, evts...)
	}

	closeEvents, err := closeRemainingOrders(tx, marketID)
	if err != nil {
		return err
	}

	if err := db.SetMarketStatus(tx, marketID, model.MarketSettled); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	// Publishing happens strictly after commit: a rolled-back settlement
	// must not have told anyone their bet settled or their balance moved.
	for _, ev := range settledEvents {
		e.Publish.PublishToUser(ev.userID, events.TypeBetSettled, ev.payload)
	}
	for _, ev := range closeEvents {
		e.publishCloseoutBalance(ctx, ev)
	}
	e.Publish.Publish(marketID, events.TypeMatchUpdate, events.MatchUpdatePayload{
		MarketID: marketID,
		Status:   model.MarketSettled,
	})
	return anomalies.ErrorOrNil()
}

// publishCloseoutBalance notifies a user whose resting order was cancelled
// as part of market close-out that their exposure dropped. It reads their
// wallet fresh since it runs after commit, outside the settlement
// transaction.
func (e *Engine) publishCloseoutBalance(ctx context.Context, ev closeoutEvent) {
	wallet, err := e.Store.GetWallet(ctx, ev.userID)
	if err != nil || wallet == nil {
		return
	}
	e.Publish.PublishToUser(ev.userID, events.TypeBalanceUpdate, events.BalanceUpdatePayload{
		UserID:           ev.userID,
		Balance:          wallet.Balance,
		Exposure:         wallet.Exposure,
		AvailableBalance: wallet.Available(),
		ChangedBy:        "market_settlement_closeout",
		Amount:           ev.released.Neg(),
	})
}

// tradeSettleEvent is a bet_settled notification for one side of a trade,
// collected during the settlement transaction and published only after it
// commits.
type tradeSettleEvent struct {
	userID  string
	payload events.BetSettledPayload
}

// settleTrade applies one row of the settlement table to t, crediting
// balances per outcome and releasing whichever side's exposure was not
// already released at match time. The committed-exposure amount for a
// side (stake for BACK, (price-1)*stake for LAY) is the same figure in
// every outcome branch; only the credit differs — a refund returns each
// side its own committed amount, a win credits the winner the full
// payout and lets the loser's committed funds simply stay released but
// uncredited.
func settleTrade(tx *sql.Tx, t *model.Trade, winner *bool) ([]tradeSettleEvent, error) {
	backUserID, err := db.GetOrderOwner(tx, t.BackOrderID)
	if err != nil {
		return nil, err
	}
	layUserID, err := db.GetOrderOwner(tx, t.LayOrderID)
	if err != nil {
		return nil, err
	}

	backCommitted := t.Stake
	layCommitted := matching.RequiredExposure(model.SideLay, t.Price, t.Stake)

	var backCredit, layCredit decimal.Decimal
	var backOutcome, layOutcome events.SettleOutcome
	switch {
	case winner == nil:
		backCredit = backCommitted
		layCredit = layCommitted
		backOutcome, layOutcome = events.OutcomeRefunded, events.OutcomeRefunded
	case *winner:
		backCredit = t.Price.Mul(t.Stake)
		layCredit = decimal.Zero
		backOutcome, layOutcome = events.OutcomeWon, events.OutcomeLost
	default:
		backCredit = decimal.Zero
		layCredit = t.Stake
		backOutcome, layOutcome = events.OutcomeLost, events.OutcomeWon
	}

	if backCredit.IsPositive() {
		if _, err := ledger.AdjustBalance(tx, backUserID, backCredit, model.LedgerOrderSettle, "trade settlement"); err != nil {
			return nil, err
		}
	}
	if layCredit.IsPositive() {
		if _, err := ledger.AdjustBalance(tx, layUserID, layCredit, model.LedgerOrderSettle, "trade settlement"); err != nil {
			return nil, err
		}
	}

	backReleased := t.BackExposureReleased
	if !backReleased {
		if _, err := ledger.AdjustExposure(tx, backUserID, backCommitted.Neg(), model.LedgerExposureRelease, "trade settlement"); err != nil {
			return nil, err
		}
		if err := exposure.Adjust(tx, backUserID, t.MarketID, backCommitted.Neg()); err != nil {
			return nil, err
		}
		backReleased = true
	}

	layReleased := t.LayExposureReleased
	if !layReleased {
		if _, err := ledger.AdjustExposure(tx, layUserID, layCommitted.Neg(), model.LedgerExposureRelease, "trade settlement"); err != nil {
			return nil, err
		}
		if err := exposure.Adjust(tx, layUserID, t.MarketID, layCommitted.Neg()); err != nil {
			return nil, err
		}
		layReleased = true
	}

	if err := db.MarkTradeSettled(tx, t.ID, backReleased, layReleased); err != nil {
		return nil, err
	}

	return []tradeSettleEvent{
		{userID: backUserID, payload: events.BetSettledPayload{
			TradeID: t.ID, OrderID: t.BackOrderID, UserID: backUserID, MarketID: t.MarketID,
			Side: model.SideBack, Outcome: backOutcome, Credited: backCredit,
		}},
		{userID: layUserID, payload: events.BetSettledPayload{
			TradeID: t.ID, OrderID: t.LayOrderID, UserID: layUserID, MarketID: t.MarketID,
			Side: model.SideLay, Outcome: layOutcome, Credited: layCredit,
		}},
	}, nil
}

// closeoutEvent is a balance_update notification for a user whose resting
// order was cancelled during market close-out, collected during the
// transaction and published only after it commits.
type closeoutEvent struct {
	userID   string
	released decimal.Decimal
}

// closeRemainingOrders cancels every order still OPEN/PARTIAL on the
// market and releases its remaining-stake exposure, mirroring the §4.2
// cancellation formula.
func closeRemainingOrders(tx *sql.Tx, marketID string) ([]closeoutEvent, error) {
	rows, err := tx.Query(
		`SELECT id, user_id, side, price, remaining_stake FROM orders
		 WHERE market_id=$1 AND status IN ('OPEN','PARTIAL') FOR UPDATE`, marketID)
	if err != nil {
		return nil, err
	}
	type pending struct {
		id, userID string
		side       model.Side
		price      decimal.Decimal
		remaining  decimal.Decimal
	}
	var list []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.userID, &p.side, &p.price, &p.remaining); err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, p)
	}
	rows.Close()

	var closed []closeoutEvent
	for _, p := range list {
		releaseable := matching.RequiredExposure(p.side, p.price, p.remaining)
		if err := db.CancelOrderRow(tx, p.id); err != nil {
			return nil, err
		}
		if _, err := ledger.AdjustExposure(tx, p.userID, releaseable.Neg(), model.LedgerExposureRelease, "market settlement close-out"); err != nil {
			return nil, err
		}
		if err := exposure.Adjust(tx, p.userID, marketID, releaseable.Neg()); err != nil {
			return nil, err
		}
		closed = append(closed, closeoutEvent{userID: p.userID, released: releaseable})
	}
	return closed, nil
}
