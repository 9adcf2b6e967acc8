// Package lifecycle is the order placement and cancellation controller:
// it validates a request, reserves exposure, invokes the matching engine,
// and persists the result — all inside one database transaction per
// operation. There is no in-process scheduler here; concurrent callers
// are serialized by row locks taken inside the transaction, not by an
// actor or goroutine per market.
package lifecycle

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sportsexchange/internal/book"
	"sportsexchange/internal/db"
	"sportsexchange/internal/errs"
	"sportsexchange/internal/events"
	"sportsexchange/internal/exposure"
	"sportsexchange/internal/ledger"
	"sportsexchange/internal/matching"
	"sportsexchange/internal/model"
)

type Controller struct {
	Store   *db.Store
	Publish events.Publisher
}

// New builds a Controller. pub receives balance_update/bet_placed events
// after every successful commit; pass events.Noop{} (or nil) where no
// transport is wired, such as in tests.
func New(store *db.Store, pub events.Publisher) *Controller {
	if pub == nil {
		pub = events.Noop{}
	}
	return &Controller{Store: store, Publish: pub}
}

// PlaceOrder validates req, locks the required exposure against userID's
// wallet, and runs the matching engine against resting opposite-side
// orders on (marketID, selectionID), all within one transaction.
func (c *Controller) PlaceOrder(ctx context.Context, userID string, req model.PlaceOrderReq) (*model.PlaceOrderResult, error) {
	if req.Side != model.SideBack && req.Side != model.SideLay {
		return nil, errs.New(errs.InvalidInput, "side must be BACK or LAY")
	}
	if req.Price.LessThanOrEqual(decimal.NewFromInt(1)) {
		return nil, errs.New(errs.InvalidInput, "price must be > 1.00")
	}
	if !req.Stake.IsPositive() {
		return nil, errs.New(errs.InvalidInput, "stake must be > 0")
	}

	tx, err := c.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	market, err := db.GetMarketForUpdate(tx, req.MarketID)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, errs.New(errs.NotFound, "market not found")
	}
	if market.Status != model.MarketOpen {
		return nil, errs.New(errs.InvalidState, "market is not open")
	}

	runner, err := c.Store.GetRunner(ctx, req.SelectionID)
	if err != nil {
		return nil, err
	}
	if runner == nil || runner.MarketID != req.MarketID {
		return nil, errs.New(errs.InvalidInput, "selection does not belong to market")
	}

	required := matching.RequiredExposure(req.Side, req.Price, req.Stake)

	wallet, err := ledger.GetForUpdate(tx, userID)
	if err != nil {
		return nil, err
	}
	if wallet.Available().LessThan(required) {
		return nil, errs.New(errs.InsufficientFunds, "insufficient available balance")
	}

	if _, err := ledger.AdjustExposure(tx, userID, required, model.LedgerExposureLock, "order placement"); err != nil {
		return nil, err
	}
	if err := exposure.Adjust(tx, userID, req.MarketID, required); err != nil {
		return nil, err
	}
	wallet, err = ledger.Get(tx, userID)
	if err != nil {
		return nil, err
	}

	order := &model.Order{
		ID:             uuid.NewString(),
		UserID:         userID,
		MarketID:       req.MarketID,
		SelectionID:    req.SelectionID,
		Side:           req.Side,
		Price:          req.Price.Round(2),
		Stake:          req.Stake.Round(2),
		MatchedStake:   decimal.Zero,
		RemainingStake: req.Stake.Round(2),
		LockedExposure: required.Round(2),
		Status:         model.OrderOpen,
	}
	if err := db.InsertOrder(tx, order); err != nil {
		return nil, err
	}

	opposite := model.SideLay
	if req.Side == model.SideLay {
		opposite = model.SideBack
	}
	candidates, err := db.LockOpenOrdersForSide(tx, req.MarketID, req.SelectionID, opposite)
	if err != nil {
		return nil, err
	}
	b := book.New()
	for i := range candidates {
		o := &candidates[i]
		b.Add(&book.Entry{
			OrderID:        o.ID,
			UserID:         o.UserID,
			Side:           o.Side,
			Price:          o.Price,
			Stake:          o.Stake,
			RemainingStake: o.RemainingStake,
			LockedExposure: o.LockedExposure,
		})
	}

	result, err := matching.Execute(tx, b, order)
	if err != nil {
		return nil, err
	}

	status := model.OrderOpen
	switch {
	case !result.RemainingStake.IsPositive():
		status = model.OrderMatched
	case result.MatchedStake.IsPositive():
		status = model.OrderPartial
	}
	if err := db.UpdateOrderFill(tx, order.ID, result.MatchedStake, result.RemainingStake, order.LockedExposure, status); err != nil {
		return nil, err
	}
	order.MatchedStake = result.MatchedStake
	order.RemainingStake = result.RemainingStake
	order.Status = status

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	c.Publish.PublishToUser(userID, events.TypeBalanceUpdate, events.BalanceUpdatePayload{
		UserID:           userID,
		Balance:          wallet.Balance,
		Exposure:         wallet.Exposure,
		AvailableBalance: wallet.Available(),
		ChangedBy:        "order_placement",
		Amount:           required,
	})
	c.Publish.PublishToUser(userID, events.TypeBetPlaced, events.BetPlacedPayload{
		OrderID:      order.ID,
		UserID:       userID,
		MarketID:     order.MarketID,
		SelectionID:  order.SelectionID,
		Side:         order.Side,
		Price:        order.Price,
		Stake:        order.Stake,
		MatchedStake: order.MatchedStake,
		Status:       order.Status,
	})
	for _, f := range result.Fills {
		c.publishMakerExposureRelease(ctx, f)
	}

	return &model.PlaceOrderResult{
		Order:          *order,
		Trades:         result.Trades,
		MatchedStake:   result.MatchedStake,
		RemainingStake: result.RemainingStake,
		Status:         status,
	}, nil
}

// publishMakerExposureRelease notifies a matched resting order's owner
// that a fill released some of their locked exposure. It reads their
// wallet fresh, outside any transaction, since it only runs after the
// commit that produced the fill.
func (c *Controller) publishMakerExposureRelease(ctx context.Context, f matching.Fill) {
	wallet, err := c.Store.GetWallet(ctx, f.UserID)
	if err != nil || wallet == nil {
		return
	}
	c.Publish.PublishToUser(f.UserID, events.TypeBalanceUpdate, events.BalanceUpdatePayload{
		UserID:           f.UserID,
		Balance:          wallet.Balance,
		Exposure:         wallet.Exposure,
		AvailableBalance: wallet.Available(),
		ChangedBy:        "order_fill",
		Amount:           f.Released.Neg(),
	})
}

// CancelOrder releases the still-unmatched portion of orderID's locked
// exposure and marks it CANCELLED. Only the owning user may cancel, and
// only while the order is OPEN or PARTIAL; the matched portion remains
// bound by its trades, which settle normally.
func (c *Controller) CancelOrder(ctx context.Context, userID, orderID string) (*model.CancelOrderResult, error) {
	tx, err := c.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := db.GetOrderForUpdate(tx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, errs.New(errs.NotFound, "order not found")
	}
	if order.UserID != userID {
		return nil, errs.New(errs.PermissionDenied, "not the order owner")
	}
	if order.Status != model.OrderOpen && order.Status != model.OrderPartial {
		return nil, errs.New(errs.InvalidState, "order is not cancellable")
	}

	releaseable := matching.RequiredExposure(order.Side, order.Price, order.RemainingStake)

	if err := db.CancelOrderRow(tx, orderID); err != nil {
		return nil, err
	}

	newExposure, err := ledger.AdjustExposure(tx, userID, releaseable.Neg(), model.LedgerExposureRelease, "order cancellation")
	if err != nil {
		return nil, err
	}
	if err := exposure.Adjust(tx, userID, order.MarketID, releaseable.Neg()); err != nil {
		return nil, err
	}

	wallet, err := ledger.GetForUpdate(tx, userID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	c.Publish.PublishToUser(userID, events.TypeBalanceUpdate, events.BalanceUpdatePayload{
		UserID:           userID,
		Balance:          wallet.Balance,
		Exposure:         wallet.Exposure,
		AvailableBalance: wallet.Available(),
		ChangedBy:        "order_cancellation",
		Amount:           releaseable.Neg(),
	})

	return &model.CancelOrderResult{
		OrderID:          orderID,
		ReleasedExposure: releaseable,
		NewExposure:      newExposure,
		AvailableBalance: wallet.Available(),
	}, nil
}
