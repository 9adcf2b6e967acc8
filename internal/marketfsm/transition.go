package marketfsm

import (
	"context"
	"time"

	"sportsexchange/internal/db"
	"sportsexchange/internal/errs"
	"sportsexchange/internal/model"
)

// TransitionMarket moves marketID to status if legal, locking the market
// row for the duration of the check-and-set.
func TransitionMarket(ctx context.Context, store *db.Store, marketID string, to model.MarketStatus) (*model.Market, error) {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	market, err := db.GetMarketForUpdate(tx, marketID)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, errs.New(errs.NotFound, "market not found")
	}
	if !CanTransitionMarket(market.Status, to) {
		return nil, errs.Newf(errs.InvalidState, "cannot move market from %s to %s", market.Status, to)
	}
	if err := db.SetMarketStatus(tx, marketID, to); err != nil {
		return nil, err
	}
	market.Status = to
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return market, nil
}

// CreateMatch creates a new Match, unless externalID already names one —
// in which case creation is treated as a read and the existing row is
// returned with created=false, never as an error. The conflict check and
// the insert are one atomic statement (see Store.CreateMatchIdempotent),
// so two callers racing on the same externalID can't both pass a
// check-then-insert window: one gets created=true, the other gets the
// same row back with created=false.
func CreateMatch(ctx context.Context, store *db.Store, sport, home, away string, start time.Time, externalID *string) (*model.Match, bool, error) {
	return store.CreateMatchIdempotent(ctx, sport, home, away, start, externalID)
}

func TransitionMatch(ctx context.Context, store *db.Store, matchID string, to model.MatchStatus) (*model.Match, error) {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	match, err := db.GetMatchForUpdate(tx, matchID)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, errs.New(errs.NotFound, "match not found")
	}
	if !CanTransitionMatch(match.Status, to) {
		return nil, errs.Newf(errs.InvalidState, "cannot move match from %s to %s", match.Status, to)
	}
	if err := db.SetMatchStatus(tx, matchID, to); err != nil {
		return nil, err
	}
	match.Status = to
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return match, nil
}
