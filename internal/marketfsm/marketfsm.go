// Package marketfsm governs the legal state transitions of Market and
// Match. It holds no SQL of its own: TransitionMarket and TransitionMatch
// load the current row under lock via internal/db, check the move against
// the tables below, and persist the new status in the same transaction.
package marketfsm

import "sportsexchange/internal/model"

// marketTransitions enumerates every legal Market status change.
// OPEN -> SUSPENDED -> OPEN is the suspend/resume cycle; OPEN or
// SUSPENDED -> CLOSED starts settlement; CLOSED -> SETTLED finalizes it.
var marketTransitions = map[model.MarketStatus]map[model.MarketStatus]bool{
	model.MarketOpen:      {model.MarketSuspended: true, model.MarketClosed: true},
	model.MarketSuspended: {model.MarketOpen: true, model.MarketClosed: true},
	model.MarketClosed:    {model.MarketSettled: true},
	model.MarketSettled:   {},
}

func CanTransitionMarket(from, to model.MarketStatus) bool {
	return marketTransitions[from][to]
}

// CanPlaceOrder reports whether new orders may be accepted.
func CanPlaceOrder(status model.MarketStatus) bool {
	return status == model.MarketOpen
}

var matchTransitions = map[model.MatchStatus]map[model.MatchStatus]bool{
	model.MatchUpcoming:  {model.MatchLive: true, model.MatchCancelled: true},
	model.MatchLive:      {model.MatchCompleted: true, model.MatchCancelled: true},
	model.MatchCompleted: {},
	model.MatchCancelled: {},
}

func CanTransitionMatch(from, to model.MatchStatus) bool {
	return matchTransitions[from][to]
}
