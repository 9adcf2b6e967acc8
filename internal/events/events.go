// Package events defines the publish interface handed to the lifecycle and
// settlement controllers by the composition root, so the core stays
// testable without a transport. This replaces a process-wide emitter with
// an injected collaborator (spec's redesign note on the source's global
// mutable event service).
package events

import (
	"github.com/shopspring/decimal"

	"sportsexchange/internal/model"
)

const (
	TypeBalanceUpdate = "balance_update"
	TypeBetPlaced     = "bet_placed"
	TypeBetSettled    = "bet_settled"
	TypeMatchUpdate   = "match_update"
)

type SettleOutcome string

const (
	OutcomeWon      SettleOutcome = "WON"
	OutcomeLost     SettleOutcome = "LOST"
	OutcomeRefunded SettleOutcome = "REFUNDED"
)

// BalanceUpdatePayload is published to a single user whenever a commit
// changes their wallet balance or locked exposure.
type BalanceUpdatePayload struct {
	UserID           string          `json:"user_id"`
	Balance          decimal.Decimal `json:"balance"`
	Exposure         decimal.Decimal `json:"exposure"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	ChangedBy        string          `json:"changed_by"`
	Amount           decimal.Decimal `json:"amount"`
}

// BetPlacedPayload is published to the placing user once their order has
// committed, whether or not it matched immediately.
type BetPlacedPayload struct {
	OrderID      string            `json:"order_id"`
	UserID       string            `json:"user_id"`
	MarketID     string            `json:"market_id"`
	SelectionID  string            `json:"selection_id"`
	Side         model.Side        `json:"side"`
	Price        decimal.Decimal   `json:"price"`
	Stake        decimal.Decimal   `json:"stake"`
	MatchedStake decimal.Decimal   `json:"matched_stake"`
	Status       model.OrderStatus `json:"status"`
}

// BetSettledPayload is published to each side of a trade once settlement
// has committed its outcome.
type BetSettledPayload struct {
	TradeID  string          `json:"trade_id"`
	OrderID  string          `json:"order_id"`
	UserID   string          `json:"user_id"`
	MarketID string          `json:"market_id"`
	Side     model.Side      `json:"side"`
	Outcome  SettleOutcome   `json:"outcome"`
	Credited decimal.Decimal `json:"credited"`
}

// MatchUpdatePayload is published to a market's room when settlement
// moves the market to SETTLED; other status transitions publish nothing.
type MatchUpdatePayload struct {
	MarketID string             `json:"market_id"`
	Status   model.MarketStatus `json:"status"`
}

// Publisher hands the lifecycle and settlement controllers two addressing
// modes: Publish fans a message out to a market's room, PublishToUser
// targets one user's connections regardless of which market they're
// watching (balance_update and bet_settled are per-user, not per-market).
// Implementations must not block the caller's transaction; calls happen
// strictly after commit.
type Publisher interface {
	Publish(marketID, msgType string, data any)
	PublishToUser(userID, msgType string, data any)
}

// Noop is a Publisher that discards every message, useful in tests and as
// a safe zero value.
type Noop struct{}

func (Noop) Publish(string, string, any)       {}
func (Noop) PublishToUser(string, string, any) {}
