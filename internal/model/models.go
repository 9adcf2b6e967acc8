// Package model holds the data model shared across the matching,
// ledger, settlement and API layers.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Enums ────────────────────────────────────────────

type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleAgent      Role = "AGENT"
	RoleUser       Role = "USER"
)

type MatchStatus string

const (
	MatchUpcoming  MatchStatus = "UPCOMING"
	MatchLive      MatchStatus = "LIVE"
	MatchCompleted MatchStatus = "COMPLETED"
	MatchCancelled MatchStatus = "CANCELLED"
)

type MarketStatus string

const (
	MarketOpen      MarketStatus = "OPEN"
	MarketSuspended MarketStatus = "SUSPENDED"
	MarketClosed    MarketStatus = "CLOSED"
	MarketSettled   MarketStatus = "SETTLED"
)

type Side string

const (
	SideBack Side = "BACK"
	SideLay  Side = "LAY"
)

type OrderStatus string

const (
	OrderOpen      OrderStatus = "OPEN"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderMatched   OrderStatus = "MATCHED"
	OrderCancelled OrderStatus = "CANCELLED"
)

type LedgerKind string

const (
	LedgerCredit          LedgerKind = "CREDIT"
	LedgerDebit           LedgerKind = "DEBIT"
	LedgerTransferIn      LedgerKind = "TRANSFER_IN"
	LedgerTransferOut     LedgerKind = "TRANSFER_OUT"
	LedgerOrderPlace      LedgerKind = "ORDER_PLACE"
	LedgerOrderCancel     LedgerKind = "ORDER_CANCEL"
	LedgerOrderSettle     LedgerKind = "ORDER_SETTLE"
	LedgerExposureLock    LedgerKind = "EXPOSURE_LOCK"
	LedgerExposureRelease LedgerKind = "EXPOSURE_RELEASE"
	LedgerBetPlace        LedgerKind = "BET_PLACE"
	LedgerBetSettle       LedgerKind = "BET_SETTLE"
	LedgerBetRefund       LedgerKind = "BET_REFUND"
)

// ── Domain objects ───────────────────────────────────

type User struct {
	ID           string  `json:"id"`
	Email        string  `json:"email"`
	PasswordHash string  `json:"-"`
	Role         Role    `json:"role"`
	ParentID     *string `json:"parent_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type Wallet struct {
	UserID   string          `json:"user_id"`
	Balance  decimal.Decimal `json:"balance"`
	Exposure decimal.Decimal `json:"exposure"`
}

// Available returns balance minus exposure — the amount a user may newly
// commit to a fresh order.
func (w Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.Exposure)
}

type LedgerEntry struct {
	ID          int64           `json:"id"`
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Kind        LedgerKind      `json:"kind"`
	PostBalance decimal.Decimal `json:"post_balance"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Match struct {
	ID         string      `json:"id"`
	Sport      string      `json:"sport"`
	HomeTeam   string      `json:"home_team"`
	AwayTeam   string      `json:"away_team"`
	StartTime  time.Time   `json:"start_time"`
	ExternalID *string     `json:"external_id,omitempty"`
	Status     MatchStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
}

type Market struct {
	ID        string       `json:"id"`
	MatchID   string       `json:"match_id"`
	Name      string       `json:"name"`
	Status    MarketStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	ClosedAt  *time.Time   `json:"closed_at,omitempty"`
	SettledAt *time.Time   `json:"settled_at,omitempty"`
}

// Runner is a selection within a market. IsWinner is nil until settlement;
// true for the winning runner, false for every other runner, or left nil
// on all runners for a refund/abandoned settlement.
type Runner struct {
	ID                string           `json:"id"`
	MarketID          string           `json:"market_id"`
	Name              string           `json:"name"`
	IsWinner          *bool            `json:"is_winner"`
	ReferenceBackOdds *decimal.Decimal `json:"reference_back_odds,omitempty"`
	ReferenceLayOdds  *decimal.Decimal `json:"reference_lay_odds,omitempty"`
}

type Order struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	MarketID       string          `json:"market_id"`
	SelectionID    string          `json:"selection_id"`
	Side           Side            `json:"side"`
	Price          decimal.Decimal `json:"price"`
	Stake          decimal.Decimal `json:"stake"`
	MatchedStake   decimal.Decimal `json:"matched_stake"`
	RemainingStake decimal.Decimal `json:"remaining_stake"`
	LockedExposure decimal.Decimal `json:"locked_exposure"`
	Status         OrderStatus     `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type Trade struct {
	ID          string          `json:"id"`
	BackOrderID string          `json:"back_order_id"`
	LayOrderID  string          `json:"lay_order_id"`
	MarketID    string          `json:"market_id"`
	SelectionID string          `json:"selection_id"`
	Price       decimal.Decimal `json:"price"`
	Stake       decimal.Decimal `json:"stake"`
	Settled     bool            `json:"settled"`
	SettledAt   *time.Time      `json:"settled_at,omitempty"`

	// BackExposureReleased/LayExposureReleased track, independently of
	// Settled, whether this trade's worth of locked exposure has already
	// been released on that side — either at match time (resting side, the
	// common case) or at settlement time (the taker side, which keeps its
	// full placement-time lock until the market resolves). Settlement must
	// never release the same trade's exposure twice on the same side.
	BackExposureReleased bool `json:"-"`
	LayExposureReleased  bool `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// MarketExposure is the per-(user, market) auxiliary total, reconcilable
// against the sum of lockedExposureRemaining across that user's live orders
// in the market. Used for admin oversight and released on cancellation.
type MarketExposure struct {
	UserID   string          `json:"user_id"`
	MarketID string          `json:"market_id"`
	Locked   decimal.Decimal `json:"locked"`
}

// ReferenceOdds are display-only prices from an external feed. Never
// consulted by matching.
type ReferenceOdds struct {
	MarketID    string          `json:"market_id"`
	SelectionID string          `json:"selection_id"`
	BackOdds    decimal.Decimal `json:"back_odds"`
	LayOdds     decimal.Decimal `json:"lay_odds"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ── API request/response shapes ─────────────────────

type PlaceOrderReq struct {
	MarketID    string          `json:"market_id"`
	SelectionID string          `json:"selection_id"`
	Side        Side            `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Stake       decimal.Decimal `json:"stake"`
}

type PlaceOrderResult struct {
	Order          Order           `json:"order"`
	Trades         []Trade         `json:"trades"`
	MatchedStake   decimal.Decimal `json:"matched_stake"`
	RemainingStake decimal.Decimal `json:"remaining_stake"`
	Status         OrderStatus     `json:"status"`
}

type CancelOrderResult struct {
	OrderID          string          `json:"order_id"`
	ReleasedExposure decimal.Decimal `json:"released_exposure"`
	NewExposure      decimal.Decimal `json:"new_exposure"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
}

type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
	Count int             `json:"count"`
}

type BookSnapshot struct {
	Back []BookLevel `json:"back"`
	Lay  []BookLevel `json:"lay"`
}
