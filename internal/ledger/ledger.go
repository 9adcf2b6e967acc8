// Package ledger implements the wallet mutation and append-only ledger
// entry path: every balance or exposure change writes exactly one entry in
// the same transaction as the mutation it records, so postBalance is
// always the committed balance at that point (the audit anchor).
package ledger

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	"sportsexchange/internal/errs"
	"sportsexchange/internal/model"
)

// GetForUpdate locks and returns userID's wallet row within tx.
func GetForUpdate(tx *sql.Tx, userID string) (*model.Wallet, error) {
	w := &model.Wallet{}
	err := tx.QueryRow(
		`SELECT user_id, balance, exposure FROM wallets WHERE user_id=$1 FOR UPDATE`, userID,
	).Scan(&w.UserID, &w.Balance, &w.Exposure)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "wallet not found")
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Get reads userID's wallet without locking.
func Get(q interface {
	QueryRow(query string, args ...any) *sql.Row
}, userID string) (*model.Wallet, error) {
	w := &model.Wallet{}
	err := q.QueryRow(`SELECT user_id, balance, exposure FROM wallets WHERE user_id=$1`, userID).
		Scan(&w.UserID, &w.Balance, &w.Exposure)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "wallet not found")
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// AdjustBalance applies delta to userID's balance and writes a ledger entry
// whose postBalance is the balance after this mutation. delta may be
// negative. Returns the new balance.
func AdjustBalance(tx *sql.Tx, userID string, delta decimal.Decimal, kind model.LedgerKind, notes string) (decimal.Decimal, error) {
	var newBalance decimal.Decimal
	err := tx.QueryRow(
		`UPDATE wallets SET balance = balance + $1 WHERE user_id=$2 RETURNING balance`,
		delta, userID,
	).Scan(&newBalance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger.AdjustBalance: %w", err)
	}
	if err := appendEntry(tx, userID, delta, kind, newBalance, notes); err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

// AdjustExposure applies delta to userID's exposure. The ledger entry it
// writes records the signed exposure delta as amount but postBalance is
// the wallet's balance, which exposure changes never touch.
func AdjustExposure(tx *sql.Tx, userID string, delta decimal.Decimal, kind model.LedgerKind, notes string) (decimal.Decimal, error) {
	var newExposure, balance decimal.Decimal
	err := tx.QueryRow(
		`UPDATE wallets SET exposure = exposure + $1 WHERE user_id=$2 RETURNING exposure, balance`,
		delta, userID,
	).Scan(&newExposure, &balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger.AdjustExposure: %w", err)
	}
	if err := appendEntry(tx, userID, delta, kind, balance, notes); err != nil {
		return decimal.Zero, err
	}
	return newExposure, nil
}

func appendEntry(tx *sql.Tx, userID string, amount decimal.Decimal, kind model.LedgerKind, postBalance decimal.Decimal, notes string) error {
	_, err := tx.Exec(
		`INSERT INTO ledger_entries (user_id, amount, kind, post_balance, notes) VALUES ($1,$2,$3,$4,$5)`,
		userID, amount.Round(2), kind, postBalance.Round(2), notes,
	)
	return err
}

// CreateWallet inserts a zero-balance wallet for a newly created user.
func CreateWallet(tx *sql.Tx, userID string) error {
	_, err := tx.Exec(`INSERT INTO wallets (user_id, balance, exposure) VALUES ($1, 0, 0)`, userID)
	return err
}
