// Package exposure maintains the per-(user, market) MarketExposure
// aggregate: auxiliary to the wallet's global exposure total, used for
// admin oversight and released on cancellation/settlement.
package exposure

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"
	"sportsexchange/internal/model"
)

// Adjust upserts marketID's locked exposure for userID by delta (may be
// negative). Grounded on the teacher's ON CONFLICT ... DO UPDATE upsert
// idiom for per-(market,user) aggregates.
func Adjust(tx *sql.Tx, userID, marketID string, delta decimal.Decimal) error {
	_, err := tx.Exec(
		`INSERT INTO market_exposures (user_id, market_id, locked) VALUES ($1,$2,$3)
		 ON CONFLICT (user_id, market_id) DO UPDATE SET locked = market_exposures.locked + $3`,
		userID, marketID, delta.Round(2),
	)
	return err
}

func Get(ctx context.Context, db *sql.DB, userID, marketID string) (*model.MarketExposure, error) {
	e := &model.MarketExposure{UserID: userID, MarketID: marketID}
	err := db.QueryRowContext(ctx,
		`SELECT locked FROM market_exposures WHERE user_id=$1 AND market_id=$2`, userID, marketID,
	).Scan(&e.Locked)
	if err == sql.ErrNoRows {
		e.Locked = decimal.Zero
		return e, nil
	}
	return e, err
}

func ListForUser(ctx context.Context, db *sql.DB, userID string) ([]model.MarketExposure, error) {
	rows, err := db.QueryContext(ctx, `SELECT user_id, market_id, locked FROM market_exposures WHERE user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.MarketExposure
	for rows.Next() {
		var e model.MarketExposure
		if err := rows.Scan(&e.UserID, &e.MarketID, &e.Locked); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
