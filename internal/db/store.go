// Package db is the Postgres persistence layer: connection/migration
// bootstrap plus CRUD for every table in the schema. Every public core
// operation still runs as exactly one *sql.Tx opened by its caller
// (lifecycle, settlement, marketfsm) — Store only hands out connections
// and scans rows.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"sportsexchange/internal/model"
)

type Store struct{ DB *sql.DB }

func Open(dsn string) (*Store, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(20)
	conn.SetConnMaxLifetime(5 * time.Minute)
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{DB: conn}, nil
}

func (s *Store) Migrate(dir string) error {
	driver, err := postgres.WithInstance(s.DB, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
}

// ── Users ────────────────────────────────────────────

func (s *Store) CreateUser(ctx context.Context, email, hash string, role model.Role, parentID *string) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash, role, parent_id) VALUES ($1,$2,$3,$4)
		 RETURNING id, email, password_hash, role, parent_id, created_at`,
		email, hash, role, parentID,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.ParentID, &u.CreatedAt)
	return u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, parent_id, created_at FROM users WHERE email=$1`, email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.ParentID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, parent_id, created_at FROM users WHERE id=$1`, id,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.ParentID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, email, role, parent_id, created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Role, &u.ParentID, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// ── Wallets ──────────────────────────────────────────

func (s *Store) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	w := &model.Wallet{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT user_id, balance, exposure FROM wallets WHERE user_id=$1`, userID,
	).Scan(&w.UserID, &w.Balance, &w.Exposure)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

// ── Matches ──────────────────────────────────────────

func (s *Store) CreateMatch(ctx context.Context, sport, home, away string, start time.Time, externalID *string) (*model.Match, error) {
	m := &model.Match{}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO matches (sport, home_team, away_team, start_time, external_id)
		 VALUES ($1,$2,$3,$4,$5)
		 RETURNING id, sport, home_team, away_team, start_time, external_id, status, created_at`,
		sport, home, away, start, externalID,
	).Scan(&m.ID, &m.Sport, &m.HomeTeam, &m.AwayTeam, &m.StartTime, &m.ExternalID, &m.Status, &m.CreatedAt)
	return m, err
}

// CreateMatchIdempotent inserts a match, treating a duplicate externalID as
// a read of the existing row rather than an error. It uses
// INSERT ... ON CONFLICT (external_id) DO NOTHING RETURNING so the
// conflict check and the insert are one atomic statement — two concurrent
// callers racing on the same externalID can never both believe they
// created it. created is false when an existing row was returned instead.
// externalID == nil bypasses the conflict path entirely: Postgres treats
// NULL as distinct from any other NULL under a unique constraint, so two
// matches with no externalID are never "duplicates" of each other.
func (s *Store) CreateMatchIdempotent(ctx context.Context, sport, home, away string, start time.Time, externalID *string) (*model.Match, bool, error) {
	if externalID == nil {
		m, err := s.CreateMatch(ctx, sport, home, away, start, nil)
		return m, true, err
	}

	m := &model.Match{}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO matches (sport, home_team, away_team, start_time, external_id)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (external_id) DO NOTHING
		 RETURNING id, sport, home_team, away_team, start_time, external_id, status, created_at`,
		sport, home, away, start, *externalID,
	).Scan(&m.ID, &m.Sport, &m.HomeTeam, &m.AwayTeam, &m.StartTime, &m.ExternalID, &m.Status, &m.CreatedAt)
	if err == nil {
		return m, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, err
	}

	existing, err := s.GetMatchByExternalID(ctx, *externalID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("match insert on external_id %q conflicted but no row could be read back", *externalID)
	}
	return existing, false, nil
}

func (s *Store) GetMatchByExternalID(ctx context.Context, externalID string) (*model.Match, error) {
	m := &model.Match{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, sport, home_team, away_team, start_time, external_id, status, created_at
		 FROM matches WHERE external_id=$1`, externalID,
	).Scan(&m.ID, &m.Sport, &m.HomeTeam, &m.AwayTeam, &m.StartTime, &m.ExternalID, &m.Status, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *Store) GetMatch(ctx context.Context, id string) (*model.Match, error) {
	m := &model.Match{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, sport, home_team, away_team, start_time, external_id, status, created_at
		 FROM matches WHERE id=$1`, id,
	).Scan(&m.ID, &m.Sport, &m.HomeTeam, &m.AwayTeam, &m.StartTime, &m.ExternalID, &m.Status, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *Store) ListLiveMatches(ctx context.Context) ([]model.Match, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, sport, home_team, away_team, start_time, external_id, status, created_at
		 FROM matches WHERE status IN ('UPCOMING','LIVE')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Match
	for rows.Next() {
		var m model.Match
		if err := rows.Scan(&m.ID, &m.Sport, &m.HomeTeam, &m.AwayTeam, &m.StartTime, &m.ExternalID, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func GetMatchForUpdate(tx *sql.Tx, id string) (*model.Match, error) {
	m := &model.Match{}
	err := tx.QueryRow(
		`SELECT id, sport, home_team, away_team, start_time, external_id, status, created_at
		 FROM matches WHERE id=$1 FOR UPDATE`, id,
	).Scan(&m.ID, &m.Sport, &m.HomeTeam, &m.AwayTeam, &m.StartTime, &m.ExternalID, &m.Status, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func SetMatchStatus(tx *sql.Tx, matchID string, status model.MatchStatus) error {
	_, err := tx.Exec(`UPDATE matches SET status=$1 WHERE id=$2`, status, matchID)
	return err
}

// ── Markets ──────────────────────────────────────────

func (s *Store) CreateMarket(ctx context.Context, matchID, name string) (*model.Market, error) {
	m := &model.Market{}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO markets (match_id, name) VALUES ($1,$2)
		 RETURNING id, match_id, name, status, created_at, closed_at, settled_at`,
		matchID, name,
	).Scan(&m.ID, &m.MatchID, &m.Name, &m.Status, &m.CreatedAt, &m.ClosedAt, &m.SettledAt)
	return m, err
}

func (s *Store) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m := &model.Market{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, match_id, name, status, created_at, closed_at, settled_at FROM markets WHERE id=$1`, id,
	).Scan(&m.ID, &m.MatchID, &m.Name, &m.Status, &m.CreatedAt, &m.ClosedAt, &m.SettledAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func GetMarketForUpdate(tx *sql.Tx, id string) (*model.Market, error) {
	m := &model.Market{}
	err := tx.QueryRow(
		`SELECT id, match_id, name, status, created_at, closed_at, settled_at FROM markets WHERE id=$1 FOR UPDATE`, id,
	).Scan(&m.ID, &m.MatchID, &m.Name, &m.Status, &m.CreatedAt, &m.ClosedAt, &m.SettledAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *Store) ListOpenMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, match_id, name, status, created_at, closed_at, settled_at FROM markets WHERE status='OPEN'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Market
	for rows.Next() {
		var m model.Market
		if err := rows.Scan(&m.ID, &m.MatchID, &m.Name, &m.Status, &m.CreatedAt, &m.ClosedAt, &m.SettledAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func SetMarketStatus(tx *sql.Tx, marketID string, status model.MarketStatus) error {
	switch status {
	case model.MarketClosed:
		_, err := tx.Exec(`UPDATE markets SET status=$1, closed_at=now() WHERE id=$2`, status, marketID)
		return err
	case model.MarketSettled:
		_, err := tx.Exec(`UPDATE markets SET status=$1, settled_at=now() WHERE id=$2`, status, marketID)
		return err
	default:
		_, err := tx.Exec(`UPDATE markets SET status=$1 WHERE id=$2`, status, marketID)
		return err
	}
}

// ── Runners ──────────────────────────────────────────

func (s *Store) CreateRunner(ctx context.Context, marketID, name string) (*model.Runner, error) {
	r := &model.Runner{}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO runners (market_id, name) VALUES ($1,$2)
		 RETURNING id, market_id, name, is_winner, reference_back_odds, reference_lay_odds`,
		marketID, name,
	).Scan(&r.ID, &r.MarketID, &r.Name, &r.IsWinner, &r.ReferenceBackOdds, &r.ReferenceLayOdds)
	return r, err
}

func (s *Store) GetRunner(ctx context.Context, id string) (*model.Runner, error) {
	r := &model.Runner{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, market_id, name, is_winner, reference_back_odds, reference_lay_odds FROM runners WHERE id=$1`, id,
	).Scan(&r.ID, &r.MarketID, &r.Name, &r.IsWinner, &r.ReferenceBackOdds, &r.ReferenceLayOdds)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func (s *Store) ListRunners(ctx context.Context, marketID string) ([]model.Runner, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, market_id, name, is_winner, reference_back_odds, reference_lay_odds FROM runners WHERE market_id=$1`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Runner
	for rows.Next() {
		var r model.Runner
		if err := rows.Scan(&r.ID, &r.MarketID, &r.Name, &r.IsWinner, &r.ReferenceBackOdds, &r.ReferenceLayOdds); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func SetRunnerOutcome(tx *sql.Tx, runnerID string, isWinner *bool) error {
	_, err := tx.Exec(`UPDATE runners SET is_winner=$1 WHERE id=$2`, isWinner, runnerID)
	return err
}

// ── Orders ───────────────────────────────────────────

func InsertOrder(tx *sql.Tx, o *model.Order) error {
	_, err := tx.Exec(
		`INSERT INTO orders (id, user_id, market_id, selection_id, side, price, stake, matched_stake, remaining_stake, locked_exposure, status)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		o.ID, o.UserID, o.MarketID, o.SelectionID, o.Side, o.Price.Round(2), o.Stake.Round(2),
		o.MatchedStake.Round(2), o.RemainingStake.Round(2), o.LockedExposure.Round(2), o.Status,
	)
	return err
}

func UpdateOrderFill(tx *sql.Tx, orderID string, matchedStake, remainingStake, lockedExposure decimal.Decimal, status model.OrderStatus) error {
	_, err := tx.Exec(
		`UPDATE orders SET matched_stake=$1, remaining_stake=$2, locked_exposure=$3, status=$4, updated_at=now() WHERE id=$5`,
		matchedStake.Round(2), remainingStake.Round(2), lockedExposure.Round(2), status, orderID,
	)
	return err
}

func CancelOrderRow(tx *sql.Tx, orderID string) error {
	_, err := tx.Exec(
		`UPDATE orders SET status='CANCELLED', locked_exposure=0, updated_at=now() WHERE id=$1`, orderID)
	return err
}

func GetOrderForUpdate(tx *sql.Tx, id string) (*model.Order, error) {
	o := &model.Order{}
	err := tx.QueryRow(
		`SELECT id, user_id, market_id, selection_id, side, price, stake, matched_stake, remaining_stake, locked_exposure, status, created_at, updated_at
		 FROM orders WHERE id=$1 FOR UPDATE`, id,
	).Scan(&o.ID, &o.UserID, &o.MarketID, &o.SelectionID, &o.Side, &o.Price, &o.Stake, &o.MatchedStake, &o.RemainingStake, &o.LockedExposure, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

// GetOrderOwner returns orderID's owning user without locking the row;
// used by settlement, which only needs to know where to post ledger
// entries and never mutates the order itself.
func GetOrderOwner(tx *sql.Tx, orderID string) (string, error) {
	var userID string
	err := tx.QueryRow(`SELECT user_id FROM orders WHERE id=$1`, orderID).Scan(&userID)
	return userID, err
}

func (s *Store) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o := &model.Order{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, market_id, selection_id, side, price, stake, matched_stake, remaining_stake, locked_exposure, status, created_at, updated_at
		 FROM orders WHERE id=$1`, id,
	).Scan(&o.ID, &o.UserID, &o.MarketID, &o.SelectionID, &o.Side, &o.Price, &o.Stake, &o.MatchedStake, &o.RemainingStake, &o.LockedExposure, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

// ListOpenOrders returns OPEN/PARTIAL orders for a (market, selection), in
// matching-scan order: all candidates ordered for FindMatches to re-sort by
// price then pull FIFO within level.
func (s *Store) ListOpenOrders(ctx context.Context, marketID, selectionID string) ([]model.Order, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, market_id, selection_id, side, price, stake, matched_stake, remaining_stake, locked_exposure, status, created_at, updated_at
		 FROM orders WHERE market_id=$1 AND selection_id=$2 AND status IN ('OPEN','PARTIAL') ORDER BY created_at`,
		marketID, selectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *Store) ListOpenOrdersForMarket(ctx context.Context, marketID string) ([]model.Order, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, market_id, selection_id, side, price, stake, matched_stake, remaining_stake, locked_exposure, status, created_at, updated_at
		 FROM orders WHERE market_id=$1 AND status IN ('OPEN','PARTIAL') ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *Store) ListUserOrders(ctx context.Context, marketID, userID string) ([]model.Order, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, market_id, selection_id, side, price, stake, matched_stake, remaining_stake, locked_exposure, status, created_at, updated_at
		 FROM orders WHERE market_id=$1 AND user_id=$2 ORDER BY created_at DESC LIMIT 200`, marketID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// LockOpenOrdersForSide locks every OPEN/PARTIAL resting order on side for
// (marketID, selectionID) with FOR UPDATE SKIP LOCKED: a concurrent
// matching run already holding one of these rows is invisible to this
// scan rather than blocking it, so contenders never convoy on the same
// selection. The caller rebuilds an in-memory book from the result and
// finds matches against the locked snapshot.
func LockOpenOrdersForSide(tx *sql.Tx, marketID, selectionID string, side model.Side) ([]model.Order, error) {
	rows, err := tx.Query(
		`SELECT id, user_id, market_id, selection_id, side, price, stake, matched_stake, remaining_stake, locked_exposure, status, created_at, updated_at
		 FROM orders
		 WHERE market_id=$1 AND selection_id=$2 AND side=$3 AND status IN ('OPEN','PARTIAL')
		 ORDER BY created_at
		 FOR UPDATE SKIP LOCKED`,
		marketID, selectionID, side)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]model.Order, error) {
	var out []model.Order
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.MarketID, &o.SelectionID, &o.Side, &o.Price, &o.Stake, &o.MatchedStake, &o.RemainingStake, &o.LockedExposure, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// ── Trades ───────────────────────────────────────────

func InsertTrade(tx *sql.Tx, t *model.Trade) error {
	_, err := tx.Exec(
		`INSERT INTO trades (id, back_order_id, lay_order_id, market_id, selection_id, price, stake, settled, back_exposure_released, lay_exposure_released)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		t.ID, t.BackOrderID, t.LayOrderID, t.MarketID, t.SelectionID, t.Price.Round(2), t.Stake.Round(2),
		t.Settled, t.BackExposureReleased, t.LayExposureReleased,
	)
	return err
}

func (s *Store) ListTrades(ctx context.Context, marketID string, limit int) ([]model.Trade, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, back_order_id, lay_order_id, market_id, selection_id, price, stake, settled, settled_at, created_at
		 FROM trades WHERE market_id=$1 ORDER BY created_at DESC LIMIT $2`, marketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.BackOrderID, &t.LayOrderID, &t.MarketID, &t.SelectionID, &t.Price, &t.Stake, &t.Settled, &t.SettledAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ListUnsettledTrades returns a market's unsettled trades locked FOR UPDATE,
// for the settlement engine's single transaction.
func ListUnsettledTrades(tx *sql.Tx, marketID string) ([]model.Trade, error) {
	rows, err := tx.Query(
		`SELECT id, back_order_id, lay_order_id, market_id, selection_id, price, stake, settled,
		        back_exposure_released, lay_exposure_released, created_at
		 FROM trades WHERE market_id=$1 AND NOT settled ORDER BY created_at FOR UPDATE`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.BackOrderID, &t.LayOrderID, &t.MarketID, &t.SelectionID, &t.Price, &t.Stake,
			&t.Settled, &t.BackExposureReleased, &t.LayExposureReleased, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func MarkTradeSettled(tx *sql.Tx, tradeID string, backReleased, layReleased bool) error {
	_, err := tx.Exec(
		`UPDATE trades SET settled=true, settled_at=now(), back_exposure_released=$1, lay_exposure_released=$2 WHERE id=$3`,
		backReleased, layReleased, tradeID,
	)
	return err
}

// ── Reference odds ───────────────────────────────────

func UpsertReferenceOdds(ctx context.Context, db *sql.DB, o model.ReferenceOdds) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO reference_odds (market_id, selection_id, back_odds, lay_odds, updated_at)
		 VALUES ($1,$2,$3,$4,now())
		 ON CONFLICT (market_id, selection_id) DO UPDATE SET back_odds=$3, lay_odds=$4, updated_at=now()`,
		o.MarketID, o.SelectionID, o.BackOdds.Round(2), o.LayOdds.Round(2),
	)
	return err
}

func (s *Store) GetReferenceOdds(ctx context.Context, marketID, selectionID string) (*model.ReferenceOdds, error) {
	o := &model.ReferenceOdds{MarketID: marketID, SelectionID: selectionID}
	err := s.DB.QueryRowContext(ctx,
		`SELECT back_odds, lay_odds, updated_at FROM reference_odds WHERE market_id=$1 AND selection_id=$2`,
		marketID, selectionID,
	).Scan(&o.BackOdds, &o.LayOdds, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}
