// Package api is the HTTP/JSON boundary: auth, routing, and handlers
// that translate requests into calls on the lifecycle, marketfsm, and
// settlement packages. It owns no matching or ledger logic itself.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"sportsexchange/internal/book"
	"sportsexchange/internal/db"
	"sportsexchange/internal/errs"
	"sportsexchange/internal/exposure"
	"sportsexchange/internal/ledger"
	"sportsexchange/internal/lifecycle"
	"sportsexchange/internal/marketfsm"
	"sportsexchange/internal/model"
	"sportsexchange/internal/settlement"
	"sportsexchange/internal/ws"
)

type Server struct {
	store      *db.Store
	lifecycle  *lifecycle.Controller
	settlement *settlement.Engine
	hub        *ws.Hub
	secret     []byte
}

func NewServer(store *db.Store, lc *lifecycle.Controller, se *settlement.Engine, hub *ws.Hub, secret string) *Server {
	return &Server{store: store, lifecycle: lc, settlement: se, hub: hub, secret: []byte(secret)}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json200(w, map[string]string{"status": "ok"})
	})

	r.Post("/api/register", s.register)
	r.Post("/api/login", s.login)

	r.Get("/ws", s.hub.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/api/wallet", s.getWallet)
		r.Get("/api/wallet/exposures", s.listExposures)

		r.Get("/api/markets", s.listMarkets)
		r.Get("/api/markets/{id}", s.getMarket)
		r.Get("/api/markets/{id}/book", s.getBook)
		r.Get("/api/markets/{id}/trades", s.getTrades)

		r.Post("/api/markets/{id}/orders", s.placeOrder)
		r.Delete("/api/orders/{id}", s.cancelOrder)
		r.Get("/api/markets/{id}/orders", s.listOrders)

		r.Group(func(r chi.Router) {
			r.Use(s.adminOnly)
			r.Post("/api/admin/matches", s.createMatch)
			r.Post("/api/admin/matches/{id}/transition", s.transitionMatch)
			r.Post("/api/admin/markets", s.createMarket)
			r.Post("/api/admin/markets/{id}/transition", s.transitionMarket)
			r.Post("/api/admin/markets/{id}/settle", s.settleMarket)
			r.Post("/api/admin/deposit", s.adminDeposit)
			r.Get("/api/admin/users", s.listUsers)
		})
	})

	return r
}

// ── Auth ─────────────────────────────────────────────

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.Email == "" || len(req.Password) < 6 {
		jsonErr(w, 400, "email and password (min 6 chars) required")
		return
	}

	existing, _ := s.store.GetUserByEmail(r.Context(), req.Email)
	if existing != nil {
		jsonErr(w, 409, "email already registered")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		jsonErr(w, 500, "hash failed")
		return
	}

	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		jsonErr(w, 500, "create user failed")
		return
	}
	defer tx.Rollback()

	user, err := s.store.CreateUser(r.Context(), req.Email, string(hash), model.RoleUser, nil)
	if err != nil {
		jsonErr(w, 500, "create user failed: "+err.Error())
		return
	}
	if err := walletForNewUser(tx, user.ID); err != nil {
		jsonErr(w, 500, "create wallet failed")
		return
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, 500, "create user failed")
		return
	}

	token := s.makeToken(user.ID, user.Role)
	json200(w, map[string]any{"user": user, "token": token})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil || user == nil {
		jsonErr(w, 401, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		jsonErr(w, 401, "invalid credentials")
		return
	}

	token := s.makeToken(user.ID, user.Role)
	json200(w, map[string]any{"user": user, "token": token})
}

func (s *Server) makeToken(userID string, role model.Role) string {
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": string(role),
		"exp":  time.Now().Add(72 * time.Hour).Unix(),
	}
	t, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return t
}

// ── Middleware ────────────────────────────────────────

type ctxKey string

const (
	ctxUserID ctxKey = "userID"
	ctxRole   ctxKey = "role"
)

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			jsonErr(w, 401, "missing token")
			return
		}
		tokenStr := strings.TrimPrefix(auth, "Bearer ")
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return s.secret, nil
		})
		if err != nil || !token.Valid {
			jsonErr(w, 401, "invalid token")
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			jsonErr(w, 401, "invalid claims")
			return
		}
		userID, _ := claims["sub"].(string)
		role, _ := claims["role"].(string)
		ctx := context.WithValue(r.Context(), ctxUserID, userID)
		ctx = context.WithValue(ctx, ctxRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, _ := r.Context().Value(ctxRole).(string)
		if role != string(model.RoleAdmin) && role != string(model.RoleSuperAdmin) {
			jsonErr(w, 403, "admin only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ── Wallet ───────────────────────────────────────────

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	wallet, err := s.store.GetWallet(r.Context(), uid)
	if err != nil || wallet == nil {
		jsonErr(w, 404, "wallet not found")
		return
	}
	json200(w, wallet)
}

func (s *Server) listExposures(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	list, err := exposure.ListForUser(r.Context(), s.store.DB, uid)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if list == nil {
		list = []model.MarketExposure{}
	}
	json200(w, list)
}

// ── Matches & Markets ────────────────────────────────

func (s *Server) createMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sport      string    `json:"sport"`
		HomeTeam   string    `json:"home_team"`
		AwayTeam   string    `json:"away_team"`
		StartTime  time.Time `json:"start_time"`
		ExternalID *string   `json:"external_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	match, created, err := marketfsm.CreateMatch(r.Context(), s.store, req.Sport, req.HomeTeam, req.AwayTeam, req.StartTime, req.ExternalID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !created {
		json200(w, map[string]any{"match": match, "conflict": true})
		return
	}
	json200(w, map[string]any{"match": match, "conflict": false})
}

func (s *Server) transitionMatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Status model.MatchStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	match, err := marketfsm.TransitionMatch(r.Context(), s.store, id, req.Status)
	if err != nil {
		writeErr(w, err)
		return
	}
	json200(w, match)
}

func (s *Server) createMarket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MatchID string   `json:"match_id"`
		Name    string   `json:"name"`
		Runners []string `json:"runners"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if len(req.Runners) < 2 {
		jsonErr(w, 400, "market needs at least 2 runners")
		return
	}
	market, err := s.store.CreateMarket(r.Context(), req.MatchID, req.Name)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	runners := make([]model.Runner, 0, len(req.Runners))
	for _, name := range req.Runners {
		rn, err := s.store.CreateRunner(r.Context(), market.ID, name)
		if err != nil {
			jsonErr(w, 500, err.Error())
			return
		}
		runners = append(runners, *rn)
	}
	json200(w, map[string]any{"market": market, "runners": runners})
}

func (s *Server) transitionMarket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Status model.MarketStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	market, err := marketfsm.TransitionMarket(r.Context(), s.store, id, req.Status)
	if err != nil {
		writeErr(w, err)
		return
	}
	json200(w, market)
}

func (s *Server) settleMarket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Outcomes []struct {
			RunnerID string `json:"runner_id"`
			Winner   *bool  `json:"winner"`
		} `json:"outcomes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	outcomes := make([]settlement.RunnerOutcome, len(req.Outcomes))
	for i, o := range req.Outcomes {
		outcomes[i] = settlement.RunnerOutcome{RunnerID: o.RunnerID, Winner: o.Winner}
	}
	if err := s.settlement.Settle(r.Context(), id, outcomes); err != nil {
		writeErr(w, err)
		return
	}
	json200(w, map[string]string{"status": "settled"})
}

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListOpenMarkets(r.Context())
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	json200(w, markets)
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	mkt, err := s.store.GetMarket(r.Context(), id)
	if err != nil || mkt == nil {
		jsonErr(w, 404, "market not found")
		return
	}
	json200(w, mkt)
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "id")
	selectionID := r.URL.Query().Get("selection_id")
	if selectionID == "" {
		jsonErr(w, 400, "selection_id is required")
		return
	}
	orders, err := s.store.ListOpenOrders(r.Context(), marketID, selectionID)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	b := book.New()
	for i := range orders {
		o := &orders[i]
		b.Add(&book.Entry{OrderID: o.ID, UserID: o.UserID, Side: o.Side, Price: o.Price, Stake: o.Stake, RemainingStake: o.RemainingStake})
	}
	back, lay := b.Snapshot(20)
	json200(w, model.BookSnapshot{Back: back, Lay: lay})
}

func (s *Server) getTrades(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 50
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 200 {
		limit = n
	}
	trades, err := s.store.ListTrades(r.Context(), id, limit)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	json200(w, trades)
}

// ── Orders ───────────────────────────────────────────

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "id")
	uid := r.Context().Value(ctxUserID).(string)

	var req model.PlaceOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	req.MarketID = marketID

	result, err := s.lifecycle.PlaceOrder(r.Context(), uid, req)
	if err != nil {
		writeErr(w, err)
		return
	}
	json200(w, result)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	uid := r.Context().Value(ctxUserID).(string)

	result, err := s.lifecycle.CancelOrder(r.Context(), uid, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	json200(w, result)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "id")
	uid := r.Context().Value(ctxUserID).(string)
	orders, err := s.store.ListUserOrders(r.Context(), marketID, uid)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	json200(w, orders)
}

// ── Admin ─────────────────────────────────────────────

func (s *Server) adminDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string          `json:"user_id"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if !req.Amount.IsPositive() {
		jsonErr(w, 400, "amount must be positive")
		return
	}
	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	defer tx.Rollback()
	newBalance, err := creditBalance(tx, req.UserID, req.Amount)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	json200(w, map[string]any{"user_id": req.UserID, "balance": newBalance})
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	json200(w, users)
}

// walletForNewUser and creditBalance stand in for the casino-wallet
// operations the core consumes rather than implements: simple
// credit/debit against the same ledger, outside the matching/exposure
// path entirely.

func walletForNewUser(tx *sql.Tx, userID string) error {
	return ledger.CreateWallet(tx, userID)
}

func creditBalance(tx *sql.Tx, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	return ledger.AdjustBalance(tx, userID, amount, model.LedgerCredit, "admin deposit")
}

// ── Helpers ───────────────────────────────────────────

func json200(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeErr(w http.ResponseWriter, err error) {
	switch errs.KindOf(err) {
	case errs.NotFound:
		jsonErr(w, 404, err.Error())
	case errs.InvalidInput:
		jsonErr(w, 400, err.Error())
	case errs.InvalidState:
		jsonErr(w, 409, err.Error())
	case errs.InsufficientFunds:
		jsonErr(w, 422, err.Error())
	case errs.PermissionDenied:
		jsonErr(w, 403, err.Error())
	case errs.Conflict:
		jsonErr(w, 409, err.Error())
	case errs.ContentionTimeout:
		jsonErr(w, 503, err.Error())
	default:
		jsonErr(w, 500, err.Error())
	}
}
