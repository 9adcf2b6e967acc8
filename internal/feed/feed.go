// Package feed runs the two background pollers that sit outside the
// core transaction path: a reference-odds poller that stores
// display-only prices (never consulted by matching), and a
// settlement-scan poller that finds markets left CLOSED and drives them
// through the settlement engine. Modeled on the strategy loop's
// ticker-driven reconciliation pattern — an independent goroutine with
// its own ticker, never sharing a transaction with the request path.
package feed

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/atomic"

	"sportsexchange/internal/db"
	"sportsexchange/internal/model"
	"sportsexchange/internal/settlement"
)

// OddsSource supplies a display-only back/lay price pair for a selection.
// A real implementation would call out to an external odds provider; it
// never feeds the matching engine.
type OddsSource interface {
	Quote(ctx context.Context, marketID, selectionID string) (back, lay decimal.Decimal, ok bool)
}

// OutcomeSource resolves a CLOSED market's runner outcomes once its
// result is known externally (e.g. a scores feed). Returning ok=false
// means the outcome isn't known yet and the market should be retried on
// the next tick.
type OutcomeSource interface {
	Outcomes(ctx context.Context, marketID string) (outcomes []settlement.RunnerOutcome, ok bool)
}

// OddsPoller refreshes ReferenceOdds for every open market's runners on
// a fixed interval.
type OddsPoller struct {
	Store    *db.Store
	Source   OddsSource
	Interval time.Duration

	// lastTick is the unix-seconds timestamp of the last completed tick,
	// exposed for an admin/health readout. Ticks run on their own
	// goroutine alongside request-path transactions (spec.md §5: pollers
	// "never interleave with the matching path except via the
	// transactional database"), so this is updated without taking any
	// lock shared with the matching path.
	lastTick atomic.Int64
}

func (p *OddsPoller) Run(ctx context.Context) {
	if p.Interval <= 0 {
		p.Interval = 15 * time.Second
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
			p.lastTick.Store(time.Now().Unix())
		}
	}
}

// LastTick returns the unix-seconds timestamp of the poller's last
// completed run, or zero if it has never run.
func (p *OddsPoller) LastTick() int64 { return p.lastTick.Load() }

func (p *OddsPoller) tick(ctx context.Context) {
	markets, err := p.Store.ListOpenMarkets(ctx)
	if err != nil {
		log.Printf("[feed] odds poll: list markets: %v", err)
		return
	}
	for _, mkt := range markets {
		runners, err := p.Store.ListRunners(ctx, mkt.ID)
		if err != nil {
			log.Printf("[feed] odds poll: list runners for %s: %v", mkt.ID, err)
			continue
		}
		for _, r := range runners {
			back, lay, ok := p.Source.Quote(ctx, mkt.ID, r.ID)
			if !ok {
				continue
			}
			if err := db.UpsertReferenceOdds(ctx, p.Store.DB, model.ReferenceOdds{
				MarketID: mkt.ID, SelectionID: r.ID, BackOdds: back, LayOdds: lay,
			}); err != nil {
				log.Printf("[feed] odds poll: upsert %s/%s: %v", mkt.ID, r.ID, err)
			}
		}
	}
}

// SettlementPoller scans CLOSED markets on a fixed interval and drives
// any whose outcome is now known through the settlement engine. A market
// stuck CLOSED with an unknown outcome is retried every tick until the
// source reports one; that is not an error.
type SettlementPoller struct {
	Store    *db.Store
	Engine   *settlement.Engine
	Source   OutcomeSource
	Interval time.Duration
}

func (p *SettlementPoller) Run(ctx context.Context) {
	if p.Interval <= 0 {
		p.Interval = 10 * time.Second
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *SettlementPoller) tick(ctx context.Context) {
	rows, err := p.Store.DB.QueryContext(ctx, `SELECT id FROM markets WHERE status='CLOSED'`)
	if err != nil {
		log.Printf("[feed] settlement scan: %v", err)
		return
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			log.Printf("[feed] settlement scan: %v", err)
			return
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, marketID := range ids {
		outcomes, ok := p.Source.Outcomes(ctx, marketID)
		if !ok {
			continue
		}
		if err := p.Engine.Settle(ctx, marketID, outcomes); err != nil {
			log.Printf("[feed] settle %s: %v", marketID, err)
		}
	}
}
