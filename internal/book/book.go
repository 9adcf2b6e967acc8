// Package book implements the per-(market, selection) resting-order book:
// a price-time priority structure keyed by side, used by the matching
// engine to find candidates and by read-only book-query aggregation.
package book

import (
	"sort"

	"github.com/shopspring/decimal"
	"sportsexchange/internal/model"
)

// Entry is a resting order in the book.
type Entry struct {
	OrderID        string
	UserID         string
	Side           model.Side
	Price          decimal.Decimal
	Stake          decimal.Decimal // original placed stake, constant for the order's lifetime
	RemainingStake decimal.Decimal
	LockedExposure decimal.Decimal
	Seq            int64 // placement sequence number; carried for callers, the book itself does not read it
}

// Level is a price level with a FIFO queue of resting orders.
type Level struct {
	Price  decimal.Decimal
	Orders []*Entry
}

func (l *Level) TotalQty() decimal.Decimal {
	t := decimal.Zero
	for _, o := range l.Orders {
		t = t.Add(o.RemainingStake)
	}
	return t
}

// Match is a potential fill against a resting order, produced by a
// non-mutating scan.
type Match struct {
	Entry     *Entry
	FillStake decimal.Decimal
	FillPrice decimal.Decimal
}

// Book is the two-sided resting-order book for a single (market, selection).
// BACK orders are indexed descending by price (the best counter-price for
// an incoming LAY is the highest resting BACK price); LAY orders are
// indexed ascending (the best counter-price for an incoming BACK is the
// lowest resting LAY price). Within a price level, orders are FIFO in the
// order they were added, so callers add them oldest first.
type Book struct {
	back      map[string]*Level // price string -> level, resting BACK orders
	lay       map[string]*Level
	backPrice []decimal.Decimal // sorted descending
	layPrice  []decimal.Decimal // sorted ascending
	index     map[string]*Entry
}

func New() *Book {
	return &Book{
		back:  make(map[string]*Level),
		lay:   make(map[string]*Level),
		index: make(map[string]*Entry),
	}
}

func (b *Book) Size() int { return len(b.index) }

// BestBack returns the highest resting BACK price, if any.
func (b *Book) BestBack() *decimal.Decimal {
	if len(b.backPrice) == 0 {
		return nil
	}
	p := b.backPrice[0]
	return &p
}

// BestLay returns the lowest resting LAY price, if any.
func (b *Book) BestLay() *decimal.Decimal {
	if len(b.layPrice) == 0 {
		return nil
	}
	p := b.layPrice[0]
	return &p
}

// Snapshot aggregates resting orders by price level for read-only display.
// BACK levels come back highest-first; LAY levels lowest-first.
func (b *Book) Snapshot(depth int) (backLevels, layLevels []model.BookLevel) {
	for i := 0; i < len(b.backPrice) && i < depth; i++ {
		p := b.backPrice[i]
		lvl := b.back[p.String()]
		backLevels = append(backLevels, model.BookLevel{Price: p, Qty: lvl.TotalQty(), Count: len(lvl.Orders)})
	}
	for i := 0; i < len(b.layPrice) && i < depth; i++ {
		p := b.layPrice[i]
		lvl := b.lay[p.String()]
		layLevels = append(layLevels, model.BookLevel{Price: p, Qty: lvl.TotalQty(), Count: len(lvl.Orders)})
	}
	if backLevels == nil {
		backLevels = []model.BookLevel{}
	}
	if layLevels == nil {
		layLevels = []model.BookLevel{}
	}
	return
}

// Add inserts a resting order. A duplicate OrderID is ignored.
func (b *Book) Add(e *Entry) {
	if _, exists := b.index[e.OrderID]; exists {
		return
	}
	b.index[e.OrderID] = e
	if e.Side == model.SideBack {
		b.addTo(b.back, &b.backPrice, e, false) // descending
	} else {
		b.addTo(b.lay, &b.layPrice, e, true) // ascending
	}
}

// Remove deletes a resting order and returns it, or nil if absent.
func (b *Book) Remove(orderID string) *Entry {
	e, ok := b.index[orderID]
	if !ok {
		return nil
	}
	delete(b.index, orderID)
	if e.Side == model.SideBack {
		b.removeFrom(b.back, &b.backPrice, e)
	} else {
		b.removeFrom(b.lay, &b.layPrice, e)
	}
	return e
}

// ApplyFill reduces a resting order's remaining stake. Returns the
// remaining stake after the fill; removes the order from the book if it
// reaches zero.
func (b *Book) ApplyFill(orderID string, fillStake decimal.Decimal) decimal.Decimal {
	e := b.index[orderID]
	if e == nil {
		return decimal.Zero
	}
	e.RemainingStake = e.RemainingStake.Sub(fillStake)
	if !e.RemainingStake.IsPositive() {
		b.Remove(orderID)
		return decimal.Zero
	}
	return e.RemainingStake
}

// FindMatches returns potential fills against the opposite side, without
// mutating the book. side is the side of the INCOMING order; candidates
// are scanned on the opposite side in price-time priority.
//
// Incoming BACK @ p: candidate resting LAY with lay.price <= p, ascending
// price then FIFO. Incoming LAY @ p: candidate resting BACK with
// back.price >= p, descending price then FIFO.
func (b *Book) FindMatches(side model.Side, price decimal.Decimal, maxStake decimal.Decimal, excludeUserID string) []Match {
	var matches []Match
	rem := maxStake

	scan := func(prices []decimal.Decimal, levels map[string]*Level, priceOK func(levelPrice decimal.Decimal) bool) {
		for _, lp := range prices {
			if !rem.IsPositive() {
				return
			}
			if !priceOK(lp) {
				return
			}
			level := levels[lp.String()]
			for _, entry := range level.Orders {
				if !rem.IsPositive() {
					return
				}
				if entry.UserID == excludeUserID {
					continue
				}
				fill := decimal.Min(rem, entry.RemainingStake)
				matches = append(matches, Match{Entry: entry, FillStake: fill, FillPrice: lp})
				rem = rem.Sub(fill)
			}
		}
	}

	if side == model.SideBack {
		scan(b.layPrice, b.lay, func(lp decimal.Decimal) bool { return lp.LessThanOrEqual(price) })
	} else {
		scan(b.backPrice, b.back, func(bp decimal.Decimal) bool { return bp.GreaterThanOrEqual(price) })
	}
	return matches
}

// ── internals ────────────────────────────────────────

func (b *Book) addTo(m map[string]*Level, prices *[]decimal.Decimal, e *Entry, asc bool) {
	key := e.Price.String()
	level, ok := m[key]
	if !ok {
		level = &Level{Price: e.Price}
		m[key] = level
		*prices = append(*prices, e.Price)
		if asc {
			sort.Slice(*prices, func(i, j int) bool { return (*prices)[i].LessThan((*prices)[j]) })
		} else {
			sort.Slice(*prices, func(i, j int) bool { return (*prices)[i].GreaterThan((*prices)[j]) })
		}
	}
	level.Orders = append(level.Orders, e)
}

func (b *Book) removeFrom(m map[string]*Level, prices *[]decimal.Decimal, e *Entry) {
	key := e.Price.String()
	level, ok := m[key]
	if !ok {
		return
	}
	for i, o := range level.Orders {
		if o.OrderID == e.OrderID {
			level.Orders = append(level.Orders[:i], level.Orders[i+1:]...)
			break
		}
	}
	if len(level.Orders) == 0 {
		delete(m, key)
		for i, p := range *prices {
			if p.Equal(e.Price) {
				*prices = append((*prices)[:i], (*prices)[i+1:]...)
				break
			}
		}
	}
}
