// Package position aggregates player fills into positions with average cost,
// realized PnL and a margin ratio.
package position

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/harvest-exchange/internal/orderbook"
)

// Position is one trader's holding in one symbol. Quantity is signed:
// positive long, negative short.
type Position struct {
	TraderID string          `json:"traderId" db:"trader_id"`
	Symbol   string          `json:"symbol" db:"symbol"`
	Quantity int64           `json:"quantity" db:"quantity"`
	AvgCost  decimal.Decimal `json:"avgCost" db:"avg_cost"`
	Realized decimal.Decimal `json:"realized" db:"realized"`
}

// Marks supplies the mark price and margin ratio of a listed symbol.
type Marks interface {
	Mark(symbol string) (price, marginRatio float64, ok bool)
}

// MarkedPosition is a position valued at the current mark.
type MarkedPosition struct {
	Position
	Mark       decimal.Decimal `json:"mark"`
	Unrealized decimal.Decimal `json:"unrealized"`
	Margin     decimal.Decimal `json:"margin"`
}

// Account is a trader's valuation.
type Account struct {
	TraderID    string           `json:"traderId"`
	Balance     decimal.Decimal  `json:"balance"`
	Realized    decimal.Decimal  `json:"realized"`
	Unrealized  decimal.Decimal  `json:"unrealized"`
	Equity      decimal.Decimal  `json:"equity"`
	UsedMargin  decimal.Decimal  `json:"usedMargin"`
	MarginRatio *decimal.Decimal `json:"marginRatio"` // nil with no margin in use
	Positions   []MarkedPosition `json:"positions"`
}

type key struct {
	trader string
	symbol string
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu        sync.RWMutex
	positions map[key]*Position
	initial   decimal.Decimal
}

// NewLedger creates a ledger in which every trader starts with initial
// capital.
func NewLedger(initial decimal.Decimal) *Ledger {
	return &Ledger{
		positions: make(map[key]*Position),
		initial:   initial,
	}
}

// Apply books the player fills among fills and returns how many were applied.
func (l *Ledger) Apply(fills []orderbook.Fill) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, f := range fills {
		if !f.IsPlayer || f.Quantity <= 0 {
			continue
		}
		l.applyLocked(f.TraderID, f.Symbol, f.Signed(), decimal.NewFromFloat(f.Price))
		n++
	}
	return n
}

func (l *Ledger) applyLocked(trader, symbol string, qty int64, price decimal.Decimal) {
	k := key{trader, symbol}
	p, ok := l.positions[k]
	if !ok {
		p = &Position{TraderID: trader, Symbol: symbol}
		l.positions[k] = p
	}

	switch {
	case p.Quantity == 0 || (p.Quantity > 0) == (qty > 0):
		held := decimal.NewFromInt(abs(p.Quantity))
		add := decimal.NewFromInt(abs(qty))
		p.AvgCost = p.AvgCost.Mul(held).Add(price.Mul(add)).Div(held.Add(add))
		p.Quantity += qty
	default:
		closing := min(abs(p.Quantity), abs(qty))
		pnl := price.Sub(p.AvgCost).Mul(decimal.NewFromInt(closing))
		if p.Quantity < 0 {
			pnl = pnl.Neg()
		}
		p.Realized = p.Realized.Add(pnl)
		p.Quantity += qty
		switch {
		case p.Quantity == 0:
			p.AvgCost = decimal.Zero
		case (p.Quantity > 0) == (qty > 0):
			p.AvgCost = price // flipped through flat
		}
	}
}

// Settle closes every position in symbol at price, realizing the PnL.
// Returns the positions as they were just before settlement.
func (l *Ledger) Settle(symbol string, price float64) []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	px := decimal.NewFromFloat(price)
	var out []Position
	for k, p := range l.positions {
		if k.symbol != symbol || p.Quantity == 0 {
			continue
		}
		out = append(out, *p)
		l.applyLocked(k.trader, symbol, -p.Quantity, px)
	}
	sortPositions(out)
	return out
}

// Position returns trader's holding in symbol.
func (l *Ledger) Position(trader, symbol string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[key{trader, symbol}]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns every position of trader, including flat ones that
// still carry realized PnL, sorted by symbol.
func (l *Ledger) Positions(trader string) []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Position
	for k, p := range l.positions {
		if k.trader == trader {
			out = append(out, *p)
		}
	}
	sortPositions(out)
	return out
}

// All returns every position in the ledger for persistence.
func (l *Ledger) All() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sortPositions(out)
	return out
}

// Restore replaces the ledger contents.
func (l *Ledger) Restore(positions []Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions = make(map[key]*Position, len(positions))
	for i := range positions {
		p := positions[i]
		l.positions[key{p.TraderID, p.Symbol}] = &p
	}
}

// Account values trader's book at the supplied marks. Symbols without a mark
// are valued at cost and use no margin.
//
// MarginRatio = equity / used margin, with used margin the sum over open
// positions of |quantity| * mark * the symbol's margin ratio.
func (l *Ledger) Account(trader string, marks Marks) Account {
	l.mu.RLock()
	acct := Account{TraderID: trader, Balance: l.initial}
	var held []Position
	for k, p := range l.positions {
		if k.trader == trader {
			held = append(held, *p)
		}
	}
	l.mu.RUnlock()
	sortPositions(held)

	for _, p := range held {
		mp := MarkedPosition{Position: p, Mark: p.AvgCost}
		acct.Realized = acct.Realized.Add(p.Realized)
		if p.Quantity != 0 && marks != nil {
			if px, ratio, ok := marks.Mark(p.Symbol); ok {
				qty := decimal.NewFromInt(p.Quantity)
				mp.Mark = decimal.NewFromFloat(px)
				mp.Unrealized = mp.Mark.Sub(p.AvgCost).Mul(qty)
				mp.Margin = mp.Mark.Mul(qty.Abs()).Mul(decimal.NewFromFloat(ratio))
			}
		}
		acct.Unrealized = acct.Unrealized.Add(mp.Unrealized)
		acct.UsedMargin = acct.UsedMargin.Add(mp.Margin)
		acct.Positions = append(acct.Positions, mp)
	}
	acct.Equity = acct.Balance.Add(acct.Realized).Add(acct.Unrealized)
	if acct.UsedMargin.IsPositive() {
		r := acct.Equity.DivRound(acct.UsedMargin, 8)
		acct.MarginRatio = &r
	}
	return acct
}

func sortPositions(ps []Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].TraderID != ps[j].TraderID {
			return ps[i].TraderID < ps[j].TraderID
		}
		return ps[i].Symbol < ps[j].Symbol
	})
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
