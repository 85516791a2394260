package orderbook

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// PriceLevel holds orders at a single price point, earliest first.
type PriceLevel struct {
	Price  float64
	Orders []*Order
}

// Book is a price-time priority order book for a single symbol. All
// mutation happens under one lock, so placement is serialized and a cancel
// can never interleave with a fill of the same order.
type Book struct {
	mu       sync.RWMutex
	Symbol   string
	TickSize float64
	seq      *Sequencer
	bids     []PriceLevel // sorted descending by price
	asks     []PriceLevel // sorted ascending by price
	orderMap map[uint64]*Order
}

// NewBook creates an empty order book. A nil sequencer gets a private one.
func NewBook(symbol string, tickSize float64, seq *Sequencer) *Book {
	if tickSize <= 0 {
		tickSize = 0.01
	}
	if seq == nil {
		seq = &Sequencer{}
	}
	return &Book{
		Symbol:   symbol,
		TickSize: tickSize,
		seq:      seq,
		orderMap: make(map[uint64]*Order),
	}
}

// Result describes the outcome of one placement.
type Result struct {
	Order    Order   // final state of the incoming order
	Fills    []Fill  // taker and maker fills, in execution order
	Filled   int64   // quantity executed by the incoming order
	VWAP     float64 // 0 when nothing filled
	Slippage float64 // adverse distance of VWAP from the pre-trade touch
	Rested   bool    // remainder added to the book
}

// Place validates and executes an order. Limit orders first trade against
// the opposite side while they cross, then rest. Market orders trade
// whatever depth exists and cancel the remainder; an empty opposite side
// yields a result with Filled == 0 and no error.
func (b *Book) Place(o *Order) (Result, error) {
	if o.Quantity <= 0 {
		return Result{}, ErrInvalidQuantity
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return Result{}, ErrInvalidSide
	}
	if o.Type == 0 {
		o.Type = TypeLimit
	}
	if o.Type == TypeLimit {
		if math.IsNaN(o.Price) || math.IsInf(o.Price, 0) || o.Price <= 0 {
			return Result{}, ErrInvalidPrice
		}
		o.Price = b.snap(o.Price)
		if o.Price <= 0 {
			return Result{}, ErrInvalidPrice
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.placeLocked(o), nil
}

// ExecuteMarket sends a market order and returns the execution summary.
func (b *Book) ExecuteMarket(side Side, qty int64, traderID string, isPlayer bool, ts int64) (Result, error) {
	return b.Place(&Order{
		Side:      side,
		Type:      TypeMarket,
		Quantity:  qty,
		TraderID:  traderID,
		IsPlayer:  isPlayer,
		Timestamp: ts,
	})
}

func (b *Book) placeLocked(o *Order) Result {
	if o.ID == 0 {
		o.ID = b.seq.NextOrderID()
	}
	o.Symbol = b.Symbol
	o.Filled = 0
	o.Status = StatusPending

	touch := b.touchLocked(o.Side.Opposite())
	fills, notional := b.match(o)

	res := Result{Fills: fills, Filled: o.Filled}
	if o.Filled > 0 {
		res.VWAP = notional / float64(o.Filled)
		if o.Side == SideBuy {
			res.Slippage = res.VWAP - touch
		} else {
			res.Slippage = touch - res.VWAP
		}
	}

	if o.Remaining() > 0 {
		if o.Type == TypeLimit {
			b.rest(o)
			res.Rested = true
		} else {
			o.Status = StatusCancelled
		}
	}
	res.Order = *o
	return res
}

// match walks the opposite side while o crosses it, filling at each resting
// order's price. Returns the fills and the executed notional.
func (b *Book) match(o *Order) ([]Fill, float64) {
	levels := &b.asks
	if o.Side == SideSell {
		levels = &b.bids
	}

	var fills []Fill
	notional := 0.0
	for o.Remaining() > 0 && len(*levels) > 0 {
		lvl := &(*levels)[0]
		if o.Type == TypeLimit && !crosses(o, lvl.Price) {
			break
		}
		for o.Remaining() > 0 && len(lvl.Orders) > 0 {
			resting := lvl.Orders[0]
			qty := min(o.Remaining(), resting.Remaining())
			resting.fill(qty)
			o.fill(qty)
			notional += float64(qty) * lvl.Price

			match := b.seq.NextMatchNumber()
			fills = append(fills,
				Fill{
					MatchID: match, OrderID: o.ID, CounterID: resting.ID, Symbol: b.Symbol,
					Side: o.Side, Price: lvl.Price, Quantity: qty, Timestamp: o.Timestamp,
					TraderID: o.TraderID, IsPlayer: o.IsPlayer, Synthetic: o.Synthetic,
				},
				Fill{
					MatchID: match, OrderID: resting.ID, CounterID: o.ID, Symbol: b.Symbol,
					Side: resting.Side, Price: lvl.Price, Quantity: qty, Timestamp: o.Timestamp,
					TraderID: resting.TraderID, IsPlayer: resting.IsPlayer, Maker: true, Synthetic: resting.Synthetic,
				},
			)

			if resting.Remaining() == 0 {
				delete(b.orderMap, resting.ID)
				lvl.Orders = lvl.Orders[1:]
			}
		}
		if len(lvl.Orders) == 0 {
			*levels = (*levels)[1:]
		}
	}
	return fills, notional
}

func crosses(o *Order, price float64) bool {
	if o.Side == SideBuy {
		return o.Price >= price
	}
	return o.Price <= price
}

// rest inserts a limit order into its side, keeping prices sorted and
// timestamps ascending within a level. Equal timestamps keep arrival order.
func (b *Book) rest(o *Order) {
	b.orderMap[o.ID] = o
	if o.Side == SideBuy {
		b.bids = addToSide(b.bids, o, true)
	} else {
		b.asks = addToSide(b.asks, o, false)
	}
}

// Cancel removes an active order. Returns false if the id is not resting.
func (b *Book) Cancel(orderID uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelLocked(orderID) != nil
}

func (b *Book) cancelLocked(orderID uint64) *Order {
	o, ok := b.orderMap[orderID]
	if !ok {
		return nil
	}
	delete(b.orderMap, orderID)
	if o.Side == SideBuy {
		b.bids = removeFromSide(b.bids, orderID)
	} else {
		b.asks = removeFromSide(b.asks, orderID)
	}
	o.Status = StatusCancelled
	return o
}

// CancelAll removes every resting order for which match returns true (all
// orders when match is nil) and returns copies of them.
func (b *Book) CancelAll(match func(*Order) bool) []Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelAllLocked(match)
}

func (b *Book) cancelAllLocked(match func(*Order) bool) []Order {
	var ids []uint64
	for id, o := range b.orderMap {
		if match == nil || match(o) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		if o := b.cancelLocked(id); o != nil {
			out = append(out, *o)
		}
	}
	return out
}

// ReplaceSynthetic cancels all synthetic liquidity and places the given
// orders through the matching path, so resting player orders that cross
// the new quotes trade against them. Returns the resulting fills.
func (b *Book) ReplaceSynthetic(orders []*Order) []Fill {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cancelAllLocked(func(o *Order) bool { return o.Synthetic })

	var fills []Fill
	for _, o := range orders {
		if o.Quantity <= 0 || o.Price <= 0 {
			continue
		}
		o.Synthetic = true
		o.Type = TypeLimit
		o.Price = b.snap(o.Price)
		res := b.placeLocked(o)
		fills = append(fills, res.Fills...)
	}
	return fills
}

// Order returns a copy of a resting order.
func (b *Book) Order(orderID uint64) (Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orderMap[orderID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Orders returns copies of all resting orders ordered by id (for persistence).
func (b *Book) Orders() []Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	orders := make([]Order, 0, len(b.orderMap))
	for _, o := range b.orderMap {
		orders = append(orders, *o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders
}

// OrdersFor returns the resting orders of one trader.
func (b *Book) OrdersFor(traderID string) []Order {
	var out []Order
	for _, o := range b.Orders() {
		if o.TraderID == traderID {
			out = append(out, o)
		}
	}
	return out
}

// Restore re-inserts persisted resting orders without matching. Orders
// that are terminal or have nothing left are skipped.
func (b *Book) Restore(orders []Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range orders {
		o := orders[i]
		if !o.Active() || o.Remaining() <= 0 {
			continue
		}
		if _, exists := b.orderMap[o.ID]; exists {
			continue
		}
		o.Symbol = b.Symbol
		b.rest(&o)
	}
}

// OrderCount returns the total number of resting orders.
func (b *Book) OrderCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.orderMap)
}

// BestBid returns the best bid price, or 0 if empty.
func (b *Book) BestBid() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.touchLocked(SideBuy)
}

// BestAsk returns the best ask price, or 0 if empty.
func (b *Book) BestAsk() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.touchLocked(SideSell)
}

// MidPrice returns the midpoint between best bid and best ask.
// Returns 0 if either side is empty.
func (b *Book) MidPrice() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, ask := b.touchLocked(SideBuy), b.touchLocked(SideSell)
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

func (b *Book) touchLocked(side Side) float64 {
	if side == SideBuy {
		if len(b.bids) == 0 {
			return 0
		}
		return b.bids[0].Price
	}
	if len(b.asks) == 0 {
		return 0
	}
	return b.asks[0].Price
}

// DepthLevel represents aggregated data at a single price level.
type DepthLevel struct {
	Price    float64 `json:"price"`
	Orders   int     `json:"orders"`
	Quantity int64   `json:"quantity"`
}

// DepthSnapshot is a point-in-time snapshot of the order book.
type DepthSnapshot struct {
	Symbol   string       `json:"symbol"`
	Bids     []DepthLevel `json:"bids"`
	Asks     []DepthLevel `json:"asks"`
	BestBid  float64      `json:"bestBid"`
	BestAsk  float64      `json:"bestAsk"`
	MidPrice float64      `json:"midPrice"`
	Spread   float64      `json:"spread"`
}

// Depth returns the top n levels per side; n <= 0 returns every level.
func (b *Book) Depth(n int) DepthSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := DepthSnapshot{
		Symbol: b.Symbol,
		Bids:   aggregate(b.bids, n),
		Asks:   aggregate(b.asks, n),
	}
	snap.BestBid = b.touchLocked(SideBuy)
	snap.BestAsk = b.touchLocked(SideSell)
	if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
		snap.Spread = snap.BestAsk - snap.BestBid
	}
	return snap
}

func aggregate(levels []PriceLevel, n int) []DepthLevel {
	if n <= 0 || n > len(levels) {
		n = len(levels)
	}
	out := make([]DepthLevel, 0, n)
	for _, lvl := range levels[:n] {
		var total int64
		for _, o := range lvl.Orders {
			total += o.Remaining()
		}
		out = append(out, DepthLevel{Price: lvl.Price, Orders: len(lvl.Orders), Quantity: total})
	}
	return out
}

// CheckInvariants verifies the structural invariants of the book: strictly
// sorted sides, ascending timestamps within a level, an uncrossed touch, and
// an order map that agrees with the levels.
func (b *Book) CheckInvariants() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[uint64]Side, len(b.orderMap))
	check := func(levels []PriceLevel, side Side, descending bool) error {
		for i, lvl := range levels {
			if len(lvl.Orders) == 0 {
				return fmt.Errorf("%s level %v is empty", side, lvl.Price)
			}
			if i > 0 {
				prev := levels[i-1].Price
				if descending && !(prev > lvl.Price) || !descending && !(prev < lvl.Price) {
					return fmt.Errorf("%s levels out of order: %v then %v", side, prev, lvl.Price)
				}
			}
			for j, o := range lvl.Orders {
				if o.Price != lvl.Price || o.Side != side {
					return fmt.Errorf("order %d misplaced on %s level %v", o.ID, side, lvl.Price)
				}
				if j > 0 && lvl.Orders[j-1].Timestamp > o.Timestamp {
					return fmt.Errorf("order %d breaks time priority at %v", o.ID, lvl.Price)
				}
				if o.Filled > o.Quantity || o.Remaining() <= 0 {
					return fmt.Errorf("order %d has filled %d of %d", o.ID, o.Filled, o.Quantity)
				}
				if _, dup := seen[o.ID]; dup {
					return fmt.Errorf("order %d appears twice", o.ID)
				}
				seen[o.ID] = side
				if b.orderMap[o.ID] != o {
					return fmt.Errorf("order %d missing from index", o.ID)
				}
			}
		}
		return nil
	}
	if err := check(b.bids, SideBuy, true); err != nil {
		return err
	}
	if err := check(b.asks, SideSell, false); err != nil {
		return err
	}
	if len(seen) != len(b.orderMap) {
		return fmt.Errorf("index holds %d orders, levels hold %d", len(b.orderMap), len(seen))
	}
	if bid, ask := b.touchLocked(SideBuy), b.touchLocked(SideSell); bid > 0 && ask > 0 && bid >= ask {
		return fmt.Errorf("crossed book: bid %v >= ask %v", bid, ask)
	}
	return nil
}

// snap rounds p to the tick grid. Dividing by the inverse tick yields the
// same float for equal decimal prices, which level lookup relies on.
func (b *Book) snap(p float64) float64 {
	inv := math.Round(1 / b.TickSize)
	if inv < 1 {
		return math.Round(p/b.TickSize) * b.TickSize
	}
	return math.Round(p*inv) / inv
}

// --- helpers ---

func addToSide(levels []PriceLevel, o *Order, descending bool) []PriceLevel {
	i := sort.Search(len(levels), func(i int) bool {
		if descending {
			return levels[i].Price <= o.Price
		}
		return levels[i].Price >= o.Price
	})

	if i < len(levels) && levels[i].Price == o.Price {
		orders := levels[i].Orders
		j := sort.Search(len(orders), func(j int) bool { return orders[j].Timestamp > o.Timestamp })
		orders = append(orders, nil)
		copy(orders[j+1:], orders[j:])
		orders[j] = o
		levels[i].Orders = orders
		return levels
	}

	levels = append(levels, PriceLevel{})
	copy(levels[i+1:], levels[i:])
	levels[i] = PriceLevel{Price: o.Price, Orders: []*Order{o}}
	return levels
}

func removeFromSide(levels []PriceLevel, orderID uint64) []PriceLevel {
	for i := range levels {
		for j := range levels[i].Orders {
			if levels[i].Orders[j].ID == orderID {
				levels[i].Orders = append(levels[i].Orders[:j], levels[i].Orders[j+1:]...)
				if len(levels[i].Orders) == 0 {
					levels = append(levels[:i], levels[i+1:]...)
				}
				return levels
			}
		}
	}
	return levels
}
