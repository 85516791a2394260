package orderbook

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidPrice    = errors.New("limit price must be positive")
	ErrInvalidSide     = errors.New("side must be buy or sell")
	ErrOrderNotFound   = errors.New("order not found")
)

// Side represents bid or ask.
type Side byte

const (
	SideBuy  Side = 'B'
	SideSell Side = 'S'
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() int64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// ParseSide accepts "buy"/"sell" or "B"/"S".
func ParseSide(v string) (Side, error) {
	switch v {
	case "buy", "BUY", "B", "b":
		return SideBuy, nil
	case "sell", "SELL", "S", "s":
		return SideSell, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSide, v)
}

// Type is the order type.
type Type byte

const (
	TypeLimit  Type = 'L'
	TypeMarket Type = 'M'
)

func (t Type) String() string {
	if t == TypeMarket {
		return "market"
	}
	return "limit"
}

// ParseType accepts "limit" or "market"; empty means limit.
func ParseType(v string) (Type, error) {
	switch v {
	case "", "limit", "LIMIT":
		return TypeLimit, nil
	case "market", "MARKET":
		return TypeMarket, nil
	}
	return 0, fmt.Errorf("unknown order type %q", v)
}

// Status is the lifecycle state of an order. Filled and Cancelled are
// terminal.
type Status byte

const (
	StatusPending Status = iota
	StatusPartial
	StatusFilled
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusPartial:
		return "partial"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Order is a single order. Filled never exceeds Quantity.
type Order struct {
	ID        uint64  `json:"id" bson:"id"`
	Symbol    string  `json:"symbol" bson:"symbol"`
	Side      Side    `json:"side" bson:"side"`
	Type      Type    `json:"type" bson:"type"`
	Price     float64 `json:"price" bson:"price"`
	Quantity  int64   `json:"quantity" bson:"quantity"`
	Filled    int64   `json:"filled" bson:"filled"`
	Status    Status  `json:"status" bson:"status"`
	Timestamp int64   `json:"timestamp" bson:"timestamp"`
	TraderID  string  `json:"traderId" bson:"traderId"`
	IsPlayer  bool    `json:"isPlayer" bson:"isPlayer"`
	Synthetic bool    `json:"synthetic" bson:"synthetic"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() int64 {
	return o.Quantity - o.Filled
}

// Active reports whether the order can still trade.
func (o *Order) Active() bool {
	return o.Status == StatusPending || o.Status == StatusPartial
}

func (o *Order) fill(qty int64) {
	o.Filled += qty
	if o.Filled >= o.Quantity {
		o.Filled = o.Quantity
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartial
	}
}

// Fill is emitted for each side of every execution.
type Fill struct {
	MatchID   uint64  `json:"matchId" bson:"matchId"`
	OrderID   uint64  `json:"orderId" bson:"orderId"`
	CounterID uint64  `json:"counterId" bson:"counterId"`
	Symbol    string  `json:"symbol" bson:"symbol"`
	Side      Side    `json:"side" bson:"side"`
	Price     float64 `json:"price" bson:"price"`
	Quantity  int64   `json:"quantity" bson:"quantity"`
	Timestamp int64   `json:"timestamp" bson:"timestamp"`
	TraderID  string  `json:"traderId" bson:"traderId"`
	IsPlayer  bool    `json:"isPlayer" bson:"isPlayer"`
	Maker     bool    `json:"maker" bson:"maker"`
	Synthetic bool    `json:"synthetic" bson:"synthetic"`
}

// Signed returns quantity with the fill side's sign.
func (f Fill) Signed() int64 {
	return f.Quantity * f.Side.Sign()
}

// Sequencer hands out order ids and match numbers. One sequencer is shared
// by every book in a market so ids are unique across symbols.
type Sequencer struct {
	orders  atomic.Uint64
	matches atomic.Uint64
}

// NextOrderID returns a unique order reference number.
func (s *Sequencer) NextOrderID() uint64 {
	return s.orders.Add(1)
}

// SetOrderIDCounter sets the counter (for restoring from persistence).
func (s *Sequencer) SetOrderIDCounter(val uint64) {
	s.orders.Store(val)
}

// OrderIDCounter returns the current counter value for persistence.
func (s *Sequencer) OrderIDCounter() uint64 {
	return s.orders.Load()
}

// NextMatchNumber returns a unique trade match number.
func (s *Sequencer) NextMatchNumber() uint64 {
	return s.matches.Add(1)
}

// SetMatchCounter sets the match counter (for restoring from persistence).
func (s *Sequencer) SetMatchCounter(val uint64) {
	s.matches.Store(val)
}

// MatchCounter returns the current match counter for persistence.
func (s *Sequencer) MatchCounter() uint64 {
	return s.matches.Load()
}
