// Package persist stores market snapshots, positions and the fill log.
// MongoDB is the service backend; SQLite serves embedded and offline runs.
package persist

import (
	"context"
	"errors"
	"time"

	"github.com/ndrandal/harvest-exchange/internal/market"
	"github.com/ndrandal/harvest-exchange/internal/orderbook"
	"github.com/ndrandal/harvest-exchange/internal/position"
)

// ErrNoState is returned by LoadState when nothing has been saved yet.
var ErrNoState = errors.New("no persisted state")

// State is one saved point of the simulation.
type State struct {
	Market    market.Snapshot     `json:"market"`
	Positions []position.Position `json:"positions"`
	SavedAt   time.Time           `json:"savedAt"`
}

// FillRecord is a persisted fill. Day is the simulated day of execution;
// ExecutedAt is the wall time it was recorded, used for retention.
type FillRecord struct {
	orderbook.Fill `bson:",inline"`
	Day            int       `json:"day" bson:"day"`
	ExecutedAt     time.Time `json:"executedAt" bson:"executed_at"`
}

// FillFilter controls which fills to return. Results are newest first.
type FillFilter struct {
	Symbol   string
	TraderID string
	Limit    int
	Offset   int
	From     *time.Time
	To       *time.Time
}

func (f *FillFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return 100
	}
	return f.Limit
}

// Candle is one simulated day of taker executions.
type Candle struct {
	Day    int     `json:"day"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume int64   `json:"v"`
	Count  int64   `json:"n"`
}

// FillStats counts executions. Only the taker side is counted, so each
// match is counted once.
type FillStats struct {
	TotalFills  int64 `json:"totalFills"`
	TotalVolume int64 `json:"totalVolume"`
}

// FillReader abstracts the read-only fill queries served by the API.
type FillReader interface {
	QueryFills(ctx context.Context, f FillFilter) ([]FillRecord, error)
	QueryCandles(ctx context.Context, symbol string, limit int) ([]Candle, error)
	QueryFillStats(ctx context.Context) (FillStats, error)
}

// FillPruner deletes fills recorded before a cutoff.
type FillPruner interface {
	PruneFills(ctx context.Context, before time.Time) (int64, error)
}

// Store is a complete persistence backend.
type Store interface {
	FillReader
	FillPruner
	Migrate(ctx context.Context) error
	SaveState(ctx context.Context, s State) error
	LoadState(ctx context.Context) (State, error)
	SaveFills(ctx context.Context, day int, fills []orderbook.Fill) error
	Close(ctx context.Context) error
}

func records(day int, fills []orderbook.Fill, now time.Time) []FillRecord {
	out := make([]FillRecord, len(fills))
	for i, f := range fills {
		out[i] = FillRecord{Fill: f, Day: day, ExecutedAt: now}
	}
	return out
}
