package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ndrandal/harvest-exchange/internal/market"
	"github.com/ndrandal/harvest-exchange/internal/orderbook"
	"github.com/ndrandal/harvest-exchange/internal/position"
)

// MarketState is the part of the market the snapshotter saves and restores.
type MarketState interface {
	Snapshot() market.Snapshot
	Restore(market.Snapshot) error
}

// PositionBook is the part of the ledger the snapshotter saves and restores.
type PositionBook interface {
	All() []position.Position
	Restore([]position.Position)
}

// Snapshotter manages periodic persistence of the simulation.
type Snapshotter struct {
	store  Store
	market MarketState
	ledger PositionBook
	logger *slog.Logger
}

// NewSnapshotter creates a snapshotter. ledger may be nil.
func NewSnapshotter(store Store, m MarketState, ledger PositionBook, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshotter{store: store, market: m, ledger: ledger, logger: logger}
}

// Run saves every interval until ctx is cancelled, then saves once more.
func (s *Snapshotter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("performing final snapshot")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.Save(shutdownCtx); err != nil {
				s.logger.Error("final snapshot failed", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := s.Save(ctx); err != nil {
				s.logger.Error("snapshot failed", "error", err)
			}
		}
	}
}

// Save persists the current market and ledger.
func (s *Snapshotter) Save(ctx context.Context) error {
	start := time.Now()
	st := State{Market: s.market.Snapshot(), SavedAt: start}
	if s.ledger != nil {
		st.Positions = s.ledger.All()
	}
	if err := s.store.SaveState(ctx, st); err != nil {
		return err
	}
	s.logger.Info("snapshot saved", "tick", st.Market.Tick, "day", st.Market.Day,
		"instruments", len(st.Market.Instruments), "positions", len(st.Positions), "took", time.Since(start))
	return nil
}

// Load restores the last saved state. Returns false for a fresh start.
func (s *Snapshotter) Load(ctx context.Context) (bool, error) {
	st, err := s.store.LoadState(ctx)
	if errors.Is(err, ErrNoState) {
		s.logger.Info("no persisted state found, starting fresh")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.market.Restore(st.Market); err != nil {
		return false, fmt.Errorf("restore market: %w", err)
	}
	if s.ledger != nil {
		s.ledger.Restore(st.Positions)
	}
	s.logger.Info("restored state", "tick", st.Market.Tick, "day", st.Market.Day,
		"positions", len(st.Positions), "saved_at", st.SavedAt)
	return true, nil
}

// RecordFills appends one tick's fills to the log.
func (s *Snapshotter) RecordFills(ctx context.Context, day int, fills []orderbook.Fill) error {
	return s.store.SaveFills(ctx, day, fills)
}
