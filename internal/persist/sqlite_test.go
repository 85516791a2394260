package persist

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndrandal/harvest-exchange/internal/commodity"
	"github.com/ndrandal/harvest-exchange/internal/engine"
	"github.com/ndrandal/harvest-exchange/internal/market"
	"github.com/ndrandal/harvest-exchange/internal/news"
	"github.com/ndrandal/harvest-exchange/internal/orderbook"
	"github.com/ndrandal/harvest-exchange/internal/position"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:", quiet())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleFills() []orderbook.Fill {
	return []orderbook.Fill{
		{MatchID: 1, OrderID: 10, CounterID: 11, Symbol: "PARSNIP-SPR-28", Side: orderbook.SideBuy, Price: 35.1, Quantity: 5, Timestamp: 3, TraderID: "p1", IsPlayer: true},
		{MatchID: 1, OrderID: 11, CounterID: 10, Symbol: "PARSNIP-SPR-28", Side: orderbook.SideSell, Price: 35.1, Quantity: 5, Timestamp: 3, TraderID: "npc:COOP", Maker: true, Synthetic: true},
		{MatchID: 2, OrderID: 12, CounterID: 13, Symbol: "PARSNIP-SPR-28", Side: orderbook.SideBuy, Price: 35.4, Quantity: 2, Timestamp: 4, TraderID: "p1", IsPlayer: true},
		{MatchID: 2, OrderID: 13, CounterID: 12, Symbol: "PARSNIP-SPR-28", Side: orderbook.SideSell, Price: 35.4, Quantity: 2, Timestamp: 4, TraderID: "npc:GUILD", Maker: true, Synthetic: true},
	}
}

func TestSQLiteLoadEmpty(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadState(context.Background())
	assert.ErrorIs(t, err, ErrNoState)
}

func TestSQLiteFillLog(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	s.now = func() time.Time { return time.Unix(1000, 0) }

	require.NoError(t, s.SaveFills(ctx, 1, sampleFills()))
	require.NoError(t, s.SaveFills(ctx, 1, sampleFills()), "duplicates ignored")

	all, err := s.QueryFills(ctx, FillFilter{Symbol: "PARSNIP-SPR-28"})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, uint64(2), all[0].MatchID, "newest first")
	assert.Equal(t, sampleFills()[3], all[0].Fill)
	assert.Equal(t, 1, all[0].Day)
	assert.Equal(t, time.Unix(1000, 0), all[0].ExecutedAt)

	mine, err := s.QueryFills(ctx, FillFilter{TraderID: "p1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, uint64(10), mine[0].OrderID)

	stats, err := s.QueryFillStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, FillStats{TotalFills: 2, TotalVolume: 7}, stats)

	candles, err := s.QueryCandles(ctx, "PARSNIP-SPR-28", 10)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, Candle{Day: 1, Open: 35.1, High: 35.4, Low: 35.1, Close: 35.4, Volume: 7, Count: 2}, candles[0])
}

func TestSQLitePrune(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	s.now = func() time.Time { return time.Unix(1000, 0) }
	require.NoError(t, s.SaveFills(ctx, 1, sampleFills()[:2]))
	s.now = func() time.Time { return time.Unix(5000, 0) }
	require.NoError(t, s.SaveFills(ctx, 2, sampleFills()[2:]))

	n, err := s.PruneFills(ctx, time.Unix(2000, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	left, _ := s.QueryFills(ctx, FillFilter{})
	assert.Len(t, left, 2)
}

func TestSnapshotterRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	m := market.New(market.DefaultConfig(), commodity.Defaults(), news.DefaultLibrary(), engine.NewRNG(42), quiet())
	clock := market.NewSimClock(m.Config().TicksPerDay, 1)
	for i := 0; i < 20; i++ {
		m.Step(clock.Advance())
	}
	ledger := position.NewLedger(decimal.NewFromInt(500))
	res, err := m.PlaceOrder(market.OrderRequest{Symbol: "PARSNIP-SPR-28", Side: orderbook.SideBuy, Type: orderbook.TypeMarket, Quantity: 10, TraderID: "p1", IsPlayer: true})
	require.NoError(t, err)
	ledger.Apply(res.Fills)

	snap := NewSnapshotter(s, m, ledger, quiet())
	require.NoError(t, snap.Save(ctx))

	m2 := market.New(market.DefaultConfig(), commodity.Defaults(), news.DefaultLibrary(), engine.NewRNG(1), quiet())
	ledger2 := position.NewLedger(decimal.NewFromInt(500))
	ok, err := NewSnapshotter(s, m2, ledger2, quiet()).Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, m.Quotes(), m2.Quotes())
	assertSamePositions(t, ledger.Positions("p1"), ledger2.Positions("p1"))
}

func assertSamePositions(t *testing.T, want, got []position.Position) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Symbol, got[i].Symbol)
		assert.Equal(t, want[i].Quantity, got[i].Quantity)
		assert.True(t, want[i].AvgCost.Equal(got[i].AvgCost), "avg cost %s vs %s", want[i].AvgCost, got[i].AvgCost)
		assert.True(t, want[i].Realized.Equal(got[i].Realized))
	}
}

func TestSnapshotterFreshStart(t *testing.T) {
	s := openTestStore(t)
	m := market.New(market.DefaultConfig(), commodity.Defaults(), nil, engine.NewRNG(1), quiet())
	ok, err := NewSnapshotter(s, m, nil, quiet()).Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

type countingPruner struct{ calls int }

func (p *countingPruner) PruneFills(context.Context, time.Time) (int64, error) {
	p.calls++
	return 0, nil
}

func TestRetentionDisabledReturns(t *testing.T) {
	p := &countingPruner{}
	RunRetention(context.Background(), p, 0, time.Hour, quiet())
	assert.Zero(t, p.calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	RunRetention(ctx, p, 7, time.Hour, quiet())
	assert.Equal(t, 1, p.calls, "prunes once at startup")
}
