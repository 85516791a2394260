package market

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndrandal/harvest-exchange/internal/commodity"
	"github.com/ndrandal/harvest-exchange/internal/engine"
	"github.com/ndrandal/harvest-exchange/internal/news"
	"github.com/ndrandal/harvest-exchange/internal/orderbook"
	"github.com/ndrandal/harvest-exchange/internal/scenario"
)

const testTicksPerDay = 8

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TicksPerDay = testTicksPerDay
	cfg.NewsCheckInterval = 2
	cfg.NewsMinInterval = 4
	return cfg
}

func newTestMarket(t *testing.T, seed int64) (*Market, *SimClock) {
	t.Helper()
	m := New(testConfig(), commodity.Defaults(), news.DefaultLibrary(), engine.NewRNG(seed), quietLogger())
	return m, NewSimClock(testTicksPerDay, 1)
}

func run(m *Market, c *SimClock, ticks int) []TickReport {
	out := make([]TickReport, 0, ticks)
	for i := 0; i < ticks; i++ {
		out = append(out, m.Step(c.Advance()))
	}
	return out
}

func TestSameSeedSameMarket(t *testing.T) {
	a, ca := newTestMarket(t, 42)
	b, cb := newTestMarket(t, 42)
	ra := run(a, ca, 3*testTicksPerDay)
	rb := run(b, cb, 3*testTicksPerDay)
	for i := range ra {
		require.Equal(t, ra[i].Quotes, rb[i].Quotes, "tick %d", i+1)
		require.Equal(t, ra[i].News, rb[i].News, "tick %d", i+1)
	}
}

func TestFirstStepListsSeason(t *testing.T) {
	m, c := newTestMarket(t, 1)
	assert.False(t, m.Started())
	_, err := m.PlaceOrder(OrderRequest{Symbol: "PARSNIP-SPR-28", Side: orderbook.SideBuy, Type: orderbook.TypeMarket, Quantity: 1})
	assert.ErrorIs(t, err, ErrMarketClosed)

	rep := m.Step(c.Advance())
	assert.True(t, rep.SeasonStarted)
	assert.True(t, rep.DayStarted)
	assert.Len(t, rep.Quotes, len(commodity.Defaults()))
	assert.Contains(t, m.Symbols(), "PARSNIP-SPR-28")

	q, err := m.Quote("PARSNIP-SPR-28")
	require.NoError(t, err)
	assert.Equal(t, 28, q.DeliveryDay)
	assert.Equal(t, commodity.KindFuture, q.Kind)
	assert.Greater(t, q.BestAsk, q.BestBid)
	assert.Greater(t, q.BestBid, 0.0)
}

func TestShadowClosesOnTarget(t *testing.T) {
	m, c := newTestMarket(t, 7)
	reports := run(m, c, 2*testTicksPerDay)
	for _, day := range []int{testTicksPerDay, 2 * testTicksPerDay} {
		for _, q := range reports[day-1].Quotes {
			assert.Equal(t, 1.0, q.DayProgress)
			assert.Equal(t, q.Target, q.Shadow, "%s day close", q.Symbol)
		}
	}
	// the next day opens on the previous close
	prevClose := map[string]float64{}
	for _, q := range reports[2*testTicksPerDay-1].Quotes {
		prevClose[q.Symbol] = q.Shadow
	}
	rep := m.Step(c.Advance())
	require.True(t, rep.DayStarted)
	for _, q := range rep.Quotes {
		assert.Equal(t, prevClose[q.Symbol], q.Open, q.Symbol)
	}
}

func TestDeliveryAndRollover(t *testing.T) {
	m, c := newTestMarket(t, 3)
	ticks := commodity.DaysPerSeason * testTicksPerDay
	reports := run(m, c, ticks)

	last := reports[ticks-1]
	for _, q := range last.Quotes {
		assert.Equal(t, 28, q.Day)
		assert.InDelta(t, q.Fundamental, q.Shadow, 1e-9, "%s closes on value at delivery", q.Symbol)
	}

	rep := m.Step(c.Advance())
	assert.True(t, rep.SeasonStarted)
	assert.Len(t, rep.Deliveries, len(commodity.Defaults()))
	for _, d := range rep.Deliveries {
		assert.Greater(t, d.Price, 0.0)
	}
	assert.Contains(t, m.Symbols(), "PARSNIP-SUM-28")
	assert.NotContains(t, m.Symbols(), "PARSNIP-SPR-28")

	_, err := m.Quote("PARSNIP-SPR-28")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
	q, err := m.Quote("PARSNIP-SUM-28")
	require.NoError(t, err)
	assert.Equal(t, 56, q.DeliveryDay)
	assert.Equal(t, commodity.Summer, q.Season)
}

func TestPlayerOrderMovesPrice(t *testing.T) {
	m, c := newTestMarket(t, 11)
	run(m, c, 2)
	before, err := m.Quote("PARSNIP-SPR-28")
	require.NoError(t, err)

	res, err := m.PlaceOrder(OrderRequest{
		Symbol: "PARSNIP-SPR-28", Side: orderbook.SideBuy, Type: orderbook.TypeMarket,
		Quantity: 200, TraderID: "player", IsPlayer: true,
	})
	require.NoError(t, err)
	require.Equal(t, int64(200), res.Filled)
	assert.GreaterOrEqual(t, res.VWAP, before.BestAsk)

	after, err := m.Quote("PARSNIP-SPR-28")
	require.NoError(t, err)
	assert.InDelta(t, before.Impact+200*0.002, after.Impact, 1e-9)
	assert.Greater(t, after.Spot, before.Spot)
	assert.Equal(t, before.Shadow, after.Shadow, "trades never move the shadow price")
}

func TestOrderErrors(t *testing.T) {
	m, c := newTestMarket(t, 5)
	run(m, c, 1)

	_, err := m.PlaceOrder(OrderRequest{Symbol: "NOPE", Side: orderbook.SideBuy, Quantity: 1, Price: 1})
	assert.ErrorIs(t, err, ErrUnknownSymbol)

	_, err = m.PlaceOrder(OrderRequest{Symbol: "PARSNIP-SPR-28", Side: orderbook.SideBuy, Type: orderbook.TypeLimit, Quantity: 0, Price: 1})
	assert.ErrorIs(t, err, orderbook.ErrInvalidQuantity)

	_, err = m.PlaceOrder(OrderRequest{Symbol: "PARSNIP-SPR-28", Side: orderbook.SideBuy, Type: orderbook.TypeLimit, Quantity: 1, Price: -3})
	assert.ErrorIs(t, err, orderbook.ErrInvalidPrice)

	assert.ErrorIs(t, m.CancelOrder("PARSNIP-SPR-28", 999999), orderbook.ErrOrderNotFound)
	assert.ErrorIs(t, m.CancelOrder("NOPE", 1), ErrUnknownSymbol)
}

func TestRestingOrderCancel(t *testing.T) {
	m, c := newTestMarket(t, 5)
	run(m, c, 1)
	q, _ := m.Quote("PARSNIP-SPR-28")

	res, err := m.PlaceOrder(OrderRequest{
		Symbol: "PARSNIP-SPR-28", Side: orderbook.SideBuy, Type: orderbook.TypeLimit,
		Quantity: 5, Price: q.Spot * 0.5, TraderID: "player", IsPlayer: true,
	})
	require.NoError(t, err)
	require.True(t, res.Rested)

	orders, err := m.Orders("PARSNIP-SPR-28", "player")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.NoError(t, m.CancelOrder("PARSNIP-SPR-28", res.Order.ID))
	orders, _ = m.Orders("PARSNIP-SPR-28", "player")
	assert.Empty(t, orders)
}

func TestPausedStepIsNoop(t *testing.T) {
	m, c := newTestMarket(t, 9)
	run(m, c, 3)
	before := m.Quotes()
	c.SetPaused(true)
	rep := m.Step(c.Advance())
	assert.True(t, rep.Paused)
	assert.Equal(t, int64(3), m.Tick())
	assert.Equal(t, before, m.Quotes())
}

func TestClockBackwardsHoldsDay(t *testing.T) {
	m, c := newTestMarket(t, 9)
	run(m, c, 2*testTicksPerDay+1)
	rep := m.Step(TimeAt(1, 0.5))
	assert.False(t, rep.DayStarted)
	for _, q := range rep.Quotes {
		assert.Equal(t, 3, q.Day)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	a, ca := newTestMarket(t, 21)
	run(a, ca, 30)
	_, err := a.PlaceOrder(OrderRequest{
		Symbol: "PARSNIP-SPR-28", Side: orderbook.SideSell, Type: orderbook.TypeMarket,
		Quantity: 50, TraderID: "player", IsPlayer: true,
	})
	require.NoError(t, err)

	raw, err := json.Marshal(a.Snapshot())
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))

	b := New(testConfig(), commodity.Defaults(), news.DefaultLibrary(), engine.NewRNG(999), quietLogger())
	require.NoError(t, b.Restore(snap))
	cb := NewSimClock(testTicksPerDay, 1)
	cb.SetTick(ca.Tick())

	assert.Equal(t, a.Quotes(), b.Quotes())
	assert.Equal(t, a.Scenario(), b.Scenario())

	ra := run(a, ca, 3*testTicksPerDay)
	rb := run(b, cb, 3*testTicksPerDay)
	for i := range ra {
		require.Equal(t, ra[i].Quotes, rb[i].Quotes, "tick %d after restore", i+1)
		require.Equal(t, ra[i].Fills, rb[i].Fills, "tick %d after restore", i+1)
	}
}

func TestRestoreRejectsUnknownCommodity(t *testing.T) {
	m, c := newTestMarket(t, 1)
	run(m, c, 1)
	snap := m.Snapshot()
	snap.Instruments[0].Info.CommodityID = "dragonfruit"
	assert.Error(t, m.Restore(snap))

	snap.Version = 0
	assert.Error(t, m.Restore(snap))
}

func TestCarryTracksDelivery(t *testing.T) {
	m, c := newTestMarket(t, 13)
	rep := run(m, c, 1)[0]
	for _, q := range rep.Quotes {
		assert.Greater(t, q.Futures, 0.0)
		// 27 days out: r + storage dominate unless a convenience boost applies
		assert.InDelta(t, q.Spot, q.Futures, q.Spot*0.05, q.Symbol)
	}
}

func TestForcedScenario(t *testing.T) {
	m, c := newTestMarket(t, 1)
	run(m, c, 1)
	m.SetScenario(scenario.ShortSqueeze)
	rep := m.Step(c.Advance())
	assert.Equal(t, scenario.ShortSqueeze, rep.Scenario.Kind)
}
