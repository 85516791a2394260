package impact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndrandal/harvest-exchange/internal/scenario"
)

func TestDecayWithoutAgents(t *testing.T) {
	e := NewEngine(DefaultConfig())
	s := e.NewState()
	e.RecordPlayerTrade(s, 10, 1)
	require.Equal(t, 10.0, s.Current())

	prev := s.Current()
	for i := 0; i < 10; i++ {
		e.Update(s, 100, 100, scenario.Params{})
		assert.InDelta(t, prev*0.95, s.Current(), 1e-12)
		prev = s.Current()
	}
	for i := 0; i < 1000; i++ {
		e.Update(s, 100, 100, scenario.Params{})
	}
	assert.InDelta(t, 0, s.Current(), 1e-12)
}

func TestClampHoldsUnderRepeatedTrades(t *testing.T) {
	e := NewEngine(DefaultConfig())
	s := e.NewState()
	for i := 0; i < 100; i++ {
		e.RecordPlayerTrade(s, 10000, 1)
		assert.LessOrEqual(t, s.Current(), DefaultMaxImpact)
	}
	for i := 0; i < 100; i++ {
		e.RecordPlayerTrade(s, -10000, 1)
		e.Update(s, 50, 50, scenario.ParamsFor(scenario.PanicSelling))
		assert.GreaterOrEqual(t, s.Current(), -DefaultMaxImpact)
	}
}

func TestRecordPlayerTradeReturnsAppliedDelta(t *testing.T) {
	e := NewEngine(Config{DecayRate: 0.9, MaxImpact: 5, Window: 10})
	s := e.NewState()
	assert.Equal(t, 3.0, e.RecordPlayerTrade(s, 300, 0.01))
	assert.Equal(t, 2.0, e.RecordPlayerTrade(s, 300, 0.01), "clamped at 5")
	assert.Equal(t, -1.0, e.RecordPlayerTrade(s, -100, 0.01))
}

func TestSmartMoneyPullsTowardFundamental(t *testing.T) {
	e := NewEngine(DefaultConfig())
	s := e.NewState()
	d := e.Update(s, 100, 110, scenario.Params{SmartMoney: 0.1})
	assert.InDelta(t, 1.0, d.Smart, 1e-12)
	assert.InDelta(t, 1.0, s.Current(), 1e-12)

	// negative strength pushes away from value
	s = e.NewState()
	d = e.Update(s, 100, 110, scenario.Params{SmartMoney: -0.05})
	assert.Less(t, d.Smart, 0.0)
}

func TestTrendNeedsHistory(t *testing.T) {
	e := NewEngine(DefaultConfig())
	s := e.NewState()
	p := scenario.Params{TrendFollower: 1}
	for i := 0; i < MinTrendSamples; i++ {
		d := e.Update(s, 100+float64(i), 0, p)
		assert.Zero(t, d.Trend, "tick %d", i)
	}
	d := e.Update(s, 200, 0, p)
	assert.Equal(t, 1.0, d.Trend)

	d = e.Update(s, 1, 0, p)
	assert.Equal(t, -1.0, d.Trend)
}

func TestFOMOAsymmetry(t *testing.T) {
	e := NewEngine(DefaultConfig())
	p := scenario.Params{FOMO: 0.5, AsymmetricDown: 2}

	up := e.NewState()
	e.RecordPlayerTrade(up, 4, 1)
	d := e.Update(up, 100, 100, p)
	assert.InDelta(t, 2.0, d.FOMO, 1e-12)
	assert.InDelta(t, 5.8, up.Current(), 1e-12)

	// without new trades momentum is the last tick's change
	d = e.Update(up, 100, 100, p)
	assert.InDelta(t, 0.5*(5.8-4), d.FOMO, 1e-12)

	down := e.NewState()
	e.RecordPlayerTrade(down, -4, 1)
	d = e.Update(down, 100, 100, p)
	assert.InDelta(t, -4.0, d.FOMO, 1e-12)
	assert.InDelta(t, -7.8, down.Current(), 1e-12)
}

func TestHistoryBounded(t *testing.T) {
	e := NewEngine(Config{Window: 3})
	s := e.NewState()
	for i := 1; i <= 10; i++ {
		e.Update(s, float64(i), float64(i), scenario.Params{})
	}
	prices, impacts := s.History()
	assert.Equal(t, []float64{8, 9, 10}, prices)
	assert.Len(t, impacts, 3)
}

func TestSnapshotRestore(t *testing.T) {
	e := NewEngine(DefaultConfig())
	s := e.NewState()
	p := scenario.ParamsFor(scenario.IrrationalExuberance)
	for i := 0; i < 30; i++ {
		if i%7 == 0 {
			e.RecordPlayerTrade(s, 50, 0.05)
		}
		e.Update(s, 35+float64(i%5), 36, p)
	}
	restored := e.RestoreState(s.Snapshot())
	for i := 0; i < 10; i++ {
		a := e.Update(s, 40, 36, p)
		b := e.Update(restored, 40, 36, p)
		require.Equal(t, a, b, "tick %d diverged", i)
	}
}

func TestReset(t *testing.T) {
	e := NewEngine(DefaultConfig())
	s := e.NewState()
	e.RecordPlayerTrade(s, 10, 1)
	e.Update(s, 1, 1, scenario.Params{})
	e.Reset(s)
	assert.Zero(t, s.Current())
	prices, _ := s.History()
	assert.Empty(t, prices)
}

func TestInvalidConfigFallsBack(t *testing.T) {
	e := NewEngine(Config{DecayRate: 2, MaxImpact: -1, Window: 0})
	assert.Equal(t, DefaultConfig(), e.Config())
}
