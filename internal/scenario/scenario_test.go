package scenario

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndrandal/harvest-exchange/internal/engine"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestKindString(t *testing.T) {
	cases := []struct {
		kind Kind
		want string
	}{
		{DeadMarket, "dead_market"},
		{IrrationalExuberance, "irrational_exuberance"},
		{PanicSelling, "panic_selling"},
		{ShortSqueeze, "short_squeeze"},
		{Kind(99), "unknown"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.kind.String())
		if c.want != "unknown" {
			k, err := ParseKind(c.want)
			require.NoError(t, err)
			assert.Equal(t, c.kind, k)
		}
	}
	_, err := ParseKind("bull")
	assert.Error(t, err)
}

func TestArchetypeParams(t *testing.T) {
	dead := ParamsFor(DeadMarket)
	assert.Zero(t, dead.FOMO)
	for _, k := range []Kind{IrrationalExuberance, PanicSelling, ShortSqueeze} {
		assert.Greater(t, dead.SmartMoney, ParamsFor(k).SmartMoney, k.String())
	}
	assert.Negative(t, ParamsFor(ShortSqueeze).SmartMoney)
	assert.Greater(t, ParamsFor(PanicSelling).AsymmetricDown, 1.0)
	assert.Less(t, ParamsFor(PanicSelling).BidSkew, ParamsFor(PanicSelling).AskSkew)
	assert.Equal(t, DeadMarket, ParamsFor(Kind(42)).Kind)
}

func TestNeverSwitchesAtZero(t *testing.T) {
	m := NewManager(engine.NewRNG(42), 0, quiet())
	start := m.Current().Kind
	for i := 0; i < 500; i++ {
		assert.False(t, m.AdvanceDay())
	}
	assert.Equal(t, start, m.Current().Kind)
}

func TestAlwaysSwitchesToDifferentState(t *testing.T) {
	m := NewManager(engine.NewRNG(42), 1, quiet())
	seen := map[Kind]bool{}
	for i := 0; i < 400; i++ {
		prev := m.Current().Kind
		require.True(t, m.AdvanceDay())
		cur := m.Current().Kind
		assert.NotEqual(t, prev, cur)
		seen[cur] = true
	}
	assert.Len(t, seen, 4)
}

func TestSwitchRate(t *testing.T) {
	m := NewManager(engine.NewRNG(7), 0.3, quiet())
	switches := 0
	const days = 10000
	for i := 0; i < days; i++ {
		if m.AdvanceDay() {
			switches++
		}
	}
	assert.InDelta(t, 0.3, float64(switches)/days, 0.03)
}

func TestInvalidProbabilityFallsBack(t *testing.T) {
	m := NewManager(engine.NewRNG(1), 3, quiet())
	assert.Equal(t, DefaultSwitchProbability, m.switchProb)
}

func TestDeterministicInitialState(t *testing.T) {
	a := NewManager(engine.NewRNG(11), 0.3, quiet())
	b := NewManager(engine.NewRNG(11), 0.3, quiet())
	assert.Equal(t, a.Current(), b.Current())
}
