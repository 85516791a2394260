package fundamental

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndrandal/harvest-exchange/internal/commodity"
	"github.com/ndrandal/harvest-exchange/internal/news"
)

func parsnip() *commodity.Config {
	return &commodity.Config{
		ID: "parsnip", Category: commodity.CategoryCrop,
		BasePrice: 35, BaseDemand: 10000, BaseSupply: 10000,
		GrowingSeasons: []commodity.Season{commodity.Spring}, OffSeasonMultiplier: 2,
	}
}

func global(demand, supply float64) *news.Event {
	return &news.Event{Scope: news.ScopeGlobal, DemandDelta: demand, SupplyDelta: supply,
		StartDay: 1, EndDay: 28, Triggered: true}
}

func TestNoNewsEqualsBaseline(t *testing.T) {
	c := parsnip()
	assert.Equal(t, 35.0, Calculate(c, commodity.Spring, nil, 1, true))
	assert.Equal(t, 70.0, Calculate(c, commodity.Summer, nil, 1, true), "off-season multiplier")
}

func TestSupplyCollapse(t *testing.T) {
	c := parsnip()
	for _, delta := range []float64{-10000, -25000} {
		events := []*news.Event{global(5000, delta)}
		assert.Equal(t, 350.0, Calculate(c, commodity.Spring, events, 3, true))
		assert.Equal(t, 700.0, Calculate(c, commodity.Fall, events, 3, false))
	}
}

func TestDemandCollapse(t *testing.T) {
	c := parsnip()
	events := []*news.Event{global(-10000, 0)}
	assert.InDelta(t, 3.5, Calculate(c, commodity.Spring, events, 3, true), 1e-12)
	events = []*news.Event{global(-30000, -5000)}
	assert.InDelta(t, 7.0, Calculate(c, commodity.Winter, events, 3, true), 1e-12)
}

func TestClampPolicy(t *testing.T) {
	c := parsnip()
	// demand x5 over supply
	events := []*news.Event{global(40000, 0)}
	assert.Equal(t, 105.0, Calculate(c, commodity.Spring, events, 2, true))
	assert.Equal(t, 175.0, Calculate(c, commodity.Spring, events, 2, false))

	events = []*news.Event{global(0, 90000)}
	assert.InDelta(t, 10.5, Calculate(c, commodity.Spring, events, 2, true), 1e-12)
	assert.InDelta(t, 3.5, Calculate(c, commodity.Spring, events, 2, false), 1e-12)
}

func TestRelevanceAndWindow(t *testing.T) {
	c := parsnip()
	events := []*news.Event{
		{Scope: news.ScopeItem, Items: []string{"melon"}, DemandDelta: 10000, StartDay: 1, EndDay: 28, Triggered: true},
		{Scope: news.ScopeCategory, Category: commodity.CategoryFruit, DemandDelta: 10000, StartDay: 1, EndDay: 28, Triggered: true},
		{Scope: news.ScopeItem, Items: []string{"parsnip"}, DemandDelta: 2000, StartDay: 1, EndDay: 28, Triggered: true},
		{Scope: news.ScopeCategory, Category: commodity.CategoryCrop, SupplyDelta: -2000, StartDay: 10, EndDay: 12, Triggered: true},
		{Scope: news.ScopeGlobal, DemandDelta: 5000, StartDay: 1, EndDay: 28, Triggered: false},
	}
	d, s := Totals(c, events, 5)
	assert.Equal(t, 12000.0, d)
	assert.Equal(t, 10000.0, s)

	d, s = Totals(c, events, 11)
	assert.Equal(t, 12000.0, d)
	assert.Equal(t, 8000.0, s)

	d, _ = Totals(c, events, 29)
	assert.Equal(t, 10000.0, d, "all windows expired")
}

func TestModelFallbackLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	m := NewModel([]*commodity.Config{parsnip()}, WithFallback(42), WithLogger(logger))
	require.True(t, m.Clamped())

	assert.Equal(t, 42.0, m.Value("dragonfruit", commodity.Spring, nil, 1))
	assert.Contains(t, buf.String(), "dragonfruit")
	assert.Equal(t, 35.0, m.Value("parsnip", commodity.Spring, nil, 1))

	m = NewModel(nil, WithFallback(-5), WithClamp(false))
	assert.Equal(t, DefaultFallback, m.Value("x", commodity.Spring, nil, 1))
	assert.False(t, m.Clamped())
}
