// Package fundamental computes the supply/demand equilibrium value that
// anchors every seasonal price path.
package fundamental

import (
	"log/slog"

	"github.com/ndrandal/harvest-exchange/internal/commodity"
	"github.com/ndrandal/harvest-exchange/internal/news"
)

const (
	scarcityMultiplier = 10.0
	collapseMultiplier = 0.1
	clampLow           = 0.3
	clampHigh          = 3.0
)

// Value applies the fundamental formula to pre-summed totals:
// baseline * demand/supply, with the supply and demand collapse branches.
// When clamp is set the regular branch is bounded to [0.3, 3] x baseline.
func Value(baseline, totalDemand, totalSupply float64, clamp bool) float64 {
	if totalSupply <= 0 {
		return baseline * scarcityMultiplier
	}
	if totalDemand <= 0 {
		return baseline * collapseMultiplier
	}
	v := baseline * (totalDemand / totalSupply)
	if clamp {
		if lo := baseline * clampLow; v < lo {
			v = lo
		}
		if hi := baseline * clampHigh; v > hi {
			v = hi
		}
	}
	return v
}

// Totals sums base demand and supply with the deltas of the events that
// affect c and are active on day.
func Totals(c *commodity.Config, events []*news.Event, day int) (demand, supply float64) {
	demand, supply = c.BaseDemand, c.BaseSupply
	for _, e := range events {
		if e.ActiveOn(day) && e.Affects(c) {
			demand += e.DemandDelta
			supply += e.SupplyDelta
		}
	}
	return demand, supply
}

// Calculate returns the fundamental value of c in season, given the news
// known on day.
func Calculate(c *commodity.Config, season commodity.Season, events []*news.Event, day int, clamp bool) float64 {
	demand, supply := Totals(c, events, day)
	return Value(c.Baseline(season), demand, supply, clamp)
}

// Model resolves commodities by id and falls back to a fixed value for
// unknown ones instead of failing the tick.
type Model struct {
	commodities map[string]*commodity.Config
	fallback    float64
	clamp       bool
	logger      *slog.Logger
}

// Option configures a Model.
type Option func(*Model)

// WithClamp enables or disables the [0.3, 3] x baseline bound.
func WithClamp(on bool) Option {
	return func(m *Model) { m.clamp = on }
}

// WithFallback sets the value returned for unknown commodities.
func WithFallback(v float64) Option {
	return func(m *Model) {
		if v > 0 {
			m.fallback = v
		}
	}
}

// WithLogger sets the logger used for degradation warnings.
func WithLogger(l *slog.Logger) Option {
	return func(m *Model) {
		if l != nil {
			m.logger = l
		}
	}
}

// DefaultFallback is returned for commodities with no configuration.
const DefaultFallback = 100.0

// NewModel creates a model over the given commodity configs. Clamping is on
// by default.
func NewModel(cfgs []*commodity.Config, opts ...Option) *Model {
	m := &Model{
		commodities: make(map[string]*commodity.Config, len(cfgs)),
		fallback:    DefaultFallback,
		clamp:       true,
		logger:      slog.Default(),
	}
	for _, c := range cfgs {
		m.commodities[c.ID] = c
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Clamped reports whether the model bounds the regular branch.
func (m *Model) Clamped() bool { return m.clamp }

// Commodity looks up a commodity config.
func (m *Model) Commodity(id string) (*commodity.Config, bool) {
	c, ok := m.commodities[id]
	return c, ok
}

// Value returns the fundamental value for commodity id on day.
func (m *Model) Value(id string, season commodity.Season, events []*news.Event, day int) float64 {
	c, ok := m.commodities[id]
	if !ok {
		m.logger.Warn("no commodity config; using fallback fundamental",
			"commodity", id, "fallback", m.fallback)
		return m.fallback
	}
	return Calculate(c, season, events, day, m.clamp)
}
