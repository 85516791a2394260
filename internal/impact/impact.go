// Package impact evolves the decaying price impact that sits on top of the
// shadow price: player trades push it, simulated agents react to it.
package impact

import (
	"math"

	"github.com/ndrandal/harvest-exchange/internal/scenario"
)

const (
	DefaultDecayRate = 0.95
	DefaultMaxImpact = 30.0
	DefaultWindow    = 20
	MinTrendSamples  = 5
)

// Config holds the market-wide impact constants.
type Config struct {
	DecayRate float64 // per-tick multiplier on the running impact
	MaxImpact float64 // absolute clamp; 0 disables clamping
	Window    int     // moving-average length in ticks
}

// DefaultConfig returns decay 0.95, clamp 30 and a 20-tick window.
func DefaultConfig() Config {
	return Config{DecayRate: DefaultDecayRate, MaxImpact: DefaultMaxImpact, Window: DefaultWindow}
}

// State is the impact state of one instrument. It is owned by the caller and
// passed into every Engine call; it is not safe for concurrent use.
type State struct {
	impact   float64
	observed float64 // impact seen at the previous update
	prices   *window
	impacts  *window
}

// NewState creates an empty state with the configured window.
func (e *Engine) NewState() *State {
	return &State{prices: newWindow(e.cfg.Window), impacts: newWindow(e.cfg.Window)}
}

// Current returns the running impact.
func (s *State) Current() float64 { return s.impact }

// Delta breaks one update down by force.
type Delta struct {
	Smart  float64 `json:"smart"`
	Trend  float64 `json:"trend"`
	FOMO   float64 `json:"fomo"`
	Impact float64 `json:"impact"` // value after the update
}

// Engine applies the impact rules with fixed configuration.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine; out-of-range values fall back to defaults.
func NewEngine(cfg Config) *Engine {
	d := DefaultConfig()
	if cfg.DecayRate <= 0 || cfg.DecayRate > 1 {
		cfg.DecayRate = d.DecayRate
	}
	if cfg.MaxImpact < 0 {
		cfg.MaxImpact = d.MaxImpact
	}
	if cfg.Window <= 0 {
		cfg.Window = d.Window
	}
	return &Engine{cfg: cfg}
}

// Config returns the active configuration.
func (e *Engine) Config() Config { return e.cfg }

// RecordPlayerTrade adds signedQty * eta to the impact immediately and
// returns the applied delta (after clamping).
func (e *Engine) RecordPlayerTrade(s *State, signedQty, eta float64) float64 {
	before := s.impact
	s.impact = e.clamp(s.impact + signedQty*eta)
	return s.impact - before
}

// Update advances the impact one tick:
//
//	impact' = impact*decay + smart + trend + fomo
//
// smart pulls the displayed price toward fundamental, trend follows the
// displayed price against its moving average once MinTrendSamples exist,
// and fomo chases the last tick's impact change (scaled by AsymmetricDown
// when that change is negative).
func (e *Engine) Update(s *State, shadow, fundamental float64, p scenario.Params) Delta {
	cur := s.impact
	displayed := shadow + cur

	var d Delta
	d.Smart = p.SmartMoney * (fundamental - displayed)

	if s.prices.len() >= MinTrendSamples {
		d.Trend = p.TrendFollower * sign(displayed-s.prices.mean())
	}

	momentum := cur - s.observed
	k := p.FOMO
	if momentum < 0 && p.AsymmetricDown > 0 {
		k *= p.AsymmetricDown
	}
	d.FOMO = k * momentum

	next := cur*e.cfg.DecayRate + d.Smart + d.Trend + d.FOMO
	if math.IsNaN(next) || math.IsInf(next, 0) {
		next = 0
	}
	s.impact = e.clamp(next)
	s.observed = cur
	s.prices.push(displayed)
	s.impacts.push(cur)

	d.Impact = s.impact
	return d
}

// Reset clears the state, used when a new season starts.
func (e *Engine) Reset(s *State) {
	*s = *e.NewState()
}

func (e *Engine) clamp(v float64) float64 {
	if e.cfg.MaxImpact <= 0 {
		return v
	}
	return math.Max(-e.cfg.MaxImpact, math.Min(e.cfg.MaxImpact, v))
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// Snapshot is the persistable form of a State.
type Snapshot struct {
	Impact   float64   `json:"impact" bson:"impact"`
	Observed float64   `json:"observed" bson:"observed"`
	Prices   []float64 `json:"prices" bson:"prices"`
	Impacts  []float64 `json:"impacts" bson:"impacts"`
}

// Snapshot captures s.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Impact:   s.impact,
		Observed: s.observed,
		Prices:   s.prices.values(),
		Impacts:  s.impacts.values(),
	}
}

// RestoreState rebuilds a State from a snapshot; histories longer than the
// window keep their newest samples.
func (e *Engine) RestoreState(snap Snapshot) *State {
	s := e.NewState()
	s.impact = e.clamp(snap.Impact)
	s.observed = snap.Observed
	for _, v := range snap.Prices {
		s.prices.push(v)
	}
	for _, v := range snap.Impacts {
		s.impacts.push(v)
	}
	return s
}

// History returns the recent displayed prices and impacts, oldest first.
func (s *State) History() (prices, impacts []float64) {
	return s.prices.values(), s.impacts.values()
}
