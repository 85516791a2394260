// Package scenario selects the daily market mood that parameterizes how the
// simulated agents react to price.
package scenario

import (
	"fmt"
	"log/slog"

	"github.com/ndrandal/harvest-exchange/internal/engine"
)

// Kind identifies one of the four market archetypes.
type Kind int

const (
	DeadMarket Kind = iota
	IrrationalExuberance
	PanicSelling
	ShortSqueeze

	numKinds = 4
)

// Kinds returns every archetype.
func Kinds() []Kind {
	return []Kind{DeadMarket, IrrationalExuberance, PanicSelling, ShortSqueeze}
}

func (k Kind) String() string {
	switch k {
	case DeadMarket:
		return "dead_market"
	case IrrationalExuberance:
		return "irrational_exuberance"
	case PanicSelling:
		return "panic_selling"
	case ShortSqueeze:
		return "short_squeeze"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of String.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown scenario %q", s)
}

// Params are the agent strengths of one archetype.
type Params struct {
	Kind           Kind    `json:"kind"`
	SmartMoney     float64 `json:"smartMoney"`
	TrendFollower  float64 `json:"trendFollower"`
	FOMO           float64 `json:"fomo"`
	AsymmetricDown float64 `json:"asymmetricDown"`
	BidSkew        float64 `json:"bidSkew"` // synthetic bid size multiplier
	AskSkew        float64 `json:"askSkew"` // synthetic ask size multiplier
	Description    string  `json:"description"`
}

// ParamsFor returns the fixed parameters of k.
func ParamsFor(k Kind) Params {
	switch k {
	case IrrationalExuberance:
		return Params{
			Kind: k, SmartMoney: 0.01, TrendFollower: 0.15, FOMO: 0.4, AsymmetricDown: 1,
			BidSkew: 1.3, AskSkew: 0.8,
			Description: "Buyers chase every uptick; informed money barely leans against it.",
		}
	case PanicSelling:
		return Params{
			Kind: k, SmartMoney: 0.02, TrendFollower: 0.2, FOMO: 0.3, AsymmetricDown: 2,
			BidSkew: 0.6, AskSkew: 1.4,
			Description: "Sellers dump into thin bids; downside momentum is amplified.",
		}
	case ShortSqueeze:
		return Params{
			Kind: k, SmartMoney: -0.05, TrendFollower: 0.25, FOMO: 0.5, AsymmetricDown: 0.5,
			BidSkew: 1.2, AskSkew: 0.7,
			Description: "Shorts are forced to cover against fundamentals.",
		}
	default:
		return Params{
			Kind: DeadMarket, SmartMoney: 0.08, TrendFollower: 0.02, FOMO: 0, AsymmetricDown: 1,
			BidSkew: 1, AskSkew: 1,
			Description: "Quiet tape; informed money keeps prices pinned to value.",
		}
	}
}

// DefaultSwitchProbability is the daily chance of changing scenario.
const DefaultSwitchProbability = 0.3

// Manager is the daily scenario state machine. It has no terminal state.
type Manager struct {
	rng        engine.Source
	switchProb float64
	current    Params
	logger     *slog.Logger
}

// NewManager creates a manager with a random initial scenario. A switch
// probability outside [0, 1] falls back to the default.
func NewManager(rng engine.Source, switchProb float64, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if switchProb < 0 || switchProb > 1 {
		logger.Warn("invalid scenario switch probability; using default",
			"value", switchProb, "default", DefaultSwitchProbability)
		switchProb = DefaultSwitchProbability
	}
	m := &Manager{rng: rng, switchProb: switchProb, logger: logger}
	m.current = ParamsFor(Kind(rng.Intn(numKinds)))
	return m
}

// Current returns the active parameters.
func (m *Manager) Current() Params { return m.current }

// Set forces the active scenario, used on restore.
func (m *Manager) Set(k Kind) { m.current = ParamsFor(k) }

// AdvanceDay rolls the daily transition. When it fires, any state other than
// the current one is chosen uniformly. Reports whether the scenario changed.
func (m *Manager) AdvanceDay() bool {
	if m.rng.Float64() >= m.switchProb {
		return false
	}
	next := Kind(m.rng.Intn(numKinds - 1))
	if next >= m.current.Kind {
		next++
	}
	prev := m.current.Kind
	m.current = ParamsFor(next)
	m.logger.Info("scenario switched", "from", prev.String(), "to", next.String())
	return true
}
