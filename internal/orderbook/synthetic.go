package orderbook

import "math"

const (
	DefaultDepthLevels = 5
	DefaultLevelStep   = 0.01 // 1% of mid between levels
	DefaultLevelDecay  = 0.85

	// used when a commodity is configured without a sensitivity
	defaultLiquiditySensitivity = 0.01
)

// Liquidity providers that NPC quotes are attributed to, one per level.
var participants = []string{"npc:COOP", "npc:GRANGE", "npc:MILL", "npc:ORCHARD", "npc:DEPOT", "npc:FERRY", "npc:DAIRY", "npc:MARKET"}

// Skew scales synthetic size per side; 1 is neutral.
type Skew struct {
	Bid float64
	Ask float64
}

// DepthParams shapes the synthetic ladder.
type DepthParams struct {
	Levels  int
	Step    float64 // fractional distance between levels
	Decay   float64 // size multiplier per level away from mid
	MinSize int64
}

// DefaultDepthParams returns five levels at 1% spacing decaying 15% a level.
func DefaultDepthParams() DepthParams {
	return DepthParams{
		Levels:  DefaultDepthLevels,
		Step:    DefaultLevelStep,
		Decay:   DefaultLevelDecay,
		MinSize: 1,
	}
}

func (p DepthParams) normalized() DepthParams {
	d := DefaultDepthParams()
	if p.Levels <= 0 {
		p.Levels = d.Levels
	}
	if p.Step <= 0 || p.Step >= 1.0/float64(p.Levels) {
		p.Step = d.Step
	}
	if p.Decay <= 0 || p.Decay > 1 {
		p.Decay = d.Decay
	}
	if p.MinSize <= 0 {
		p.MinSize = d.MinSize
	}
	return p
}

// SyntheticDepth builds NPC quotes at mid*(1 -/+ k*step) for k = 1..levels.
// Level size is price_gap / eta scaled by the side's skew and decayed per
// level, so walking one level moves the price about as far as the impact
// model would for the same quantity.
func SyntheticDepth(mid float64, skew Skew, eta float64, p DepthParams, ts int64) []*Order {
	if mid <= 0 || math.IsNaN(mid) || math.IsInf(mid, 0) {
		return nil
	}
	p = p.normalized()
	if eta <= 0 {
		eta = defaultLiquiditySensitivity
	}
	if skew.Bid <= 0 {
		skew.Bid = 1
	}
	if skew.Ask <= 0 {
		skew.Ask = 1
	}

	base := mid * p.Step / eta
	orders := make([]*Order, 0, 2*p.Levels)
	for k := 1; k <= p.Levels; k++ {
		decay := math.Pow(p.Decay, float64(k-1))
		offset := float64(k) * p.Step
		who := participants[(k-1)%len(participants)]
		orders = append(orders,
			&Order{
				Side: SideBuy, Type: TypeLimit, Price: mid * (1 - offset),
				Quantity: size(base*skew.Bid*decay, p.MinSize), Timestamp: ts,
				TraderID: who, Synthetic: true,
			},
			&Order{
				Side: SideSell, Type: TypeLimit, Price: mid * (1 + offset),
				Quantity: size(base*skew.Ask*decay, p.MinSize), Timestamp: ts,
				TraderID: who, Synthetic: true,
			},
		)
	}
	return orders
}

func size(v float64, minSize int64) int64 {
	n := int64(math.Round(v))
	if n < minSize {
		return minSize
	}
	return n
}

// RefreshSynthetic re-centres the NPC ladder on mid. Player orders crossed
// by the new quotes are filled; those fills are returned.
func (b *Book) RefreshSynthetic(mid float64, skew Skew, eta float64, p DepthParams, ts int64) []Fill {
	return b.ReplaceSynthetic(SyntheticDepth(mid, skew, eta, p, ts))
}
