package engine

import "math"

// closeThreshold is the remaining day fraction at which the bridge snaps to
// its target.
const closeThreshold = 0.001

// BridgeParams controls the intraday volatility smile.
type BridgeParams struct {
	SmileAlpha  float64 // extra opening dispersion
	SmileLambda float64 // decay speed of the opening dispersion
	MinPrice    float64 // price floor
}

// DefaultBridgeParams returns a smile with 2.5x noise at the open decaying
// over roughly the first fifth of the day.
func DefaultBridgeParams() BridgeParams {
	return BridgeParams{
		SmileAlpha:  1.5,
		SmileLambda: 5,
		MinPrice:    0.01,
	}
}

// BridgeGenerator fills sub-day ticks between a day's open and its target
// close with a discrete Brownian bridge.
type BridgeGenerator struct {
	rng    Source
	params BridgeParams
}

// NewBridgeGenerator creates a bridge generator.
func NewBridgeGenerator(rng Source, p BridgeParams) *BridgeGenerator {
	if p.MinPrice <= 0 {
		p.MinPrice = 0.01
	}
	if p.SmileLambda < 0 {
		p.SmileLambda = 0
	}
	return &BridgeGenerator{rng: rng, params: p}
}

// Smile returns the noise multiplier at the given day fraction.
func (b *BridgeGenerator) Smile(timeRatio float64) float64 {
	remaining := 1 - timeRatio
	if remaining <= 0 {
		return 0
	}
	if remaining > 1 {
		remaining = 1
	}
	return (1 + b.params.SmileAlpha*math.Exp(-b.params.SmileLambda*timeRatio)) * math.Sqrt(remaining)
}

// NextTick advances the bridge one step of size timeStep (a day fraction)
// from timeRatio. The gravity factor is capped at 1 so a step larger than the
// remaining day lands on target instead of overshooting it.
func (b *BridgeGenerator) NextTick(current, target, timeRatio, timeStep, intradayVol float64) float64 {
	// compared on the ratio side: 1-0.999 rounds just above the threshold
	if timeRatio >= 1-closeThreshold {
		return target
	}
	remaining := 1 - timeRatio
	if timeRatio < 0 {
		timeRatio = 0
		remaining = 1
	}
	if timeStep < 0 {
		timeStep = 0
	}
	if intradayVol < 0 {
		intradayVol = 0
	}

	pull := timeStep / remaining
	if pull > 1 {
		pull = 1
	}
	gravity := (target - current) * pull
	noise := intradayVol * b.Smile(timeRatio) * b.rng.Gaussian()

	next := current + gravity + noise
	if next < b.params.MinPrice || math.IsNaN(next) {
		next = b.params.MinPrice
	}
	return next
}

// Trajectory builds a whole day ahead of time with the given number of
// steps. The result has steps+1 points; the first is open and the last is
// target.
func (b *BridgeGenerator) Trajectory(open, target float64, steps int, intradayVol float64) []float64 {
	if steps < 1 {
		return []float64{open, target}
	}
	dt := 1 / float64(steps)
	out := make([]float64, steps+1)
	out[0] = open
	price := open
	for i := 1; i <= steps; i++ {
		ratio := float64(i-1) * dt
		price = b.NextTick(price, target, ratio, dt, intradayVol)
		out[i] = price
	}
	out[steps] = target
	return out
}
