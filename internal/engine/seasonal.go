package engine

import "math"

// SeasonalParams shapes the daily mean-reverting walk.
type SeasonalParams struct {
	TotalDays       int     // season length used for volatility decay
	MinReversion    float64 // floor on the daily pull toward the target
	MomentumFactor  float64 // weight on the previous day's log return
	JumpProbability float64 // chance of a jump per step
	JumpMagnitude   float64 // absolute log size of a jump
}

// DefaultSeasonalParams returns the parameters of a 28-day season with
// momentum and jumps disabled.
func DefaultSeasonalParams() SeasonalParams {
	return SeasonalParams{
		TotalDays:    28,
		MinReversion: 0.15,
	}
}

// SeasonalGenerator produces each day's target close with a mean-reverting
// geometric Brownian motion toward the fundamental value.
type SeasonalGenerator struct {
	rng    Source
	params SeasonalParams
}

// NewSeasonalGenerator creates a generator. Non-positive TotalDays falls back
// to 28 and a negative MinReversion to 0.
func NewSeasonalGenerator(rng Source, p SeasonalParams) *SeasonalGenerator {
	if p.TotalDays <= 0 {
		p.TotalDays = 28
	}
	if p.MinReversion < 0 {
		p.MinReversion = 0
	}
	return &SeasonalGenerator{rng: rng, params: p}
}

// Params returns the generator parameters.
func (g *SeasonalGenerator) Params() SeasonalParams {
	return g.params
}

// NextPrice returns the next daily price with no momentum carried in.
func (g *SeasonalGenerator) NextPrice(current, target float64, daysRemaining int, baseVol float64) float64 {
	next, _ := g.Step(current, target, daysRemaining, baseVol, 0)
	return next
}

// Step advances one day in log space and returns the new price together with
// the realized log return, which callers feed back as lastLogReturn.
//
// daysRemaining <= 0 returns target exactly.
func (g *SeasonalGenerator) Step(current, target float64, daysRemaining int, baseVol, lastLogReturn float64) (float64, float64) {
	if daysRemaining <= 0 || target <= 0 {
		return target, 0
	}
	if current <= 0 || math.IsNaN(current) || math.IsInf(current, 0) {
		current = target
	}
	if baseVol < 0 {
		baseVol = 0
	}

	alpha := math.Max(g.params.MinReversion, 1/float64(daysRemaining))
	if alpha > 1 {
		alpha = 1
	}

	sigma := baseVol * math.Sqrt(float64(daysRemaining)/float64(g.params.TotalDays))

	logCur := math.Log(current)
	drift := alpha * (math.Log(target) - logCur)
	momentum := g.params.MomentumFactor * lastLogReturn
	diffusion := sigma * g.rng.Gaussian()

	jump := 0.0
	if g.params.JumpProbability > 0 && g.rng.Float64() < g.params.JumpProbability {
		jump = g.params.JumpMagnitude
		if g.rng.Float64() < 0.5 {
			jump = -jump
		}
	}

	logReturn := drift + momentum + diffusion + jump
	return math.Exp(logCur + logReturn), logReturn
}

// Path generates a full season of daily prices starting from start, with
// every day targeting the value returned by target(day). The returned slice
// has TotalDays+1 entries; index 0 is start and the last entry equals the
// final target.
func (g *SeasonalGenerator) Path(start float64, baseVol float64, target func(day int) float64) []float64 {
	days := g.params.TotalDays
	out := make([]float64, days+1)
	out[0] = start
	price, last := start, 0.0
	for day := 1; day <= days; day++ {
		price, last = g.Step(price, target(day), days-day, baseVol, last)
		out[day] = price
	}
	return out
}
