package engine

import "math"

// YearDays is the length of a simulated year: four 28-day seasons.
const YearDays = 112

// CarryFactor returns e^((r + storage - q) * tau) with tau measured in
// simulated years. Non-positive maturities return 1.
func CarryFactor(daysToMaturity, riskFree, storageCost, convenienceYield float64) float64 {
	if daysToMaturity <= 0 {
		return 1
	}
	tau := daysToMaturity / YearDays
	return math.Exp((riskFree + storageCost - convenienceYield) * tau)
}

// FuturesPrice prices a futures contract by cost of carry:
// F = S * e^((r + storage - q) * tau). At or past maturity F equals S.
func FuturesPrice(spot, daysToMaturity, riskFree, storageCost, convenienceYield float64) float64 {
	if daysToMaturity <= 0 {
		return spot
	}
	return spot * CarryFactor(daysToMaturity, riskFree, storageCost, convenienceYield)
}

// ConvenienceYield is the dynamic benefit of holding the physical good.
type ConvenienceYield struct {
	Base      float64
	Gift      float64 // festival boost for giftable goods
	Community float64 // boost from active demand-side news
}

// Total returns the combined yield.
func (c ConvenienceYield) Total() float64 {
	return c.Base + c.Gift + c.Community
}
