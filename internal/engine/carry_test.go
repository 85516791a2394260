package engine

import (
	"math"
	"testing"
)

func TestFuturesContango(t *testing.T) {
	f := FuturesPrice(100, 28, 0.002, 0.005, 0.001)
	if f <= 100 {
		t.Fatalf("futures = %f, want > spot (contango)", f)
	}
	want := 100 * math.Exp(0.006*28.0/112.0)
	if math.Abs(f-want) > 1e-9 {
		t.Fatalf("futures = %f, want %f", f, want)
	}
}

func TestFuturesBackwardation(t *testing.T) {
	f := FuturesPrice(100, 28, 0.002, 0.005, 0.20)
	if f >= 100 {
		t.Fatalf("futures = %f, want < spot (backwardation)", f)
	}
}

func TestFuturesAtMaturity(t *testing.T) {
	for _, d := range []float64{0, -1, -28} {
		if f := FuturesPrice(73.5, d, 0.5, 0.5, 0); f != 73.5 {
			t.Errorf("days=%v futures = %f, want spot", d, f)
		}
	}
	if CarryFactor(0, 1, 1, 0) != 1 {
		t.Error("CarryFactor at maturity should be 1")
	}
}

func TestConvenienceYieldTotal(t *testing.T) {
	q := ConvenienceYield{Base: 0.001, Gift: 0.05, Community: 0.02}
	if math.Abs(q.Total()-0.071) > 1e-12 {
		t.Fatalf("Total = %f", q.Total())
	}
}
