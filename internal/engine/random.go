package engine

import (
	"encoding/binary"
	"math"
	"sync"
)

// Source is the random provider injected into every stochastic component.
// A fixed seed plus a fixed input sequence always reproduces the same path.
type Source interface {
	Float64() float64
	Gaussian() float64
	Intn(n int) int
	Uniform(lo, hi float64) float64
	WeightedPick(weights []float64) int
}

// RNG is a seedable PCG-XSH-RR generator with a Box-Muller normal sampler.
// It is safe for concurrent use.
type RNG struct {
	mu    sync.Mutex
	state uint64
	inc   uint64

	// second Box-Muller variate, returned on the next Gaussian call
	hasSpare bool
	spare    float64
}

// NewRNG creates a generator for the given seed. Seed 0 is a valid seed;
// callers that want a random seed must pick one themselves so the math
// layer never samples the wall clock.
func NewRNG(seed int64) *RNG {
	r := &RNG{}
	r.reseed(seed)
	return r
}

func (r *RNG) reseed(seed int64) {
	r.inc = uint64(seed)<<1 | 1
	r.state = 0
	r.step()
	r.state += uint64(seed)
	r.step()
	r.hasSpare = false
}

func (r *RNG) step() {
	r.state = r.state*6364136223846793005 + r.inc
}

func (r *RNG) next32() uint32 {
	old := r.state
	r.step()
	xorshifted := uint32(((old >> 18) ^ old) >> 27)
	rot := uint32(old >> 59)
	return (xorshifted >> rot) | (xorshifted << ((-rot) & 31))
}

// Uint32 returns a uniformly distributed uint32.
func (r *RNG) Uint32() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next32()
}

// Float64 returns a uniformly distributed float64 in [0, 1).
func (r *RNG) Float64() float64 {
	return float64(r.Uint32()) / (1 << 32)
}

// Uniform returns a uniformly distributed float64 in [lo, hi).
// Reversed bounds are swapped.
func (r *RNG) Uniform(lo, hi float64) float64 {
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo + (hi-lo)*r.Float64()
}

// Intn returns a uniformly distributed int in [0, n).
func (r *RNG) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.Uint32() % uint32(n))
}

// IntRange returns a uniformly distributed int in [min, max].
func (r *RNG) IntRange(min, max int) int {
	if min >= max {
		return min
	}
	return min + r.Intn(max-min+1)
}

// Gaussian returns a standard normal variate using the Box-Muller transform.
// Variates are produced in pairs; the second is cached for the next call.
func (r *RNG) Gaussian() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hasSpare {
		r.hasSpare = false
		return r.spare
	}

	// u1 in (0, 1] keeps the log finite.
	u1 := 1 - float64(r.next32())/(1<<32)
	u2 := float64(r.next32()) / (1 << 32)

	radius := math.Sqrt(-2 * math.Log(u1))
	theta := 2 * math.Pi * u2

	r.spare = radius * math.Sin(theta)
	r.hasSpare = true
	return radius * math.Cos(theta)
}

// WeightedPick selects an index with probability proportional to its weight.
// Returns -1 for an empty slice and the last index if all weights are zero.
func (r *RNG) WeightedPick(weights []float64) int {
	if len(weights) == 0 {
		return -1
	}
	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total == 0 {
		return len(weights) - 1
	}
	target := r.Float64() * total
	cumulative := 0.0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		cumulative += w
		if target < cumulative {
			return i
		}
	}
	return len(weights) - 1
}

// StateBytes returns the generator state for persistence.
func (r *RNG) StateBytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := make([]byte, 25)
	binary.BigEndian.PutUint64(buf[0:8], r.state)
	binary.BigEndian.PutUint64(buf[8:16], r.inc)
	binary.BigEndian.PutUint64(buf[16:24], math.Float64bits(r.spare))
	if r.hasSpare {
		buf[24] = 1
	}
	return buf
}

// RestoreStateBytes restores state produced by StateBytes. Short buffers are
// ignored; a 16-byte buffer restores the core state without a cached variate.
func (r *RNG) RestoreStateBytes(b []byte) {
	if len(b) < 16 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = binary.BigEndian.Uint64(b[0:8])
	r.inc = binary.BigEndian.Uint64(b[8:16])
	r.hasSpare = false
	if len(b) >= 25 {
		r.spare = math.Float64frombits(binary.BigEndian.Uint64(b[16:24]))
		r.hasSpare = b[24] == 1
	}
}
