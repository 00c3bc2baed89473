// Package simulation models the market microstructure a paper fill goes through:
// bid/ask spread, adverse slippage and available liquidity.
package simulation

import (
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/internal/ports"
)

// Source is a seedable, goroutine-safe pseudo-random generator.
type Source struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSource creates a generator. A zero seed picks a time-based seed.
func NewSource(seed int64) *Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Source{rng: rand.New(rand.NewSource(seed))}
}

// Float64 returns a pseudo-random number in [0.0, 1.0).
func (s *Source) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Streams hands out one generator per key, each seeded from the base seed and
// the key. Draws for one key do not depend on how other keys are scheduled.
type Streams struct {
	mu      sync.Mutex
	seed    int64
	sources map[string]*Source
}

// NewStreams creates a generator family. A zero seed picks a time-based seed.
func NewStreams(seed int64) *Streams {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Streams{seed: seed, sources: make(map[string]*Source)}
}

// For returns the generator of key, creating it on first use.
func (s *Streams) For(key string) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()

	if src, ok := s.sources[key]; ok {
		return src
	}
	h := fnv.New64a()
	h.Write([]byte(key))
	derived := s.seed ^ int64(h.Sum64())
	if derived == 0 {
		derived = s.seed
	}
	src := NewSource(derived)
	s.sources[key] = src
	return src
}

var (
	one  = decimal.NewFromInt(1)
	two  = decimal.NewFromInt(2)
	four = decimal.NewFromInt(4)

	// maxTickFraction caps a fill price tick at 10 bps of the price.
	maxTickFraction = decimal.New(1, -3)
)

// PriceTick returns increment, shifted down by powers of ten until it is no
// larger than price x fraction. Low-priced instruments quote in finer ticks.
func PriceTick(price, increment, fraction decimal.Decimal) decimal.Decimal {
	if !increment.IsPositive() || !price.IsPositive() || !fraction.IsPositive() {
		return increment
	}
	limit := price.Mul(fraction)
	tick := increment
	for tick.GreaterThan(limit) {
		tick = tick.Shift(-1)
	}
	return tick
}

// uniform draws a decimal in [lo, hi).
func uniform(r ports.Random, lo, hi decimal.Decimal) decimal.Decimal {
	return lo.Add(hi.Sub(lo).Mul(decimal.NewFromFloat(r.Float64())))
}

// chance returns true with probability p.
func chance(r ports.Random, p float64) bool {
	return r.Float64() < p
}

// FloorToIncrement rounds d down to a multiple of inc.
func FloorToIncrement(d, inc decimal.Decimal) decimal.Decimal {
	if !inc.IsPositive() {
		return d
	}
	return d.Div(inc).Floor().Mul(inc)
}

// CeilToIncrement rounds d up to a multiple of inc.
func CeilToIncrement(d, inc decimal.Decimal) decimal.Decimal {
	if !inc.IsPositive() {
		return d
	}
	return d.Div(inc).Ceil().Mul(inc)
}

// RoundToIncrement rounds d half-up to a multiple of inc.
func RoundToIncrement(d, inc decimal.Decimal) decimal.Decimal {
	if !inc.IsPositive() {
		return d
	}
	return d.Div(inc).Round(0).Mul(inc)
}
