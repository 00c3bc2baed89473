package simulation

import "github.com/shopspring/decimal"

// fixedRand always returns the same draw.
type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

// seqRand replays a sequence of draws, repeating the last one.
type seqRand struct {
	values []float64
	i      int
}

func (s *seqRand) Float64() float64 {
	v := s.values[s.i]
	if s.i < len(s.values)-1 {
		s.i++
	}
	return v
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
