// Package barstest builds deterministic bar sequences for tests.
package barstest

import (
	"math"
	"math/rand"
	"time"

	"github.com/sawpanic/signalgate/internal/domain/bars"
)

// Start is the timestamp of the first generated bar
var Start = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

// Spec describes a generated series
type Spec struct {
	N        int
	Price    float64       // first close
	Drift    float64       // per-bar fractional drift
	Noise    float64       // per-bar fractional noise amplitude
	Volume   float64       // base volume
	Interval time.Duration // bar spacing, default 5m
	Seed     int64
}

// Generate builds a series that always satisfies bars.Validate
func Generate(s Spec) []bars.Bar {
	if s.Interval == 0 {
		s.Interval = 5 * time.Minute
	}
	if s.Volume == 0 {
		s.Volume = 1000
	}
	rng := rand.New(rand.NewSource(s.Seed))

	out := make([]bars.Bar, s.N)
	prev := s.Price
	for i := 0; i < s.N; i++ {
		shock := 0.0
		if s.Noise > 0 {
			shock = (rng.Float64()*2 - 1) * s.Noise
		}
		closePx := prev * (1 + s.Drift + shock)
		open := prev
		high := math.Max(open, closePx) * (1 + s.Noise/2)
		low := math.Min(open, closePx) * (1 - s.Noise/2)
		vol := s.Volume
		if s.Noise > 0 {
			vol *= 0.8 + 0.4*rng.Float64()
		}
		out[i] = bars.Bar{
			Timestamp: Start.Add(time.Duration(i) * s.Interval),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePx,
			Volume:    vol,
		}
		prev = closePx
	}
	return out
}

// Flat builds n identical bars at price with constant volume
func Flat(n int, price, volume float64) []bars.Bar {
	out := make([]bars.Bar, n)
	for i := range out {
		out[i] = bars.Bar{
			Timestamp: Start.Add(time.Duration(i) * 5 * time.Minute),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    volume,
		}
	}
	return out
}

// FromCloses builds bars whose open is the previous close and whose range hugs the body
func FromCloses(closes []float64, volume float64) []bars.Bar {
	out := make([]bars.Bar, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		out[i] = bars.Bar{
			Timestamp: Start.Add(time.Duration(i) * 5 * time.Minute),
			Open:      open,
			High:      math.Max(open, c),
			Low:       math.Min(open, c),
			Close:     c,
			Volume:    volume,
		}
	}
	return out
}

// WithVolumes returns a copy of series with the given trailing volumes replaced
func WithVolumes(series []bars.Bar, tail ...float64) []bars.Bar {
	out := make([]bars.Bar, len(series))
	copy(out, series)
	offset := len(out) - len(tail)
	for i, v := range tail {
		if offset+i >= 0 {
			out[offset+i].Volume = v
		}
	}
	return out
}
