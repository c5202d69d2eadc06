package bars

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInsufficientBars is returned when a window needs more history than is available
var ErrInsufficientBars = errors.New("insufficient bars")

// Bar is one OHLCV period for an instrument
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// TypicalPrice returns (high+low+close)/3
func (b Bar) TypicalPrice() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// Range returns high-low
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// Validate checks that a bar sequence is well formed. Bars are owned by the caller and are
// never repaired here; a malformed bar is reported so the stage can reject the candidate.
func Validate(series []Bar) error {
	for i, b := range series {
		for name, v := range map[string]float64{"open": b.Open, "high": b.High, "low": b.Low, "close": b.Close, "volume": b.Volume} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("bar %d: %s is not finite", i, name)
			}
		}
		if b.Volume < 0 {
			return fmt.Errorf("bar %d: negative volume %.2f", i, b.Volume)
		}
		if b.High < b.Low {
			return fmt.Errorf("bar %d: high %.4f below low %.4f", i, b.High, b.Low)
		}
		if b.Close > b.High || b.Close < b.Low {
			return fmt.Errorf("bar %d: close %.4f outside [%.4f, %.4f]", i, b.Close, b.Low, b.High)
		}
		if i > 0 && !b.Timestamp.After(series[i-1].Timestamp) {
			return fmt.Errorf("bar %d: timestamp %s not after previous bar", i, b.Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// Closes extracts close prices
func Closes(series []Bar) []float64 {
	out := make([]float64, len(series))
	for i, b := range series {
		out[i] = b.Close
	}
	return out
}

// Volumes extracts volumes
func Volumes(series []Bar) []float64 {
	out := make([]float64, len(series))
	for i, b := range series {
		out[i] = b.Volume
	}
	return out
}

// Tail returns the last n bars, or all of them if fewer exist. The result shares the caller's
// backing array and must not be written to.
func Tail(series []Bar, n int) []Bar {
	if n <= 0 {
		return nil
	}
	if len(series) <= n {
		return series
	}
	return series[len(series)-n:]
}

// Last returns the most recent bar
func Last(series []Bar) (Bar, bool) {
	if len(series) == 0 {
		return Bar{}, false
	}
	return series[len(series)-1], true
}

// SessionHighLow returns the highest high and lowest low of the series
func SessionHighLow(series []Bar) (high, low float64) {
	if len(series) == 0 {
		return 0, 0
	}
	high, low = series[0].High, series[0].Low
	for _, b := range series[1:] {
		high = math.Max(high, b.High)
		low = math.Min(low, b.Low)
	}
	return high, low
}
