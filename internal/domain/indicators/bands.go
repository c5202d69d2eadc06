package indicators

import "github.com/sawpanic/signalgate/internal/domain/bars"

// BandResult is an envelope around a middle line
type BandResult struct {
	Upper     float64 `json:"upper"`
	Middle    float64 `json:"middle"`
	Lower     float64 `json:"lower"`
	Period    int     `json:"period"`
	IsValid   bool    `json:"is_valid"`
	DataCount int     `json:"data_count"`
}

// Width returns upper-lower
func (b BandResult) Width() float64 {
	return b.Upper - b.Lower
}

// Contains reports whether other lies strictly inside b
func (b BandResult) Contains(other BandResult) bool {
	return other.Upper < b.Upper && other.Lower > b.Lower
}

// CalculateBollinger returns SMA(period) ± k standard deviations of the last period closes
func CalculateBollinger(closes []float64, period int, k float64) BandResult {
	if period <= 1 || len(closes) < period {
		return BandResult{Period: period, DataCount: len(closes)}
	}
	window := closes[len(closes)-period:]
	mid := Mean(window)
	sd := StdDev(window)
	return BandResult{
		Upper:     mid + k*sd,
		Middle:    mid,
		Lower:     mid - k*sd,
		Period:    period,
		IsValid:   true,
		DataCount: len(closes),
	}
}

// BollingerWidthSeries returns the band width at every position with a full window
func BollingerWidthSeries(closes []float64, period int, k float64) []float64 {
	if period <= 1 || len(closes) < period {
		return nil
	}
	out := make([]float64, 0, len(closes)-period+1)
	for end := period; end <= len(closes); end++ {
		out = append(out, 2*k*StdDev(closes[end-period:end]))
	}
	return out
}

// CalculateKeltner returns EMA(period) ± mult × ATR(atrPeriod)
func CalculateKeltner(series []bars.Bar, period, atrPeriod int, mult float64) BandResult {
	ema := CalculateEMA(bars.Closes(series), period)
	atr := CalculateATR(series, atrPeriod)
	if !ema.IsValid || !atr.IsValid {
		return BandResult{Period: period, DataCount: len(series)}
	}
	return BandResult{
		Upper:     ema.Value + mult*atr.Value,
		Middle:    ema.Value,
		Lower:     ema.Value - mult*atr.Value,
		Period:    period,
		IsValid:   true,
		DataCount: len(series),
	}
}

// VWAPResult is a volume-weighted average price over a trailing window
type VWAPResult struct {
	Value     float64 `json:"value"`
	Window    int     `json:"window"`
	IsValid   bool    `json:"is_valid"`
	DataCount int     `json:"data_count"`
}

// CalculateVWAP weights the typical price of the last window bars by volume. Invalid when the
// window is short or carries no volume.
func CalculateVWAP(series []bars.Bar, window int) VWAPResult {
	if window <= 0 || len(series) < window {
		return VWAPResult{Window: window, DataCount: len(series)}
	}
	var pv, vol float64
	for _, b := range series[len(series)-window:] {
		pv += b.TypicalPrice() * b.Volume
		vol += b.Volume
	}
	if vol <= 0 {
		return VWAPResult{Window: window, DataCount: len(series)}
	}
	return VWAPResult{
		Value:     pv / vol,
		Window:    window,
		IsValid:   true,
		DataCount: len(series),
	}
}
