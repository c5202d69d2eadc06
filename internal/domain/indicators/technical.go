package indicators

import (
	"math"

	"github.com/sawpanic/signalgate/internal/domain/bars"
)

// MAResult represents a moving-average value
type MAResult struct {
	Value     float64 `json:"value"`
	Period    int     `json:"period"`
	IsValid   bool    `json:"is_valid"`
	DataCount int     `json:"data_count"`
}

// CalculateSMA returns the simple moving average of the last period values
func CalculateSMA(values []float64, period int) MAResult {
	if period <= 0 || len(values) < period {
		return MAResult{Period: period, DataCount: len(values)}
	}
	return MAResult{
		Value:     Mean(values[len(values)-period:]),
		Period:    period,
		IsValid:   true,
		DataCount: len(values),
	}
}

// EMASeries returns the exponential moving average series seeded with the SMA of the first
// period values. Element i of the result corresponds to values[i+period-1].
func EMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	ema := Mean(values[:period])
	out = append(out, ema)

	alpha := 2.0 / float64(period+1)
	for _, v := range values[period:] {
		ema = alpha*v + (1-alpha)*ema
		out = append(out, ema)
	}
	return out
}

// CalculateEMA returns the latest exponential moving average
func CalculateEMA(values []float64, period int) MAResult {
	series := EMASeries(values, period)
	if len(series) == 0 {
		return MAResult{Period: period, DataCount: len(values)}
	}
	return MAResult{
		Value:     series[len(series)-1],
		Period:    period,
		IsValid:   true,
		DataCount: len(values),
	}
}

// RSIResult represents the result of RSI calculation
type RSIResult struct {
	Value     float64 `json:"value"`
	Period    int     `json:"period"`
	IsValid   bool    `json:"is_valid"`
	DataCount int     `json:"data_count"`
}

// CalculateRSI calculates the Relative Strength Index with Wilder's smoothing
func CalculateRSI(prices []float64, period int) RSIResult {
	if period <= 0 || len(prices) < period+1 {
		return RSIResult{
			Value:     50.0, // Neutral RSI when insufficient data
			Period:    period,
			DataCount: len(prices),
		}
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	alpha := 1.0 / float64(period)
	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = avgGain*(1-alpha) + gain*alpha
		avgLoss = avgLoss*(1-alpha) + loss*alpha
	}

	result := RSIResult{Period: period, IsValid: true, DataCount: len(prices)}
	switch {
	case avgLoss == 0 && avgGain == 0:
		result.Value = 50.0
	case avgLoss == 0:
		result.Value = 100.0
	default:
		rs := avgGain / avgLoss
		result.Value = 100.0 - (100.0 / (1.0 + rs))
	}
	return result
}

// ATRResult represents the result of ATR calculation
type ATRResult struct {
	Value     float64 `json:"value"`
	Period    int     `json:"period"`
	IsValid   bool    `json:"is_valid"`
	DataCount int     `json:"data_count"`
}

// TrueRanges returns max(high-low, |high-prevClose|, |low-prevClose|) for every bar after the first
func TrueRanges(series []bars.Bar) []float64 {
	if len(series) < 2 {
		return nil
	}
	out := make([]float64, len(series)-1)
	for i := 1; i < len(series); i++ {
		cur, prevClose := series[i], series[i-1].Close
		hl := cur.High - cur.Low
		hc := math.Abs(cur.High - prevClose)
		lc := math.Abs(cur.Low - prevClose)
		out[i-1] = math.Max(hl, math.Max(hc, lc))
	}
	return out
}

// CalculateATR calculates the Average True Range with Wilder's smoothing
func CalculateATR(series []bars.Bar, period int) ATRResult {
	trueRanges := TrueRanges(series)
	if period <= 0 || len(trueRanges) < period {
		return ATRResult{Period: period, DataCount: len(series)}
	}

	atr := Mean(trueRanges[:period])
	alpha := 1.0 / float64(period)
	for _, tr := range trueRanges[period:] {
		atr = atr*(1-alpha) + tr*alpha
	}

	return ATRResult{
		Value:     atr,
		Period:    period,
		IsValid:   true,
		DataCount: len(series),
	}
}

// MomentumSeries returns close[i]-close[i-lag] for every i ≥ lag
func MomentumSeries(closes []float64, lag int) []float64 {
	if lag <= 0 || len(closes) <= lag {
		return nil
	}
	out := make([]float64, len(closes)-lag)
	for i := lag; i < len(closes); i++ {
		out[i-lag] = closes[i] - closes[i-lag]
	}
	return out
}
