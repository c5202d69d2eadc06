package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalgate/internal/domain/bars"
	"github.com/sawpanic/signalgate/internal/domain/bars/barstest"
)

// setup returns 25 flat bars at 100 followed by a breakout bar at 101 on heavy volume, then path
func setup(path ...float64) []bars.Bar {
	closes := make([]float64, 0, 26+len(path))
	for i := 0; i < 25; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 101)
	closes = append(closes, path...)
	series := barstest.FromCloses(closes, 1000)
	series[25].Volume = 5000
	return series
}

func TestSimulateExits(t *testing.T) {
	tests := []struct {
		name   string
		path   []float64
		reason ExitReason
		ret    float64
	}{
		{"take profit", []float64{102, 103, 104.5}, TakeProfit, 0.03},
		{"stop loss", []float64{98.5}, StopLoss, -0.02},
		{"trailing stop", []float64{102, 103.5, 101.5}, TrailingStop, 103.5*0.985/101 - 1},
		{"time limit", []float64{101.5, 101.5, 101.5, 101.5, 101.5, 101.5, 101.5, 101.5, 101.5, 101.5}, TimeLimit, 101.5/101 - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trades := Simulate(setup(tt.path...), DefaultRules())
			require.Len(t, trades, 1)
			assert.Equal(t, 25, trades[0].EntryIndex)
			assert.Equal(t, tt.reason, trades[0].Reason)
			assert.InDelta(t, tt.ret, trades[0].Return, 1e-9)
		})
	}
}

func TestStopCheckedBeforeTarget(t *testing.T) {
	series := setup(102)
	series[26].Low = 98
	series[26].High = 105

	trades := Simulate(series, DefaultRules())
	require.Len(t, trades, 1)
	assert.Equal(t, StopLoss, trades[0].Reason)
}

func TestSimulateIgnoresOpenTradeAndQuietCross(t *testing.T) {
	assert.Empty(t, Simulate(setup(101.2), DefaultRules()), "trade still open at the end")

	quiet := setup(101.2)
	quiet[25].Volume = 1000
	assert.Empty(t, Simulate(quiet, DefaultRules()), "cross without volume is not an entry")

	assert.Empty(t, Simulate(barstest.Flat(10, 100, 1000), DefaultRules()))
}

func TestSummarize(t *testing.T) {
	trades := []Trade{{Return: 0.03}, {Return: -0.02}, {Return: 0.01}, {Return: 0}}
	s := Summarize(trades, 0)
	assert.Equal(t, 4, s.Trades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 0.005, s.AvgReturn, 1e-12)
	assert.InDelta(t, 2.0, s.ProfitFactor, 1e-9)
	assert.InDelta(t, WilsonLowerBound(2, 4, WilsonZ), s.WilsonLower, 1e-12)

	allWins := Summarize([]Trade{{Return: 0.01}, {Return: 0.02}}, 0)
	assert.Equal(t, DefaultProfitFactorCap, allWins.ProfitFactor)

	assert.Equal(t, Stats{}, Summarize(nil, 0))
}

func TestWilsonLowerBound(t *testing.T) {
	assert.InDelta(t, 0.1876, WilsonLowerBound(3, 6, WilsonZ), 1e-4)
	assert.InDelta(t, 0.3773, WilsonLowerBound(30, 60, WilsonZ), 1e-4)
	assert.Equal(t, 0.0, WilsonLowerBound(0, 0, WilsonZ))

	for n := 1; n <= 60; n++ {
		prev := -1.0
		for w := 0; w <= n; w++ {
			lb := WilsonLowerBound(w, n, WilsonZ)
			require.GreaterOrEqual(t, lb, prev, "monotone in wins for n=%d", n)
			require.LessOrEqual(t, lb, float64(w)/float64(n)+1e-12)
			prev = lb
		}
	}

	for _, rate := range []float64{0.25, 0.5, 0.75} {
		prev := -1.0
		for n := 4; n <= 400; n += 4 {
			lb := WilsonLowerBound(int(rate*float64(n)), n, WilsonZ)
			require.GreaterOrEqual(t, lb, prev, "monotone in n for rate %.2f", rate)
			prev = lb
		}
	}
}

func TestExitReasonString(t *testing.T) {
	assert.Equal(t, "trailing_stop", TrailingStop.String())
	assert.Equal(t, "unknown", ExitReason(99).String())
}
