package gates

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalgate/internal/backtest"
	"github.com/sawpanic/signalgate/internal/domain/bars"
	"github.com/sawpanic/signalgate/internal/domain/bars/barstest"
	"github.com/sawpanic/signalgate/internal/domain/regime"
	"github.com/sawpanic/signalgate/internal/domain/session"
	"github.com/sawpanic/signalgate/internal/domain/volume"
)

func requireInvariant(t *testing.T, r FilterResult) {
	t.Helper()
	require.GreaterOrEqual(t, r.Confidence, 0.0)
	require.LessOrEqual(t, r.Confidence, 1.0)
	if !r.Passed {
		require.Equal(t, 0.0, r.Confidence, "failed result carries confidence: %+v", r)
	}
}

func TestResultConstructors(t *testing.T) {
	assert.Equal(t, 1.0, Pass(1.7, "x").Confidence)
	assert.Equal(t, 0.0, Pass(-3, "x").Confidence)
	assert.True(t, Degrade(0.5, "x").Degraded)

	f := Failf("bad %d", 7)
	assert.False(t, f.Passed)
	assert.Equal(t, 0.0, f.Confidence)
	assert.Equal(t, "bad 7", f.Reason)
}

type panicky struct{}

func (panicky) Name() Stage { return StageTrigger }
func (panicky) Check(context.Context, *Candidate) FilterResult {
	var series []bars.Bar
	_ = series[3]
	return Pass(1, "unreachable")
}

func TestSafeCheckRecovers(t *testing.T) {
	r := SafeCheck(context.Background(), panicky{}, &Candidate{Code: "X"})
	assert.False(t, r.Passed)
	assert.Contains(t, r.Reason, "computation error")
}

func TestSystemGate(t *testing.T) {
	cal, err := session.NewCalendar(session.DefaultConfig())
	require.NoError(t, err)
	at := func(h, m int) *Candidate {
		return &Candidate{Now: time.Date(2024, 3, 4, h, m, 0, 0, cal.Location())}
	}

	g, err := NewSystemGate(DefaultSystemConfig(), cal)
	require.NoError(t, err)

	ok := g.Check(context.Background(), at(10, 0))
	assert.True(t, ok.Passed)
	assert.Equal(t, 1.0, ok.Confidence)

	assert.False(t, g.Check(context.Background(), at(9, 2)).Passed, "before entry start")
	assert.False(t, g.Check(context.Background(), at(15, 0)).Passed, "entry end is exclusive")
	assert.Contains(t, g.Check(context.Background(), at(15, 12)).Reason, "EOD_CHECK_WINDOW")

	cfg := DefaultSystemConfig()
	cfg.TradingEnabled = false
	off, err := NewSystemGate(cfg, cal)
	require.NoError(t, err)
	assert.Equal(t, "trading disabled", off.Check(context.Background(), at(10, 0)).Reason)

	cfg = DefaultSystemConfig()
	cfg.EntryEnd = "09:00"
	_, err = NewSystemGate(cfg, cal)
	assert.Error(t, err)
}

func TestRegimeGate(t *testing.T) {
	g := NewRegimeGate(DefaultRegimeGateConfig())

	down := g.CheckState(regime.State{Regime: regime.RegimeTrendingDown})
	assert.False(t, down.Passed)

	for r, want := range map[regime.RegimeType]float64{
		regime.RegimeTrendingUp: 1.0,
		regime.RegimeNormal:     0.8,
		regime.RegimeLowVol:     0.7,
		regime.RegimeHighVol:    0.6,
	} {
		res := g.CheckState(regime.State{Regime: r, Version: 4})
		assert.True(t, res.Passed)
		assert.Equal(t, want, res.Confidence, "regime %s", r)
	}
}

func trend(n int, start, step float64) []bars.Bar {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start + float64(i)*step
	}
	return barstest.FromCloses(closes, 1000)
}

func TestUniverseFilter(t *testing.T) {
	f := NewUniverseFilter(DefaultUniverseConfig())
	index := barstest.Flat(30, 2500, 1000)

	strong := f.CheckBars(trend(30, 100, 1), index)
	require.True(t, strong.Passed)
	assert.Equal(t, 1.0, strong.Confidence, "10%% outperformance saturates")

	weak := f.CheckBars(trend(30, 100, -0.2), index)
	assert.False(t, weak.Passed)

	degraded := f.CheckBars(trend(30, 100, 0.1), nil)
	assert.True(t, degraded.Passed)
	assert.True(t, degraded.Degraded)
	assert.Equal(t, 0.5, degraded.Confidence)

	short := f.CheckBars(trend(5, 100, 1), index)
	assert.False(t, short.Passed)

	ranked := f.Rank([]*Candidate{
		{Code: "B", Bars: trend(30, 100, 0.1)},
		{Code: "A", Bars: trend(30, 100, 0.1)},
		{Code: "C", Bars: trend(30, 100, 0.3)},
		{Code: "D", Bars: trend(3, 100, 1)},
	}, index, 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, "C", ranked[0].Code)
	assert.Equal(t, "A", ranked[1].Code, "ties break by code")

	assert.InDelta(t, 0.0, RelativeStrength(0.1, 0.1), 1e-12)
}

func TestConsensusFilter(t *testing.T) {
	f := NewConsensusFilter(DefaultConsensusConfig())
	assert.Equal(t, 120, f.RequiredBars())

	up := barstest.Generate(barstest.Spec{N: 150, Price: 100, Drift: 0.002, Noise: 0.001, Seed: 4})
	res := f.CheckBars("UP", up)
	require.True(t, res.Passed, res.Reason)
	assert.Greater(t, res.Confidence, 0.6)

	down := barstest.Generate(barstest.Spec{N: 150, Price: 100, Drift: -0.002, Noise: 0.001, Seed: 4})
	res = f.CheckBars("DOWN", down)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Reason, "0/3 levels aligned")

	res = f.CheckBars("SHORT", up[:100])
	assert.False(t, res.Passed)
	assert.Contains(t, res.Reason, "level x6")
}

// squeeze builds quiet closes with wide bar ranges, then an accelerating climb
func squeeze(tail ...float64) []bars.Bar {
	var closes []float64
	for i := 0; i < 45; i++ {
		if i%2 == 0 {
			closes = append(closes, 100)
		} else {
			closes = append(closes, 100.05)
		}
	}
	closes = append(closes, tail...)
	series := barstest.FromCloses(closes, 1000)
	for i := range series {
		series[i].High += 1
		series[i].Low -= 1
	}
	return series
}

func TestTriggerFilter(t *testing.T) {
	f := NewTriggerFilter(DefaultTriggerConfig())

	res := f.CheckBars(squeeze(100.1, 100.25, 100.45, 100.7, 101.0))
	require.True(t, res.Passed, res.Reason)
	assert.GreaterOrEqual(t, res.Confidence, 0.4, "deep squeeze earns the full depth score")

	res = f.CheckBars(squeeze(100.1, 100.25, 100.45, 100.7, 100.6))
	assert.False(t, res.Passed)

	res = f.CheckBars(trend(50, 100, 1))
	assert.False(t, res.Passed)
	assert.Contains(t, res.Reason, "no squeeze")

	res = f.CheckBars(trend(10, 100, 1))
	assert.Contains(t, res.Reason, "insufficient bars")
}

func strongStats() backtest.Stats {
	return backtest.Stats{Trades: 20, Wins: 12, ProfitFactor: 2.0, WilsonLower: 0.45, AvgReturn: 0.01}
}

func TestValidatorDecide(t *testing.T) {
	v := NewPreTradeValidator(DefaultValidatorConfig())
	vol := volume.DefaultConfig()

	hot := vol.FromMetrics(1.6, 0.6, true)
	verdict := v.Decide(hot, strongStats())
	require.True(t, verdict.Result.Passed, verdict.Result.Reason)
	assert.Equal(t, TierPrimary, verdict.Tier)
	assert.InDelta(t, 0.4/1.5+0.15+0.15, verdict.BacktestConfidence, 1e-9)
	assert.InDelta(t, 0.3*verdict.BacktestConfidence+0.7*hot.RSVI, verdict.Result.Confidence, 1e-9)

	dead := vol.FromMetrics(-1.5, -0.8, true)
	verdict = v.Decide(dead, strongStats())
	assert.False(t, verdict.Result.Passed)
	assert.Equal(t, 0.0, verdict.Result.Confidence)
	assert.Contains(t, verdict.Result.Reason, "hard cut")

	small := strongStats()
	small.Trades = 3
	assert.Contains(t, v.Decide(hot, small).Result.Reason, "insufficient sample")

	relaxedReturn := backtest.Stats{Trades: 10, ProfitFactor: 1.1, WilsonLower: 0.3, AvgReturn: 0.005}
	verdict = v.Decide(hot, relaxedReturn)
	assert.Equal(t, TierRelaxedReturn, verdict.Tier)
	assert.Equal(t, 0.0, verdict.BacktestConfidence, "penalty floors at zero")
	assert.Contains(t, verdict.Result.Reason, "safety gate")

	relaxedPF := backtest.Stats{Trades: 10, ProfitFactor: 2.5, WilsonLower: 0.2, AvgReturn: -0.001}
	verdict = v.Decide(vol.FromMetrics(1.0, 0.2, true), relaxedPF)
	assert.Equal(t, TierRelaxedPF, verdict.Tier)
	assert.InDelta(t, 0.25, verdict.BacktestConfidence, 1e-9)
	assert.True(t, verdict.Result.Passed)

	poor := backtest.Stats{Trades: 10, ProfitFactor: 1.0, WilsonLower: 0.2}
	assert.Contains(t, v.Decide(hot, poor).Result.Reason, "below minimums")

	assert.Contains(t, v.Decide(volume.Signal{}, strongStats()).Result.Reason, "insufficient volume")
}

func TestSafetyGateBeatsHotVolume(t *testing.T) {
	v := NewPreTradeValidator(DefaultValidatorConfig())
	r := v.Blend(0.05, 0.9)
	assert.False(t, r.Passed)
	assert.Equal(t, 0.0, r.Confidence)

	assert.True(t, v.Blend(0.5, 0.5).Passed)
	assert.False(t, v.Blend(0.2, 0.4).Passed, "0.06+0.28 is below 0.4")
}

func TestValidatorStalePrice(t *testing.T) {
	v := NewPreTradeValidator(DefaultValidatorConfig())
	series := barstest.Generate(barstest.Spec{N: 60, Price: 100, Noise: 0.01, Seed: 8})
	last := series[len(series)-1].Close

	verdict := v.Validate("X", series, last*1.1)
	assert.Contains(t, verdict.Result.Reason, "stale data")

	verdict = v.Validate("X", series[:5], 0)
	assert.Contains(t, verdict.Result.Reason, "insufficient volume")
}

func TestFilterResultInvariantUnderRandomInput(t *testing.T) {
	cal, err := session.NewCalendar(session.DefaultConfig())
	require.NoError(t, err)
	sys, err := NewSystemGate(DefaultSystemConfig(), cal)
	require.NoError(t, err)

	flows := &fakeFlows{}
	book := &fakeBook{}
	filters := []Filter{
		sys,
		NewRegimeGate(DefaultRegimeGateConfig()),
		NewUniverseFilter(DefaultUniverseConfig()),
		NewConsensusFilter(DefaultConsensusConfig()),
		NewLiquidityFilter(DefaultLiquidityConfig(), flows, book, nil),
		NewTriggerFilter(DefaultTriggerConfig()),
		NewPreTradeValidator(DefaultValidatorConfig()),
	}

	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 60; i++ {
		n := 5 + rng.Intn(250)
		series := barstest.Generate(barstest.Spec{
			N:     n,
			Price: 10 + rng.Float64()*1000,
			Drift: (rng.Float64() - 0.5) * 0.01,
			Noise: rng.Float64() * 0.05,
			Seed:  rng.Int63(),
		})
		flows.series = randomFlows(rng)
		book.book.BidVolume = rng.Float64() * 1000
		book.book.AskVolume = rng.Float64() * 1000

		c := &Candidate{
			Code:      "R",
			Bars:      series,
			IndexBars: barstest.Generate(barstest.Spec{N: 40, Price: 2500, Noise: 0.01, Seed: rng.Int63()}),
			Now:       barstest.Start.Add(time.Duration(rng.Intn(24*60)) * time.Minute),
			Regime:    regime.State{Regime: regime.AllRegimes[rng.Intn(len(regime.AllRegimes))]},
		}
		for _, f := range filters {
			requireInvariant(t, SafeCheck(context.Background(), f, c))
		}
	}

	v := NewPreTradeValidator(DefaultValidatorConfig())
	vol := volume.DefaultConfig()
	for i := 0; i < 2000; i++ {
		sig := vol.FromMetrics(rng.Float64()*10-5, rng.Float64()*10-5, rng.Intn(5) > 0)
		stats := backtest.Stats{
			Trades:       rng.Intn(40),
			ProfitFactor: rng.Float64() * 12,
			WilsonLower:  rng.Float64(),
			AvgReturn:    rng.Float64()*0.06 - 0.03,
		}
		requireInvariant(t, v.Decide(sig, stats).Result)
	}
}
