package alpha

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalgate/internal/domain/bars"
	"github.com/sawpanic/signalgate/internal/domain/bars/barstest"
	"github.com/sawpanic/signalgate/internal/domain/regime"
)

func line(start, step float64, n int) []bars.Bar {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start + step*float64(i)
	}
	return barstest.FromCloses(closes, 1000)
}

func TestComputeRisingSeriesAccepted(t *testing.T) {
	engine := NewEngine(DefaultConfig(), regime.BaseWeights())
	in := Inputs{Bars: line(100, 1, 41), IndexBars: barstest.Flat(41, 100, 1000)}

	res := engine.Compute("005930", in)

	assert.Equal(t, 1.0, res.Scores[regime.FactorMomentum])
	assert.Equal(t, 1.0, res.Scores[regime.FactorVolatilityBreakout])
	assert.Equal(t, -1.0, res.Scores[regime.FactorMeanReversion], "overbought")
	assert.Equal(t, 0.0, res.Scores[regime.FactorVolumeFlow])
	assert.InDelta(t, 1.0, res.Scores[regime.FactorTrendQuality], 1e-9)
	assert.Equal(t, 1.0, res.Scores[regime.FactorRelativeStrength])
	assert.Equal(t, 0.0, res.Scores[regime.FactorInstitutionalFlow], "no flows")

	assert.InDelta(t, 0.375, res.Aggregate, 1e-9)
	assert.True(t, res.Accepted)
	assert.Equal(t, regime.RegimeNormal, res.Regime)
}

func TestComputeFallingSeriesRejected(t *testing.T) {
	engine := NewEngine(DefaultConfig(), regime.BaseWeights())
	in := Inputs{Bars: line(140, -1, 41), IndexBars: barstest.Flat(41, 100, 1000)}

	res := engine.Compute("000660", in)

	assert.InDelta(t, -0.375, res.Aggregate, 1e-9)
	assert.False(t, res.Accepted)
	assert.Contains(t, res.Reason, "below")
}

func TestFlowScoresSaturate(t *testing.T) {
	engine := NewEngine(DefaultConfig(), regime.BaseWeights())
	in := Inputs{
		Bars:  line(100, 0.1, 41),
		Flows: &FlowReadings{InstitutionalZ: 6, ForeignZ: -1.5},
	}

	res := engine.Compute("035420", in)

	assert.Equal(t, 1.0, res.Scores[regime.FactorInstitutionalFlow])
	assert.InDelta(t, -0.5, res.Scores[regime.FactorForeignFlow], 1e-9)
	assert.Equal(t, 0.0, res.Scores[regime.FactorRelativeStrength], "missing index scores neutral")
}

func TestScoresBoundedAndContributionsSum(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	store := regime.NewStore(nil)
	for i := 0; i < 200; i++ {
		pct := rng.Float64()
		state, _ := store.Set(regime.AllRegimes[rng.Intn(len(regime.AllRegimes))], &pct, time.Now())
		engine := NewEngine(DefaultConfig(), state.Weights)

		series := barstest.Generate(barstest.Spec{
			N: 30 + rng.Intn(60), Price: 50 + rng.Float64()*100, Drift: rng.Float64()*0.02 - 0.01,
			Noise: rng.Float64() * 0.05, Volume: 1000, Seed: rng.Int63(),
		})
		index := barstest.Generate(barstest.Spec{N: 60, Price: 2500, Noise: 0.01, Volume: 1000, Seed: rng.Int63()})
		flows := &FlowReadings{InstitutionalZ: rng.NormFloat64() * 4, ForeignZ: rng.NormFloat64() * 4}

		res := engine.Compute("X", Inputs{Bars: series, IndexBars: index, Flows: flows})

		sum := 0.0
		for _, f := range regime.Factors {
			require.GreaterOrEqual(t, res.Scores[f], -1.0)
			require.LessOrEqual(t, res.Scores[f], 1.0)
			sum += res.Contributions[f]
		}
		require.InDelta(t, res.Aggregate, sum, 1e-9)
		require.GreaterOrEqual(t, res.Aggregate, -1.0-1e-9)
		require.LessOrEqual(t, res.Aggregate, 1.0+1e-9)
	}
}

func TestCacheRebuildsOnlyOnNewVersion(t *testing.T) {
	store := regime.NewStore(nil)
	cache := NewCache(DefaultConfig())

	first := cache.Engine(store.Current().Weights)
	again := cache.Engine(store.Current().Weights)
	assert.Same(t, first, again)
	assert.Equal(t, 1, cache.Builds())

	pct := 0.95
	state, changed := store.Set(regime.RegimeHighVol, &pct, time.Now())
	require.True(t, changed)

	rebuilt := cache.Engine(state.Weights)
	assert.NotSame(t, first, rebuilt)
	assert.Equal(t, state.Version, rebuilt.Version())
	assert.Equal(t, 2, cache.Builds())

	cache.Engine(state.Weights)
	assert.Equal(t, 2, cache.Builds())
}

func TestLinearFit(t *testing.T) {
	slope, r2 := linearFit([]float64{1, 3, 5, 7})
	assert.InDelta(t, 2.0, slope, 1e-9)
	assert.InDelta(t, 1.0, r2, 1e-9)

	slope, r2 = linearFit([]float64{4, 4, 4})
	assert.Equal(t, 0.0, slope)
	assert.Equal(t, 0.0, r2)
}
