package volume

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalgate/internal/domain/bars/barstest"
)

func TestRateOfChange(t *testing.T) {
	tests := []struct {
		name    string
		volumes []float64
		want    float64
	}{
		{"doubling", []float64{100, 1, 1, 200}, 1.0},
		{"halving", []float64{100, 1, 1, 50}, -0.5},
		{"zero denominator", []float64{0, 1, 1, 50}, NoLiquidityROC},
		{"insufficient history", []float64{1, 2}, NoLiquidityROC},
		{"clipped", []float64{1, 1, 1, 1000}, 5.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RateOfChange(tt.volumes, 3, 5), 1e-9)
		})
	}
}

func TestZScoreClipped(t *testing.T) {
	volumes := []float64{10, 11, 9, 10, 11, 9, 10, 11, 9, 10, 10000}
	z, ok := ZScore(volumes, 10, 5)
	require.True(t, ok)
	assert.Equal(t, 5.0, z)

	_, ok = ZScore(volumes[:5], 10, 5)
	assert.False(t, ok)
}

func TestRSVITable(t *testing.T) {
	table := DefaultRSVITable()

	assert.InDelta(t, 1.0, table.Score(2.5, 1.5), 1e-9)
	assert.InDelta(t, 0.5+0.3, table.Score(1.5, 0.6), 1e-9)
	assert.InDelta(t, 0.0, table.Score(-2, -1), 1e-9)
	assert.InDelta(t, 0.2+0.1, table.Score(0, 0), 1e-9)

	assert.InDelta(t, table.Score(1.2, 0.3), RSVITable{}.Score(1.2, 0.3), 1e-9, "empty table falls back to defaults")
}

func TestRSVIBoundedUnderRandomInputs(t *testing.T) {
	table := DefaultRSVITable()
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		z := rng.Float64()*20 - 10
		roc := rng.Float64()*20 - 10
		score := table.Score(z, roc)
		require.GreaterOrEqual(t, score, 0.0)
		require.LessOrEqual(t, score, 1.0)
	}
}

func TestHardCut(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.IsHardCut(-1.5, -0.8))
	assert.False(t, cfg.IsHardCut(-1.5, -0.2), "both metrics must be dead")
	assert.False(t, cfg.IsHardCut(-0.5, -0.8))

	sig := cfg.FromMetrics(-1.5, -0.8, true)
	assert.True(t, sig.HardCut)
}

func TestAnalyze(t *testing.T) {
	cfg := DefaultConfig()

	series := barstest.Generate(barstest.Spec{N: 40, Price: 100, Noise: 0.01, Volume: 1000, Seed: 9})
	surge := barstest.WithVolumes(series, 8000)

	sig := cfg.Analyze(surge)
	require.True(t, sig.Sufficient)
	assert.Greater(t, sig.ZScore, 2.0)
	assert.Greater(t, sig.ROC, 1.0)
	assert.False(t, sig.HardCut)
	assert.InDelta(t, 1.0, sig.RSVI, 1e-9)

	short := cfg.Analyze(series[:5])
	assert.False(t, short.Sufficient)
	assert.Equal(t, NoLiquidityROC, short.ROC)
}
