// Package volume computes volume participation signals: a rolling volume Z-score, a lagged volume
// rate of change and the RSVI composite built from them.
package volume

import (
	"github.com/sawpanic/signalgate/internal/domain/bars"
	"github.com/sawpanic/signalgate/internal/domain/indicators"
)

// NoLiquidityROC is reported when the rate of change has no usable denominator
const NoLiquidityROC = -1.0

// Config holds the windows and bounds for volume signals
type Config struct {
	ZWindow  int     `yaml:"z_window" default:"20" validate:"min=2"`
	ROCLag   int     `yaml:"roc_lag" default:"10" validate:"min=1"`
	ClipAbs  float64 `yaml:"clip_abs" default:"5" validate:"gt=0"`
	HardCutZ float64 `yaml:"hard_cut_z" default:"-1.0"`
	// HardCutROC pairs with HardCutZ: both must be breached for the hard cut
	HardCutROC float64   `yaml:"hard_cut_roc" default:"-0.5"`
	Table      RSVITable `yaml:"rsvi_table"`
}

// DefaultConfig returns the production windows and the default RSVI step table
func DefaultConfig() Config {
	return Config{
		ZWindow:    20,
		ROCLag:     10,
		ClipAbs:    5.0,
		HardCutZ:   -1.0,
		HardCutROC: -0.5,
		Table:      DefaultRSVITable(),
	}
}

// Signal is the volume state of the latest bar
type Signal struct {
	ZScore  float64 `json:"vol_z20"`
	ROC     float64 `json:"vroc10"`
	RSVI    float64 `json:"rsvi"`
	HardCut bool    `json:"hard_cut"`
	// Sufficient is false when the Z-score window could not be filled
	Sufficient bool `json:"sufficient"`
}

// ZScore returns the clipped Z-score of the latest volume against the preceding window
func ZScore(volumes []float64, window int, clipAbs float64) (float64, bool) {
	z, ok := indicators.ZScoreLast(volumes, window)
	if !ok {
		return 0, false
	}
	return indicators.Clip(z, -clipAbs, clipAbs), true
}

// RateOfChange returns (v[t]-v[t-lag])/v[t-lag], clipped. Missing history or a non-positive
// denominator reads as NoLiquidityROC.
func RateOfChange(volumes []float64, lag int, clipAbs float64) float64 {
	if lag <= 0 || len(volumes) < lag+1 {
		return NoLiquidityROC
	}
	base := volumes[len(volumes)-1-lag]
	if base <= 0 {
		return NoLiquidityROC
	}
	roc := (volumes[len(volumes)-1] - base) / base
	return indicators.Clip(roc, -clipAbs, clipAbs)
}

// IsHardCut reports whether volume has structurally dried up
func (c Config) IsHardCut(z, roc float64) bool {
	return z < c.HardCutZ && roc < c.HardCutROC
}

// Analyze computes the full volume signal for the latest bar
func (c Config) Analyze(series []bars.Bar) Signal {
	volumes := bars.Volumes(series)
	z, ok := ZScore(volumes, c.ZWindow, c.ClipAbs)
	roc := RateOfChange(volumes, c.ROCLag, c.ClipAbs)
	return c.FromMetrics(z, roc, ok)
}

// FromMetrics builds a Signal from precomputed metrics
func (c Config) FromMetrics(z, roc float64, sufficient bool) Signal {
	return Signal{
		ZScore:     z,
		ROC:        roc,
		RSVI:       c.Table.Score(z, roc),
		HardCut:    c.IsHardCut(z, roc),
		Sufficient: sufficient,
	}
}
