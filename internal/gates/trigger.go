package gates

import (
	"context"

	"github.com/sawpanic/signalgate/internal/domain/bars"
	"github.com/sawpanic/signalgate/internal/domain/indicators"
)

// TriggerConfig describes the squeeze and momentum expansion pattern
type TriggerConfig struct {
	BBPeriod         int     `yaml:"bb_period" default:"20" validate:"min=2"`
	BBStdDev         float64 `yaml:"bb_stddev" default:"2" validate:"gt=0"`
	KCPeriod         int     `yaml:"kc_period" default:"20" validate:"min=2"`
	ATRPeriod        int     `yaml:"atr_period" default:"14" validate:"min=1"`
	KCMultiplier     float64 `yaml:"kc_multiplier" default:"1.5" validate:"gt=0"`
	MomentumLag      int     `yaml:"momentum_lag" default:"12" validate:"min=1"`
	RisingBars       int     `yaml:"rising_bars" default:"3" validate:"min=2"`
	AccelWindow      int     `yaml:"accel_window" default:"20" validate:"min=2"`
	AccelSaturationZ float64 `yaml:"accel_saturation_z" default:"2" validate:"gt=0"`
	DepthSaturation  float64 `yaml:"depth_saturation" default:"0.5" validate:"gt=0"`
	WidthWindow      int     `yaml:"width_window" default:"20" validate:"min=1"`
	WidthSaturation  float64 `yaml:"width_saturation" default:"0.5" validate:"gt=0"`
	VWAPWindow       int     `yaml:"vwap_window" default:"20" validate:"min=1"`
}

// DefaultTriggerConfig returns the production squeeze settings
func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		BBPeriod:         20,
		BBStdDev:         2,
		KCPeriod:         20,
		ATRPeriod:        14,
		KCMultiplier:     1.5,
		MomentumLag:      12,
		RisingBars:       3,
		AccelWindow:      20,
		AccelSaturationZ: 2,
		DepthSaturation:  0.5,
		WidthWindow:      20,
		WidthSaturation:  0.5,
		VWAPWindow:       20,
	}
}

// TriggerFilter fires on a volatility squeeze with rising momentum
type TriggerFilter struct {
	config TriggerConfig
}

func NewTriggerFilter(config TriggerConfig) *TriggerFilter {
	return &TriggerFilter{config: config}
}

func (f *TriggerFilter) Name() Stage { return StageTrigger }

func (f *TriggerFilter) Check(_ context.Context, c *Candidate) FilterResult {
	return f.CheckBars(c.Bars)
}

// RequiredBars returns the history needed for every component
func (f *TriggerFilter) RequiredBars() int {
	cfg := f.config
	need := cfg.BBPeriod + cfg.WidthWindow - 1
	// momentum needs lag, acceleration two more bars, its z-score a window plus one
	if n := cfg.MomentumLag + 2 + cfg.AccelWindow + 1; n > need {
		need = n
	}
	if n := cfg.MomentumLag + cfg.RisingBars; n > need {
		need = n
	}
	if n := cfg.KCPeriod; n > need {
		need = n
	}
	if n := cfg.ATRPeriod + 1; n > need {
		need = n
	}
	return need
}

// CheckBars evaluates the squeeze on series
func (f *TriggerFilter) CheckBars(series []bars.Bar) FilterResult {
	cfg := f.config
	if need := f.RequiredBars(); len(series) < need {
		return Failf("insufficient bars for trigger: have %d, need %d", len(series), need)
	}
	closes := bars.Closes(series)
	last := closes[len(closes)-1]

	bb := indicators.CalculateBollinger(closes, cfg.BBPeriod, cfg.BBStdDev)
	kc := indicators.CalculateKeltner(series, cfg.KCPeriod, cfg.ATRPeriod, cfg.KCMultiplier)
	if !bb.IsValid || !kc.IsValid || kc.Width() <= 0 {
		return Fail("bands not computable")
	}
	if !kc.Contains(bb) {
		return Failf("no squeeze: BB width %.4f vs KC width %.4f", bb.Width(), kc.Width())
	}

	mom := indicators.MomentumSeries(closes, cfg.MomentumLag)
	for i := len(mom) - cfg.RisingBars + 1; i < len(mom); i++ {
		if mom[i] <= mom[i-1] {
			return Failf("momentum not rising over %d bars", cfg.RisingBars)
		}
	}

	if vwap := indicators.CalculateVWAP(series, cfg.VWAPWindow); vwap.IsValid && last <= vwap.Value {
		return Failf("close %.4f not above VWAP %.4f", last, vwap.Value)
	}

	ratio := bb.Width() / kc.Width()
	depth := 0.4 * indicators.Clip((1-ratio)/cfg.DepthSaturation, 0, 1)

	accel := make([]float64, 0, len(mom)-2)
	for i := 2; i < len(mom); i++ {
		accel = append(accel, mom[i]-mom[i-2])
	}
	accelScore := 0.0
	if z, ok := indicators.ZScoreLast(accel, cfg.AccelWindow); ok {
		accelScore = 0.3 * indicators.Clip(z/cfg.AccelSaturationZ, 0, 1)
	}

	widthScore := 0.0
	widths := indicators.BollingerWidthSeries(closes, cfg.BBPeriod, cfg.BBStdDev)
	if len(widths) >= cfg.WidthWindow {
		if avg := indicators.Mean(widths[len(widths)-cfg.WidthWindow:]); avg > 0 {
			widthScore = 0.3 * indicators.Clip((1-bb.Width()/avg)/cfg.WidthSaturation, 0, 1)
		}
	}

	return Passf(depth+accelScore+widthScore, "squeeze ratio %.2f, depth %.2f accel %.2f width %.2f",
		ratio, depth, accelScore, widthScore)
}
