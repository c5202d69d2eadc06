package alpha

import (
	"math"

	"github.com/sawpanic/signalgate/internal/domain/bars"
	"github.com/sawpanic/signalgate/internal/domain/indicators"
	"github.com/sawpanic/signalgate/internal/domain/regime"
)

// FlowReadings are the liquidity z-scores shared by the liquidity filter
type FlowReadings struct {
	InstitutionalZ float64
	ForeignZ       float64
}

// Inputs is what the factors read for one instrument
type Inputs struct {
	Bars      []bars.Bar
	IndexBars []bars.Bar
	// Flows is nil when the flow provider was unavailable
	Flows *FlowReadings
}

// FactorConfig holds lookbacks and saturation points of the factor scores
type FactorConfig struct {
	MomentumLag        int     `yaml:"momentum_lag" default:"10" validate:"min=1"`
	MomentumSaturation float64 `yaml:"momentum_saturation" default:"0.05" validate:"gt=0"`
	BreakoutWindow     int     `yaml:"breakout_window" default:"20" validate:"min=2"`
	ATRPeriod          int     `yaml:"atr_period" default:"14" validate:"min=1"`
	RSIPeriod          int     `yaml:"rsi_period" default:"14" validate:"min=2"`
	VolumeWindow       int     `yaml:"volume_window" default:"20" validate:"min=2"`
	FlowSaturationZ    float64 `yaml:"flow_saturation_z" default:"3" validate:"gt=0"`
	TrendWindow        int     `yaml:"trend_window" default:"20" validate:"min=3"`
	RSLookback         int     `yaml:"rs_lookback" default:"20" validate:"min=1"`
	RSSaturation       float64 `yaml:"rs_saturation" default:"0.10" validate:"gt=0"`
}

// DefaultFactorConfig returns the production factor settings
func DefaultFactorConfig() FactorConfig {
	return FactorConfig{
		MomentumLag:        10,
		MomentumSaturation: 0.05,
		BreakoutWindow:     20,
		ATRPeriod:          14,
		RSIPeriod:          14,
		VolumeWindow:       20,
		FlowSaturationZ:    3,
		TrendWindow:        20,
		RSLookback:         20,
		RSSaturation:       0.10,
	}
}

// scoreFactors computes every factor in [-1,1]; a factor without enough data scores 0
func scoreFactors(cfg FactorConfig, in Inputs) map[regime.Factor]float64 {
	closes := bars.Closes(in.Bars)
	scores := make(map[regime.Factor]float64, len(regime.Factors))

	scores[regime.FactorMomentum] = momentum(closes, cfg)
	scores[regime.FactorVolatilityBreakout] = breakout(in.Bars, cfg)
	scores[regime.FactorMeanReversion] = meanReversion(closes, cfg)
	scores[regime.FactorVolumeFlow] = volumeFlow(in.Bars, cfg)
	scores[regime.FactorTrendQuality] = trendQuality(closes, cfg)
	scores[regime.FactorRelativeStrength] = relativeStrength(closes, bars.Closes(in.IndexBars), cfg)
	if in.Flows != nil {
		scores[regime.FactorInstitutionalFlow] = unit(in.Flows.InstitutionalZ / cfg.FlowSaturationZ)
		scores[regime.FactorForeignFlow] = unit(in.Flows.ForeignZ / cfg.FlowSaturationZ)
	} else {
		scores[regime.FactorInstitutionalFlow] = 0
		scores[regime.FactorForeignFlow] = 0
	}
	return scores
}

func unit(v float64) float64 { return indicators.Clip(v, -1, 1) }

func momentum(closes []float64, cfg FactorConfig) float64 {
	mom := indicators.MomentumSeries(closes, cfg.MomentumLag)
	if len(mom) == 0 {
		return 0
	}
	base := closes[len(closes)-1-cfg.MomentumLag]
	if base <= 0 {
		return 0
	}
	return unit(mom[len(mom)-1] / base / cfg.MomentumSaturation)
}

// breakout measures the close against the prior range high in ATR units
func breakout(series []bars.Bar, cfg FactorConfig) float64 {
	if len(series) < cfg.BreakoutWindow+1 {
		return 0
	}
	atr := indicators.CalculateATR(series, cfg.ATRPeriod)
	if !atr.IsValid || atr.Value <= 0 {
		return 0
	}
	prior := series[len(series)-1-cfg.BreakoutWindow : len(series)-1]
	high, _ := bars.SessionHighLow(prior)
	return unit((series[len(series)-1].Close - high) / atr.Value)
}

// meanReversion is positive when oversold
func meanReversion(closes []float64, cfg FactorConfig) float64 {
	rsi := indicators.CalculateRSI(closes, cfg.RSIPeriod)
	if !rsi.IsValid {
		return 0
	}
	return unit((50 - rsi.Value) / 50)
}

func volumeFlow(series []bars.Bar, cfg FactorConfig) float64 {
	z, ok := indicators.ZScoreLast(bars.Volumes(series), cfg.VolumeWindow)
	if !ok {
		return 0
	}
	return unit(z / cfg.FlowSaturationZ)
}

// trendQuality is the R² of a linear fit over the trend window, signed by the slope
func trendQuality(closes []float64, cfg FactorConfig) float64 {
	if len(closes) < cfg.TrendWindow {
		return 0
	}
	window := closes[len(closes)-cfg.TrendWindow:]
	slope, r2 := linearFit(window)
	if slope == 0 {
		return 0
	}
	return unit(math.Copysign(r2, slope))
}

func relativeStrength(closes, index []float64, cfg FactorConfig) float64 {
	n := cfg.RSLookback
	if len(closes) < n+1 || len(index) < n+1 {
		return 0
	}
	cBase, iBase := closes[len(closes)-1-n], index[len(index)-1-n]
	if cBase <= 0 || iBase <= 0 {
		return 0
	}
	rs := (closes[len(closes)-1]/cBase)/(index[len(index)-1]/iBase) - 1
	return unit(rs / cfg.RSSaturation)
}

// linearFit regresses values on their index and returns slope and R²
func linearFit(values []float64) (slope, r2 float64) {
	n := float64(len(values))
	if n < 2 {
		return 0, 0
	}
	meanX := (n - 1) / 2
	meanY := indicators.Mean(values)
	var sxy, sxx, syy float64
	for i, y := range values {
		dx := float64(i) - meanX
		dy := y - meanY
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0, 0
	}
	slope = sxy / sxx
	r2 = (sxy * sxy) / (sxx * syy)
	return slope, r2
}
