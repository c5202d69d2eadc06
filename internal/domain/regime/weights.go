package regime

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/sawpanic/signalgate/internal/domain/indicators"
)

// Factor names one of the alpha engine inputs
type Factor string

const (
	FactorMomentum           Factor = "momentum"
	FactorVolatilityBreakout Factor = "volatility_breakout"
	FactorMeanReversion      Factor = "mean_reversion"
	FactorVolumeFlow         Factor = "volume_flow"
	FactorInstitutionalFlow  Factor = "institutional_flow"
	FactorForeignFlow        Factor = "foreign_flow"
	FactorTrendQuality       Factor = "trend_quality"
	FactorRelativeStrength   Factor = "relative_strength"
)

// Factors is the fixed key set of every WeightSet, in canonical order
var Factors = []Factor{
	FactorMomentum,
	FactorVolatilityBreakout,
	FactorMeanReversion,
	FactorVolumeFlow,
	FactorInstitutionalFlow,
	FactorForeignFlow,
	FactorTrendQuality,
	FactorRelativeStrength,
}

// BaseWeight is the per-factor weight of the neutral set
const BaseWeight = 0.125

// WeightSet maps every factor to a non-negative weight. It is built wholesale and never mutated;
// accessors hand out copies.
type WeightSet struct {
	Regime  RegimeType
	Version uint64
	weights map[Factor]float64
}

// NewWeightSet validates the key set and weights
func NewWeightSet(regime RegimeType, weights map[Factor]float64) (WeightSet, error) {
	if len(weights) != len(Factors) {
		return WeightSet{}, fmt.Errorf("weight set needs %d factors, got %d", len(Factors), len(weights))
	}
	copied := make(map[Factor]float64, len(Factors))
	for _, f := range Factors {
		w, ok := weights[f]
		if !ok {
			return WeightSet{}, fmt.Errorf("weight set missing factor %s", f)
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return WeightSet{}, fmt.Errorf("invalid weight %v for factor %s", w, f)
		}
		copied[f] = w
	}
	return WeightSet{Regime: regime, weights: copied}, nil
}

// BaseWeights returns the neutral set used for NORMAL
func BaseWeights() WeightSet {
	weights := make(map[Factor]float64, len(Factors))
	for _, f := range Factors {
		weights[f] = BaseWeight
	}
	return WeightSet{Regime: RegimeNormal, weights: weights}
}

// Weight returns the weight of f, 0 for unknown factors
func (w WeightSet) Weight(f Factor) float64 {
	return w.weights[f]
}

// Map returns a copy of the weights
func (w WeightSet) Map() map[Factor]float64 {
	out := make(map[Factor]float64, len(w.weights))
	for f, v := range w.weights {
		out[f] = v
	}
	return out
}

// Total returns the weight mass
func (w WeightSet) Total() float64 {
	total := 0.0
	for _, f := range Factors {
		total += w.weights[f]
	}
	return total
}

// SameWeights compares weights only, ignoring regime and version
func (w WeightSet) SameWeights(other WeightSet) bool {
	for _, f := range Factors {
		if math.Abs(w.weights[f]-other.weights[f]) > 1e-12 {
			return false
		}
	}
	return true
}

func (w WeightSet) withVersion(v uint64) WeightSet {
	w.Version = v
	return w
}

// MarshalJSON renders the set with its regime and version
func (w WeightSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Regime  RegimeType         `json:"regime"`
		Version uint64             `json:"version"`
		Weights map[Factor]float64 `json:"weights"`
	}{w.Regime, w.Version, w.Map()})
}

// AdjusterConfig holds the tilt policy
type AdjusterConfig struct {
	// BaseTilt is the fraction of donor mass moved in HIGH_VOL/LOW_VOL at the threshold
	BaseTilt float64 `yaml:"base_tilt" default:"0.30" validate:"gte=0,lte=1"`
	// MaxTilt is reached at the extreme percentile (1.0 for HIGH_VOL, 0.0 for LOW_VOL)
	MaxTilt    float64 `yaml:"max_tilt" default:"0.45" validate:"gte=0,lte=1"`
	HighVolPct float64 `yaml:"high_vol_pct" default:"0.8" validate:"gt=0,lte=1"`
	LowVolPct  float64 `yaml:"low_vol_pct" default:"0.2" validate:"gte=0,lt=1"`
	TrendTilt  float64 `yaml:"trend_tilt" default:"0.2" validate:"gte=0,lte=1"`
}

// DefaultAdjusterConfig returns the production tilt policy
func DefaultAdjusterConfig() AdjusterConfig {
	return AdjusterConfig{
		BaseTilt:   0.30,
		MaxTilt:    0.45,
		HighVolPct: 0.8,
		LowVolPct:  0.2,
		TrendTilt:  0.2,
	}
}

var (
	volatilityFactors = []Factor{FactorMomentum, FactorVolatilityBreakout}
	reversionFactors  = []Factor{FactorMeanReversion, FactorInstitutionalFlow, FactorForeignFlow}
	trendFactors      = []Factor{FactorMomentum, FactorTrendQuality}
)

// WeightAdjuster derives the WeightSet for a regime by moving mass between factor groups
type WeightAdjuster struct {
	config AdjusterConfig
}

// NewWeightAdjuster creates an adjuster; nil config uses defaults
func NewWeightAdjuster(config *AdjusterConfig) *WeightAdjuster {
	cfg := DefaultAdjusterConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.MaxTilt < cfg.BaseTilt {
		cfg.MaxTilt = cfg.BaseTilt
	}
	return &WeightAdjuster{config: cfg}
}

// AdjustWeights returns the weight set for regime. volPct optionally scales the volatility tilt.
// The result carries Version 0; the regime store stamps versions on publish.
func (wa *WeightAdjuster) AdjustWeights(regime RegimeType, volPct *float64) WeightSet {
	base := BaseWeights()
	weights := base.weights

	switch regime {
	case RegimeHighVol:
		shift(weights, reversionFactors, volatilityFactors, wa.tilt(regime, volPct))
	case RegimeLowVol:
		shift(weights, volatilityFactors, reversionFactors, wa.tilt(regime, volPct))
	case RegimeTrendingUp, RegimeTrendingDown:
		shift(weights, others(trendFactors), trendFactors, wa.config.TrendTilt)
	default:
		regime = RegimeNormal
	}

	return WeightSet{Regime: regime, weights: weights}
}

func (wa *WeightAdjuster) tilt(regime RegimeType, volPct *float64) float64 {
	cfg := wa.config
	if volPct == nil {
		return cfg.BaseTilt
	}
	p := *volPct
	extra := 0.0
	switch regime {
	case RegimeHighVol:
		if cfg.HighVolPct < 1 {
			extra = indicators.Clip((p-cfg.HighVolPct)/(1-cfg.HighVolPct), 0, 1)
		}
	case RegimeLowVol:
		if cfg.LowVolPct > 0 {
			extra = indicators.Clip((cfg.LowVolPct-p)/cfg.LowVolPct, 0, 1)
		}
	}
	return cfg.BaseTilt + (cfg.MaxTilt-cfg.BaseTilt)*extra
}

// shift moves fraction of every donor's weight and spreads it evenly over recipients
func shift(weights map[Factor]float64, donors, recipients []Factor, fraction float64) {
	fraction = indicators.Clip(fraction, 0, 1)
	moved := 0.0
	for _, f := range donors {
		give := weights[f] * fraction
		weights[f] -= give
		moved += give
	}
	share := moved / float64(len(recipients))
	for _, f := range recipients {
		weights[f] += share
	}
}

func others(exclude []Factor) []Factor {
	var out []Factor
	for _, f := range Factors {
		skip := false
		for _, e := range exclude {
			if f == e {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, f)
		}
	}
	return out
}
