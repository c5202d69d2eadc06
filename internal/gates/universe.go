package gates

import (
	"context"
	"fmt"
	"sort"

	"github.com/sawpanic/signalgate/internal/domain/bars"
	"github.com/sawpanic/signalgate/internal/domain/indicators"
)

// UniverseConfig sets the relative strength screen
type UniverseConfig struct {
	Lookback            int     `yaml:"lookback" default:"20" validate:"min=1"`
	MinRelativeStrength float64 `yaml:"min_relative_strength" default:"0"`
	Saturation          float64 `yaml:"rs_saturation" default:"0.10" validate:"gt=0"`
	DegradedConfidence  float64 `yaml:"degraded_confidence" default:"0.5" validate:"gte=0,lte=1"`
}

// DefaultUniverseConfig returns the production screen
func DefaultUniverseConfig() UniverseConfig {
	return UniverseConfig{Lookback: 20, MinRelativeStrength: 0, Saturation: 0.10, DegradedConfidence: 0.5}
}

// UniverseFilter keeps instruments outperforming the market index
type UniverseFilter struct {
	config UniverseConfig
}

func NewUniverseFilter(config UniverseConfig) *UniverseFilter {
	return &UniverseFilter{config: config}
}

func (f *UniverseFilter) Name() Stage { return StageUniverse }

func (f *UniverseFilter) Check(_ context.Context, c *Candidate) FilterResult {
	return f.CheckBars(c.Bars, c.IndexBars)
}

// CheckBars screens series against index
func (f *UniverseFilter) CheckBars(series, index []bars.Bar) FilterResult {
	cfg := f.config
	codeRet, err := periodReturn(series, cfg.Lookback)
	if err != nil {
		return Failf("relative strength: %v", err)
	}
	indexRet, err := periodReturn(index, cfg.Lookback)
	if err != nil {
		return Degrade(cfg.DegradedConfidence, "market index unavailable, relative strength skipped")
	}

	rs := RelativeStrength(codeRet, indexRet)
	if rs < cfg.MinRelativeStrength {
		return Failf("relative strength %.2f%% below %.2f%%", rs*100, cfg.MinRelativeStrength*100)
	}
	return Passf(0.5+0.5*indicators.Clip(rs/cfg.Saturation, 0, 1), "relative strength %.2f%% vs index", rs*100)
}

// Ranked is a candidate ordered by relative strength
type Ranked struct {
	Code             string  `json:"code"`
	RelativeStrength float64 `json:"relative_strength"`
}

// Rank orders candidates by relative strength, strongest first, ties by code. Candidates
// without enough bars are left out. topN <= 0 keeps all.
func (f *UniverseFilter) Rank(candidates []*Candidate, index []bars.Bar, topN int) []Ranked {
	indexRet, err := periodReturn(index, f.config.Lookback)
	if err != nil {
		indexRet = 0
	}
	out := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		ret, err := periodReturn(c.Bars, f.config.Lookback)
		if err != nil {
			continue
		}
		out = append(out, Ranked{Code: c.Code, RelativeStrength: RelativeStrength(ret, indexRet)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RelativeStrength != out[j].RelativeStrength {
			return out[i].RelativeStrength > out[j].RelativeStrength
		}
		return out[i].Code < out[j].Code
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// RelativeStrength compares two period returns multiplicatively
func RelativeStrength(codeReturn, indexReturn float64) float64 {
	if indexReturn <= -1 {
		return 0
	}
	return (1+codeReturn)/(1+indexReturn) - 1
}

func periodReturn(series []bars.Bar, lookback int) (float64, error) {
	if len(series) < lookback+1 {
		return 0, fmt.Errorf("%w: have %d bars, need %d", bars.ErrInsufficientBars, len(series), lookback+1)
	}
	base := series[len(series)-1-lookback].Close
	if base <= 0 {
		return 0, fmt.Errorf("non-positive base close %.4f", base)
	}
	return series[len(series)-1].Close/base - 1, nil
}
