package gates

import (
	"context"
	"fmt"
	"strings"

	"github.com/sawpanic/signalgate/internal/domain/bars"
	"github.com/sawpanic/signalgate/internal/domain/indicators"
)

// ConsensusConfig defines the aggregation levels and score saturation points
type ConsensusConfig struct {
	// Levels are resample factors of the base series; the first is the base level
	Levels                 []int   `yaml:"levels" default:"[1,3,6]" validate:"len=3,dive,min=1"`
	MinAligned             int     `yaml:"min_aligned" default:"2" validate:"min=1,max=3"`
	MinBars                int     `yaml:"min_bars" default:"20" validate:"min=2"`
	VWAPWindow             int     `yaml:"vwap_window" default:"20" validate:"min=1"`
	MAWindow               int     `yaml:"ma_window" default:"20" validate:"min=2"`
	BreakoutSaturationPct  float64 `yaml:"breakout_saturation_pct" default:"0.01" validate:"gt=0"`
	AlignmentSaturationPct float64 `yaml:"alignment_saturation_pct" default:"0.01" validate:"gt=0"`
	VolumeWindow           int     `yaml:"volume_window" default:"20" validate:"min=2"`
	VolumeSaturationZ      float64 `yaml:"volume_saturation_z" default:"3" validate:"gt=0"`
}

// DefaultConsensusConfig returns the production levels
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		Levels:                 []int{1, 3, 6},
		MinAligned:             2,
		MinBars:                20,
		VWAPWindow:             20,
		MAWindow:               20,
		BreakoutSaturationPct:  0.01,
		AlignmentSaturationPct: 0.01,
		VolumeWindow:           20,
		VolumeSaturationZ:      3,
	}
}

// ConsensusFilter requires direction to agree across aggregation levels
type ConsensusFilter struct {
	config ConsensusConfig
}

func NewConsensusFilter(config ConsensusConfig) *ConsensusFilter {
	return &ConsensusFilter{config: config}
}

func (f *ConsensusFilter) Name() Stage { return StageConsensus }

func (f *ConsensusFilter) Check(_ context.Context, c *Candidate) FilterResult {
	return f.CheckBars(c.Code, c.Bars)
}

type levelView struct {
	factor    int
	close     float64
	reference float64
	aligned   bool
}

// RequiredBars returns the base bars needed to fill every level
func (f *ConsensusFilter) RequiredBars() int {
	widest := 1
	for _, l := range f.config.Levels {
		if l > widest {
			widest = l
		}
	}
	return widest * f.config.MinBars
}

// CheckBars evaluates the consensus on one base series
func (f *ConsensusFilter) CheckBars(code string, series []bars.Bar) FilterResult {
	cfg := f.config
	if len(cfg.Levels) == 0 {
		return Fail("consensus has no levels configured")
	}

	views := make([]levelView, 0, len(cfg.Levels))
	for i, factor := range cfg.Levels {
		level := bars.Resample(series, factor)
		if len(level) < cfg.MinBars {
			return Failf("insufficient bars at level x%d: have %d, need %d", factor, len(level), cfg.MinBars)
		}
		last := level[len(level)-1]

		var ref float64
		if i == 0 {
			if vwap := indicators.CalculateVWAP(level, cfg.VWAPWindow); vwap.IsValid {
				ref = vwap.Value
			}
		}
		if ref <= 0 {
			ema := indicators.CalculateEMA(bars.Closes(level), cfg.MAWindow)
			if !ema.IsValid {
				return Failf("insufficient bars for EMA(%d) at level x%d", cfg.MAWindow, factor)
			}
			ref = ema.Value
		}
		views = append(views, levelView{factor: factor, close: last.Close, reference: ref, aligned: last.Close > ref})
	}

	aligned := 0
	var flags []string
	for _, v := range views {
		if v.aligned {
			aligned++
		}
		flags = append(flags, fmt.Sprintf("x%d=%t", v.factor, v.aligned))
	}
	summary := strings.Join(flags, " ")
	if aligned < cfg.MinAligned {
		return Failf("%d/%d levels aligned (%s)", aligned, len(views), summary)
	}

	base := views[0]
	breakout := 0.4 * indicators.Clip(pctAbove(base.close, base.reference)/cfg.BreakoutSaturationPct, 0, 1)

	alignment := 0.0
	if len(views) > 1 {
		sum := 0.0
		for _, v := range views[1:] {
			sum += pctAbove(v.close, v.reference)
		}
		alignment = 0.3 * indicators.Clip(sum/float64(len(views)-1)/cfg.AlignmentSaturationPct, 0, 1)
	}

	surge := 0.0
	if z, ok := indicators.ZScoreLast(bars.Volumes(series), cfg.VolumeWindow); ok {
		surge = 0.3 * indicators.Clip(z/cfg.VolumeSaturationZ, 0, 1)
	}

	return Passf(breakout+alignment+surge, "%d/%d levels aligned (%s), breakout %.2f alignment %.2f volume %.2f",
		aligned, len(views), summary, breakout, alignment, surge)
}

// pctAbove returns the fractional distance of price above ref, 0 when below
func pctAbove(price, ref float64) float64 {
	if ref <= 0 || price <= ref {
		return 0
	}
	return price/ref - 1
}
