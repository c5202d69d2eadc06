package regime

import (
	"math"
	"sync"
	"time"

	"github.com/sawpanic/signalgate/internal/domain/bars"
	"github.com/sawpanic/signalgate/internal/domain/indicators"
)

// DetectorConfig holds the windows and thresholds for regime classification
type DetectorConfig struct {
	VolWindow          int     `yaml:"vol_window" default:"20" validate:"min=2"`
	PercentileLookback int     `yaml:"percentile_lookback" default:"120" validate:"min=10"`
	MinHistory         int     `yaml:"min_history" default:"40" validate:"min=1"`
	HighVolPct         float64 `yaml:"high_vol_pct" default:"0.8" validate:"gt=0,lte=1"`
	LowVolPct          float64 `yaml:"low_vol_pct" default:"0.2" validate:"gte=0,lt=1"`
	TrendWindow        int     `yaml:"trend_window" default:"20" validate:"min=2"`
	TrendThreshold     float64 `yaml:"trend_threshold" default:"0.03" validate:"gt=0"`
	SlopeBars          int     `yaml:"slope_bars" default:"5" validate:"min=1"`
	HistorySize        int     `yaml:"history_size" default:"50" validate:"min=1"`
}

// DefaultDetectorConfig returns the production detection windows
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		VolWindow:          20,
		PercentileLookback: 120,
		MinHistory:         40,
		HighVolPct:         0.8,
		LowVolPct:          0.2,
		TrendWindow:        20,
		TrendThreshold:     0.03,
		SlopeBars:          5,
		HistorySize:        50,
	}
}

// Detection is one classification of the market index
type Detection struct {
	Regime         RegimeType `json:"regime"`
	RealizedVol    float64    `json:"realized_vol"`
	VolPercentile  float64    `json:"vol_percentile"`
	TrendDeviation float64    `json:"trend_deviation"`
	Confidence     float64    `json:"confidence"`
	Sufficient     bool       `json:"sufficient"`
	DetectedAt     time.Time  `json:"detected_at"`
	Previous       RegimeType `json:"previous"`
	Changed        bool       `json:"changed"`
}

// Detector classifies index bars by realized volatility percentile, refined by trend
type Detector struct {
	config DetectorConfig

	mu      sync.Mutex
	last    *Detection
	history []Detection
}

// NewDetector creates a detector; nil config uses defaults
func NewDetector(config *DetectorConfig) *Detector {
	cfg := DefaultDetectorConfig()
	if config != nil {
		cfg = *config
	}
	return &Detector{config: cfg}
}

// Reconfigure swaps the detection windows and thresholds; history is kept
func (d *Detector) Reconfigure(config *DetectorConfig) {
	if config == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config = *config
}

// Config returns the active detection settings
func (d *Detector) Config() DetectorConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// Detect classifies the market from index bars and records the result
func (d *Detector) Detect(index []bars.Bar) Detection {
	det := classify(d.Config(), index)

	d.mu.Lock()
	defer d.mu.Unlock()

	det.Previous = RegimeNormal
	if d.last != nil {
		det.Previous = d.last.Regime
	}
	det.Changed = det.Previous != det.Regime

	d.last = &det
	d.history = append(d.history, det)
	if over := len(d.history) - d.config.HistorySize; over > 0 {
		d.history = append([]Detection(nil), d.history[over:]...)
	}
	return det
}

// Last returns the most recent detection
func (d *Detector) Last() (Detection, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return Detection{}, false
	}
	return *d.last, true
}

// History returns recorded detections, oldest first
func (d *Detector) History() []Detection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Detection(nil), d.history...)
}

func classify(cfg DetectorConfig, index []bars.Bar) Detection {
	det := Detection{Regime: RegimeNormal}
	if last, ok := bars.Last(index); ok {
		det.DetectedAt = last.Timestamp
	}

	vols := realizedVolSeries(bars.Closes(index), cfg.VolWindow)
	if len(vols) < cfg.MinHistory+1 {
		return det
	}

	current := vols[len(vols)-1]
	past := vols[:len(vols)-1]
	if len(past) > cfg.PercentileLookback {
		past = past[len(past)-cfg.PercentileLookback:]
	}
	pct := indicators.PercentRank(past, current)

	det.Sufficient = true
	det.RealizedVol = current
	det.VolPercentile = pct

	switch {
	case pct >= cfg.HighVolPct:
		det.Regime = RegimeHighVol
		det.Confidence = 0.5 + 0.5*indicators.Scale(pct, cfg.HighVolPct, 1)
	case pct <= cfg.LowVolPct:
		det.Regime = RegimeLowVol
		det.Confidence = 0.5 + 0.5*indicators.Scale(cfg.LowVolPct-pct, 0, cfg.LowVolPct)
	default:
		det.Regime = RegimeNormal
		det.Confidence = 1 - math.Abs(pct-0.5)*2
	}

	if dir, dev, ok := trend(cfg, index); ok {
		det.TrendDeviation = dev
		if dir != "" {
			det.Regime = dir
			det.Confidence = indicators.Clip(math.Abs(dev)/(2*cfg.TrendThreshold), 0.5, 1)
		}
	}
	det.Confidence = indicators.Clip(det.Confidence, 0, 1)
	return det
}

// trend returns a directional regime when price has left its EMA and the EMA slope agrees
func trend(cfg DetectorConfig, index []bars.Bar) (RegimeType, float64, bool) {
	closes := bars.Closes(index)
	ema := indicators.EMASeries(closes, cfg.TrendWindow)
	if len(ema) < cfg.SlopeBars+1 {
		return "", 0, false
	}
	last := ema[len(ema)-1]
	if last <= 0 {
		return "", 0, false
	}
	dev := closes[len(closes)-1]/last - 1
	slope := last - ema[len(ema)-1-cfg.SlopeBars]

	switch {
	case dev >= cfg.TrendThreshold && slope > 0:
		return RegimeTrendingUp, dev, true
	case dev <= -cfg.TrendThreshold && slope < 0:
		return RegimeTrendingDown, dev, true
	}
	return "", dev, true
}

// realizedVolSeries returns the rolling population stdev of log returns; element i covers the
// window ending at return i+window-1
func realizedVolSeries(closes []float64, window int) []float64 {
	if len(closes) < 2 || window < 2 {
		return nil
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}
	if len(returns) < window {
		return nil
	}
	out := make([]float64, 0, len(returns)-window+1)
	for end := window; end <= len(returns); end++ {
		out = append(out, indicators.StdDev(returns[end-window:end]))
	}
	return out
}
