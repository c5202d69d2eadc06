package eod

import (
	"fmt"

	"github.com/sawpanic/signalgate/internal/domain/bars"
	"github.com/sawpanic/signalgate/internal/domain/indicators"
	"github.com/sawpanic/signalgate/internal/domain/volume"
)

// ScoringConfig holds the EOD score components. Component caps: trend 0.45, volume 0.3,
// news 0.3, volatility 0.1, close quality 0.35; the total is clipped to [0,1].
type ScoringConfig struct {
	MinProfitPct float64 `yaml:"min_profit_pct" default:"0.005" validate:"gte=0"`

	ShortMA          int     `yaml:"short_ma" default:"5" validate:"min=1"`
	LongMA           int     `yaml:"long_ma" default:"20" validate:"min=1"`
	TrendEMA         int     `yaml:"trend_ema" default:"10" validate:"min=1"`
	TrendSlopeBars   int     `yaml:"trend_slope_bars" default:"3" validate:"min=1"`
	AboveShortPoints float64 `yaml:"above_short_points" default:"0.2"`
	AboveLongPoints  float64 `yaml:"above_long_points" default:"0.2"`
	TrendSlopePoints float64 `yaml:"trend_slope_points" default:"0.05"`

	VolumeWindow int           `yaml:"volume_window" default:"20" validate:"min=2"`
	VolumeTiers  []volume.Step `yaml:"volume_tiers" default:"[{\"Min\":2,\"Points\":0.3},{\"Min\":1,\"Points\":0.2},{\"Min\":0,\"Points\":0.1}]"`

	NewsWeight       float64 `yaml:"news_weight" default:"0.3"`
	NeutralSentiment float64 `yaml:"neutral_sentiment" default:"0.5" validate:"gte=0,lte=1"`

	ATRPeriod        int     `yaml:"atr_period" default:"14" validate:"min=1"`
	StableATRPct     float64 `yaml:"stable_atr_pct" default:"0.03" validate:"gt=0"`
	VolatilityPoints float64 `yaml:"volatility_points" default:"0.1"`

	NearHighPct     float64 `yaml:"near_high_pct" default:"0.2" validate:"gte=0,lte=1"`
	NearHighPoints  float64 `yaml:"near_high_points" default:"0.15"`
	AboveSMAPoints  float64 `yaml:"above_sma_points" default:"0.1"`
	VWAPWindow      int     `yaml:"vwap_window" default:"20" validate:"min=1"`
	AboveVWAPPoints float64 `yaml:"above_vwap_points" default:"0.1"`
}

// DefaultScoringConfig returns the production EOD scoring policy
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		MinProfitPct:     0.005,
		ShortMA:          5,
		LongMA:           20,
		TrendEMA:         10,
		TrendSlopeBars:   3,
		AboveShortPoints: 0.2,
		AboveLongPoints:  0.2,
		TrendSlopePoints: 0.05,
		VolumeWindow:     20,
		VolumeTiers: []volume.Step{
			{Min: 2, Points: 0.3},
			{Min: 1, Points: 0.2},
			{Min: 0, Points: 0.1},
		},
		NewsWeight:       0.3,
		NeutralSentiment: 0.5,
		ATRPeriod:        14,
		StableATRPct:     0.03,
		VolatilityPoints: 0.1,
		NearHighPct:      0.2,
		NearHighPoints:   0.15,
		AboveSMAPoints:   0.1,
		VWAPWindow:       20,
		AboveVWAPPoints:  0.1,
	}
}

// Snapshot is the market view of one position at check time
type Snapshot struct {
	Position Position
	Price    float64
	Bars     []bars.Bar
	// Session holds the bars of the current trading day
	Session []bars.Bar
	// Sentiment is nil when the news provider was unavailable
	Sentiment *float64
}

// Breakdown itemizes an EOD score
type Breakdown struct {
	ProfitPct    float64 `json:"profit_pct"`
	Trend        float64 `json:"trend"`
	Volume       float64 `json:"volume"`
	News         float64 `json:"news"`
	Volatility   float64 `json:"volatility"`
	CloseQuality float64 `json:"close_quality"`
	Total        float64 `json:"total"`
	VolumeZ      float64 `json:"volume_z"`
	NearHigh     bool    `json:"near_high"`
	Reason       string  `json:"reason"`
}

// Score computes the EOD score. A loss or a profit under MinProfitPct scores exactly 0.
func (c ScoringConfig) Score(s Snapshot) Breakdown {
	var b Breakdown
	if s.Position.EntryPrice <= 0 || s.Price <= 0 {
		b.Reason = "missing entry or current price"
		return b
	}
	b.ProfitPct = s.Price/s.Position.EntryPrice - 1
	if b.ProfitPct <= 0 {
		b.Reason = fmt.Sprintf("loss position %.2f%%", b.ProfitPct*100)
		return b
	}
	if b.ProfitPct < c.MinProfitPct {
		b.Reason = fmt.Sprintf("profit %.2f%% below minimum %.2f%%", b.ProfitPct*100, c.MinProfitPct*100)
		return b
	}

	closes := bars.Closes(s.Bars)
	b.Trend = c.trend(closes, s.Price)
	b.Volume, b.VolumeZ = c.volume(s.Bars)
	b.News = c.news(s.Sentiment)
	b.Volatility = c.volatility(s.Bars, s.Price)
	b.CloseQuality, b.NearHigh = c.closeQuality(s, closes)

	b.Total = indicators.Clip(b.Trend+b.Volume+b.News+b.Volatility+b.CloseQuality, 0, 1)
	b.Reason = fmt.Sprintf("eod score %.2f", b.Total)
	return b
}

func (c ScoringConfig) trend(closes []float64, price float64) float64 {
	points := 0.0
	if sma := indicators.CalculateSMA(closes, c.ShortMA); sma.IsValid && price > sma.Value {
		points += c.AboveShortPoints
	}
	if sma := indicators.CalculateSMA(closes, c.LongMA); sma.IsValid && price > sma.Value {
		points += c.AboveLongPoints
	}
	ema := indicators.EMASeries(closes, c.TrendEMA)
	if len(ema) > c.TrendSlopeBars && ema[len(ema)-1] > ema[len(ema)-1-c.TrendSlopeBars] {
		points += c.TrendSlopePoints
	}
	return points
}

func (c ScoringConfig) volume(series []bars.Bar) (float64, float64) {
	z, ok := indicators.ZScoreLast(bars.Volumes(series), c.VolumeWindow)
	if !ok {
		return 0, 0
	}
	for _, tier := range c.VolumeTiers {
		if z >= tier.Min {
			return tier.Points, z
		}
	}
	return 0, z
}

func (c ScoringConfig) news(sentiment *float64) float64 {
	s := c.NeutralSentiment
	if sentiment != nil {
		s = indicators.Clip(*sentiment, 0, 1)
	}
	return s * c.NewsWeight
}

func (c ScoringConfig) volatility(series []bars.Bar, price float64) float64 {
	atr := indicators.CalculateATR(series, c.ATRPeriod)
	if !atr.IsValid || atr.Value/price >= c.StableATRPct {
		return 0
	}
	return c.VolatilityPoints
}

func (c ScoringConfig) closeQuality(s Snapshot, closes []float64) (float64, bool) {
	points := 0.0
	nearHigh := false
	if len(s.Session) > 0 {
		high, low := bars.SessionHighLow(s.Session)
		span := high - low
		if s.Price >= high || (span > 0 && (high-s.Price)/span <= c.NearHighPct) {
			nearHigh = true
			points += c.NearHighPoints
		}
	}
	if sma := indicators.CalculateSMA(closes, c.ShortMA); sma.IsValid && s.Price > sma.Value {
		points += c.AboveSMAPoints
	}
	if vwap := indicators.CalculateVWAP(s.Bars, c.VWAPWindow); vwap.IsValid && s.Price > vwap.Value {
		points += c.AboveVWAPPoints
	}
	return points, nearHigh
}
