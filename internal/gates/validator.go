package gates

import (
	"context"
	"math"

	"github.com/sawpanic/signalgate/internal/backtest"
	"github.com/sawpanic/signalgate/internal/domain/bars"
	"github.com/sawpanic/signalgate/internal/domain/indicators"
	"github.com/sawpanic/signalgate/internal/domain/volume"
)

// Tier is the acceptance rule a backtest satisfied
type Tier string

const (
	TierNone          Tier = ""
	TierPrimary       Tier = "primary"
	TierRelaxedReturn Tier = "relaxed_return"
	TierRelaxedPF     Tier = "relaxed_profit_factor"
)

// Range maps a metric linearly onto [0,1] between Floor and Ceiling
type Range struct {
	Floor   float64 `yaml:"floor"`
	Ceiling float64 `yaml:"ceiling"`
}

func (r Range) scale(v float64) float64 { return indicators.Scale(v, r.Floor, r.Ceiling) }

// ValidatorConfig holds every policy constant of the pre-trade validator
type ValidatorConfig struct {
	Volume   volume.Config  `yaml:"volume"`
	Rules    backtest.Rules `yaml:"rules"`
	Lookback int            `yaml:"lookback" default:"250" validate:"min=30"`

	MinTrades       int     `yaml:"min_trades" default:"5" validate:"min=1"`
	MinProfitFactor float64 `yaml:"min_profit_factor" default:"1.3" validate:"gt=0"`
	MinWilson       float64 `yaml:"min_wilson" default:"0.35" validate:"gte=0,lte=1"`
	MinAvgReturn    float64 `yaml:"min_avg_return" default:"0.003"`
	RelaxedWilson   float64 `yaml:"relaxed_wilson" default:"0.25" validate:"gte=0,lte=1"`
	ComfortFactor   float64 `yaml:"comfort_factor" default:"1.5" validate:"gte=1"`
	FallbackPenalty float64 `yaml:"fallback_penalty" default:"0.15" validate:"gte=0,lte=1"`
	ProfitFactorCap float64 `yaml:"profit_factor_cap" default:"10" validate:"gt=0"`

	ProfitFactorRange Range   `yaml:"profit_factor_range" default:"{\"floor\":1.0,\"ceiling\":2.5}"`
	WilsonRange       Range   `yaml:"wilson_range" default:"{\"floor\":0.3,\"ceiling\":0.6}"`
	ReturnRange       Range   `yaml:"return_range" default:"{\"floor\":0,\"ceiling\":0.02}"`
	WeightPF          float64 `yaml:"weight_profit_factor" default:"0.4" validate:"gte=0"`
	WeightWilson      float64 `yaml:"weight_wilson" default:"0.3" validate:"gte=0"`
	WeightReturn      float64 `yaml:"weight_return" default:"0.3" validate:"gte=0"`

	SafetyGate        float64 `yaml:"safety_gate" default:"0.1" validate:"gte=0,lte=1"`
	BacktestWeight    float64 `yaml:"backtest_weight" default:"0.3" validate:"gte=0,lte=1"`
	RSVIWeight        float64 `yaml:"rsvi_weight" default:"0.7" validate:"gte=0,lte=1"`
	MinConfidence     float64 `yaml:"min_confidence" default:"0.4" validate:"gte=0,lte=1"`
	MaxPriceDeviation float64 `yaml:"max_price_deviation" default:"0.05" validate:"gt=0"`
}

// DefaultValidatorConfig returns the production policy
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		Volume:            volume.DefaultConfig(),
		Rules:             backtest.DefaultRules(),
		Lookback:          250,
		MinTrades:         5,
		MinProfitFactor:   1.3,
		MinWilson:         0.35,
		MinAvgReturn:      0.003,
		RelaxedWilson:     0.25,
		ComfortFactor:     1.5,
		FallbackPenalty:   0.15,
		ProfitFactorCap:   backtest.DefaultProfitFactorCap,
		ProfitFactorRange: Range{Floor: 1.0, Ceiling: 2.5},
		WilsonRange:       Range{Floor: 0.3, Ceiling: 0.6},
		ReturnRange:       Range{Floor: 0, Ceiling: 0.02},
		WeightPF:          0.4,
		WeightWilson:      0.3,
		WeightReturn:      0.3,
		SafetyGate:        0.1,
		BacktestWeight:    0.3,
		RSVIWeight:        0.7,
		MinConfidence:     0.4,
		MaxPriceDeviation: 0.05,
	}
}

// Verdict is the validator outcome with the numbers behind it
type Verdict struct {
	Result             FilterResult   `json:"result"`
	Signal             volume.Signal  `json:"signal"`
	Stats              backtest.Stats `json:"stats"`
	Tier               Tier           `json:"tier,omitempty"`
	BacktestConfidence float64        `json:"backtest_confidence"`
}

// PreTradeValidator combines a trade replay with the volume signal
type PreTradeValidator struct {
	config ValidatorConfig
}

func NewPreTradeValidator(config ValidatorConfig) *PreTradeValidator {
	return &PreTradeValidator{config: config}
}

func (v *PreTradeValidator) Name() Stage { return StageValidator }

func (v *PreTradeValidator) Check(_ context.Context, c *Candidate) FilterResult {
	return v.Validate(c.Code, c.Bars, c.CurrentPrice).Result
}

// Validate gathers the inputs and runs Decide. currentPrice <= 0 skips the staleness check.
func (v *PreTradeValidator) Validate(code string, series []bars.Bar, currentPrice float64) Verdict {
	last, ok := bars.Last(series)
	if !ok {
		return Verdict{Result: Fail("no bars")}
	}
	if currentPrice > 0 && last.Close > 0 {
		if dev := math.Abs(currentPrice/last.Close - 1); dev > v.config.MaxPriceDeviation {
			return Verdict{Result: Failf("stale data: price %.4f deviates %.1f%% from last close %.4f",
				currentPrice, dev*100, last.Close)}
		}
	}

	signal := v.config.Volume.Analyze(series)
	stats := backtest.Summarize(backtest.Simulate(bars.Tail(series, v.config.Lookback), v.config.Rules), v.config.ProfitFactorCap)
	return v.Decide(signal, stats)
}

// Decide applies the hard cut, sample, acceptance tiers, safety gate and blend in that order
func (v *PreTradeValidator) Decide(signal volume.Signal, stats backtest.Stats) Verdict {
	cfg := v.config
	out := Verdict{Signal: signal, Stats: stats}

	if !signal.Sufficient {
		out.Result = Fail("insufficient volume history")
		return out
	}
	if signal.HardCut {
		out.Result = Failf("RSVI hard cut: volume z %.2f and rate of change %.2f", signal.ZScore, signal.ROC)
		return out
	}
	if stats.Trades < cfg.MinTrades {
		out.Result = Failf("insufficient sample: %d trades, need %d", stats.Trades, cfg.MinTrades)
		return out
	}

	out.Tier = v.tier(stats)
	if out.Tier == TierNone {
		out.Result = Failf("backtest below minimums: pf %.2f wilson %.3f avg %.4f", stats.ProfitFactor, stats.WilsonLower, stats.AvgReturn)
		return out
	}

	out.BacktestConfidence = v.BacktestConfidence(stats, out.Tier)
	out.Result = v.Blend(out.BacktestConfidence, signal.RSVI)
	return out
}

func (v *PreTradeValidator) tier(s backtest.Stats) Tier {
	cfg := v.config
	switch {
	case s.ProfitFactor >= cfg.MinProfitFactor && s.WilsonLower >= cfg.MinWilson:
		return TierPrimary
	case s.AvgReturn >= cfg.MinAvgReturn && s.WilsonLower >= cfg.RelaxedWilson:
		return TierRelaxedReturn
	case s.ProfitFactor >= cfg.MinProfitFactor*cfg.ComfortFactor:
		return TierRelaxedPF
	}
	return TierNone
}

// BacktestConfidence scores accepted stats in [0,1], less the fallback penalty for relaxed tiers
func (v *PreTradeValidator) BacktestConfidence(s backtest.Stats, tier Tier) float64 {
	cfg := v.config
	conf := cfg.WeightPF*cfg.ProfitFactorRange.scale(s.ProfitFactor) +
		cfg.WeightWilson*cfg.WilsonRange.scale(s.WilsonLower) +
		cfg.WeightReturn*cfg.ReturnRange.scale(s.AvgReturn)
	if tier == TierRelaxedReturn || tier == TierRelaxedPF {
		conf -= cfg.FallbackPenalty
	}
	return indicators.Clip(conf, 0, 1)
}

// Blend applies the safety gate before the weighted blend and its threshold
func (v *PreTradeValidator) Blend(backtestConfidence, rsvi float64) FilterResult {
	cfg := v.config
	if backtestConfidence < cfg.SafetyGate {
		return Failf("safety gate: backtest confidence %.2f below %.2f", backtestConfidence, cfg.SafetyGate)
	}
	final := indicators.Clip(cfg.BacktestWeight*backtestConfidence+cfg.RSVIWeight*rsvi, 0, 1)
	if final < cfg.MinConfidence {
		return Failf("validator confidence %.2f below %.2f", final, cfg.MinConfidence)
	}
	return Passf(final, "backtest %.2f rsvi %.2f", backtestConfidence, rsvi)
}
