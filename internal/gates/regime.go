package gates

import (
	"context"

	"github.com/sawpanic/signalgate/internal/domain/regime"
)

// RegimeGateConfig lists blocked regimes and the confidence each allowed regime carries
type RegimeGateConfig struct {
	Blocked           []regime.RegimeType           `yaml:"blocked" default:"[\"TRENDING_DOWN\"]"`
	Confidence        map[regime.RegimeType]float64 `yaml:"confidence" default:"{\"TRENDING_UP\":1.0,\"NORMAL\":0.8,\"LOW_VOL\":0.7,\"HIGH_VOL\":0.6}"`
	DefaultConfidence float64                       `yaml:"default_confidence" default:"0.5" validate:"gte=0,lte=1"`
}

// DefaultRegimeGateConfig blocks falling markets
func DefaultRegimeGateConfig() RegimeGateConfig {
	return RegimeGateConfig{
		Blocked: []regime.RegimeType{regime.RegimeTrendingDown},
		Confidence: map[regime.RegimeType]float64{
			regime.RegimeTrendingUp: 1.0,
			regime.RegimeNormal:     0.8,
			regime.RegimeLowVol:     0.7,
			regime.RegimeHighVol:    0.6,
		},
		DefaultConfidence: 0.5,
	}
}

// RegimeGate admits candidates according to the published market regime
type RegimeGate struct {
	config RegimeGateConfig
}

func NewRegimeGate(config RegimeGateConfig) *RegimeGate {
	return &RegimeGate{config: config}
}

func (g *RegimeGate) Name() Stage { return StageRegime }

func (g *RegimeGate) Check(_ context.Context, c *Candidate) FilterResult {
	return g.CheckState(c.Regime)
}

// CheckState evaluates a regime snapshot
func (g *RegimeGate) CheckState(state regime.State) FilterResult {
	for _, blocked := range g.config.Blocked {
		if state.Regime == blocked {
			return Failf("regime %s blocks new entries", state.Regime)
		}
	}
	conf, ok := g.config.Confidence[state.Regime]
	if !ok {
		conf = g.config.DefaultConfidence
	}
	return Passf(conf, "regime %s (weights v%d)", state.Regime, state.Version)
}
