// Package confidence fuses per-stage confidences into one acceptance decision and sizes the
// position from the fused value.
package confidence

import (
	"fmt"
	"sort"

	"github.com/sawpanic/signalgate/internal/domain/indicators"
	"github.com/sawpanic/signalgate/internal/gates"
)

// Config holds stage weights, the fused floor and the sizing curve
type Config struct {
	Weights          map[gates.Stage]float64 `yaml:"weights" default:"{\"CONSENSUS\":0.35,\"LIQUIDITY\":0.25,\"TRIGGER\":0.25,\"VALIDATOR\":0.15}"`
	MinConfidence    float64                 `yaml:"min_confidence" default:"0.5" validate:"gte=0,lte=1"`
	ExploratoryFloor float64                 `yaml:"exploratory_floor" default:"0.4" validate:"gte=0,lte=1"`
	ExploratorySize  float64                 `yaml:"exploratory_size" default:"0.4" validate:"gte=0,lte=1"`
	ScaleStart       float64                 `yaml:"scale_start" default:"0.6" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the production fusion policy
func DefaultConfig() Config {
	return Config{
		Weights: map[gates.Stage]float64{
			gates.StageConsensus: 0.35,
			gates.StageLiquidity: 0.25,
			gates.StageTrigger:   0.25,
			gates.StageValidator: 0.15,
		},
		MinConfidence:    0.5,
		ExploratoryFloor: 0.4,
		ExploratorySize:  0.4,
		ScaleStart:       0.6,
	}
}

// Decision is the fused outcome
type Decision struct {
	Confidence float64 `json:"confidence"`
	ShouldPass bool    `json:"should_pass"`
	Reason     string  `json:"reason"`
	// FailedStage is set when an input stage had already failed
	FailedStage gates.Stage `json:"failed_stage,omitempty"`
}

// Aggregator fuses stage results
type Aggregator struct {
	config Config
}

// NewAggregator creates an aggregator; nil config uses defaults
func NewAggregator(config *Config) *Aggregator {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	return &Aggregator{config: cfg}
}

// Aggregate returns the weighted confidence of the weighted stages. Any failed input rejects
// with zero confidence. Stages without a weight must still have passed.
func (a *Aggregator) Aggregate(results map[gates.Stage]gates.FilterResult) Decision {
	for _, stage := range orderedStages(results) {
		if r := results[stage]; !r.Passed {
			return Decision{
				Reason:      fmt.Sprintf("%s failed: %s", stage, r.Reason),
				FailedStage: stage,
			}
		}
	}

	var sum, weight float64
	for _, stage := range orderedStages(results) {
		w := a.config.Weights[stage]
		if w <= 0 {
			continue
		}
		sum += w * results[stage].Confidence
		weight += w
	}
	if weight == 0 {
		return Decision{Reason: "no weighted stage results"}
	}

	conf := indicators.Clip(sum/weight, 0, 1)
	if conf < a.config.MinConfidence {
		return Decision{
			Confidence: conf,
			Reason:     fmt.Sprintf("fused confidence %.3f below %.2f", conf, a.config.MinConfidence),
		}
	}
	return Decision{Confidence: conf, ShouldPass: true, Reason: fmt.Sprintf("fused confidence %.3f", conf)}
}

// PositionMultiplier maps fused confidence to a size multiplier: nothing below the exploratory
// floor, a fixed exploratory size up to the fused floor, then linear from ScaleStart to 1.
func (a *Aggregator) PositionMultiplier(conf float64) float64 {
	cfg := a.config
	switch {
	case conf < cfg.ExploratoryFloor:
		return 0
	case conf < cfg.MinConfidence:
		return cfg.ExploratorySize
	}
	if cfg.MinConfidence >= 1 {
		return 1
	}
	slope := (1 - cfg.ScaleStart) / (1 - cfg.MinConfidence)
	return indicators.Clip(cfg.ScaleStart+slope*(conf-cfg.MinConfidence), 0, 1)
}

func orderedStages(results map[gates.Stage]gates.FilterResult) []gates.Stage {
	rank := make(map[gates.Stage]int, len(gates.FilterStages))
	for i, s := range gates.FilterStages {
		rank[s] = i
	}
	stages := make([]gates.Stage, 0, len(results))
	for s := range results {
		stages = append(stages, s)
	}
	sort.Slice(stages, func(i, j int) bool {
		ri, iok := rank[stages[i]]
		rj, jok := rank[stages[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		return stages[i] < stages[j]
	})
	return stages
}
