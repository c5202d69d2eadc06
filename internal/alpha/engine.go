// Package alpha scores instruments with regime-weighted factors. An Engine is immutable and
// bound to one WeightSet version; Cache rebuilds it only when the published version moves on.
package alpha

import (
	"fmt"
	"sync"

	"github.com/sawpanic/signalgate/internal/domain/regime"
)

// Config holds the acceptance threshold and factor settings
type Config struct {
	MinAggregate float64      `yaml:"min_aggregate" default:"0.05"`
	Factors      FactorConfig `yaml:"factors"`
}

// DefaultConfig returns the production alpha policy
func DefaultConfig() Config {
	return Config{MinAggregate: 0.05, Factors: DefaultFactorConfig()}
}

// Result is the engine output for one instrument
type Result struct {
	Code          string                    `json:"code"`
	Aggregate     float64                   `json:"aggregate"`
	Accepted      bool                      `json:"accepted"`
	Reason        string                    `json:"reason"`
	Scores        map[regime.Factor]float64 `json:"scores"`
	Contributions map[regime.Factor]float64 `json:"contributions"`
	Regime        regime.RegimeType         `json:"regime"`
	WeightVersion uint64                    `json:"weight_version"`
}

// Engine combines factor scores with one weight set
type Engine struct {
	config  Config
	weights regime.WeightSet
}

// NewEngine binds config and weights
func NewEngine(config Config, weights regime.WeightSet) *Engine {
	return &Engine{config: config, weights: weights}
}

// Version returns the weight set version the engine was built for
func (e *Engine) Version() uint64 { return e.weights.Version }

// Weights returns the bound weight set
func (e *Engine) Weights() regime.WeightSet { return e.weights }

// Compute scores one instrument
func (e *Engine) Compute(code string, in Inputs) Result {
	scores := scoreFactors(e.config.Factors, in)
	contributions := make(map[regime.Factor]float64, len(scores))

	aggregate := 0.0
	for _, f := range regime.Factors {
		c := e.weights.Weight(f) * scores[f]
		contributions[f] = c
		aggregate += c
	}

	res := Result{
		Code:          code,
		Aggregate:     aggregate,
		Scores:        scores,
		Contributions: contributions,
		Regime:        e.weights.Regime,
		WeightVersion: e.weights.Version,
	}
	if aggregate >= e.config.MinAggregate {
		res.Accepted = true
		res.Reason = fmt.Sprintf("alpha %.3f", aggregate)
	} else {
		res.Reason = fmt.Sprintf("alpha %.3f below %.3f", aggregate, e.config.MinAggregate)
	}
	return res
}

// Cache holds the engine for the latest weight version
type Cache struct {
	config Config

	mu     sync.Mutex
	engine *Engine
	builds int
}

// NewCache creates an empty cache; the first Engine call builds
func NewCache(config Config) *Cache {
	return &Cache{config: config}
}

// Engine returns an engine for weights, rebuilding only when the held version is stale
func (c *Cache) Engine(weights regime.WeightSet) *Engine {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.engine == nil || c.engine.Version() != weights.Version {
		c.engine = NewEngine(c.config, weights)
		c.builds++
	}
	return c.engine
}

// Builds returns how many engines have been built
func (c *Cache) Builds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builds
}
