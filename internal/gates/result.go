// Package gates implements the staged filter chain every candidate passes through before
// confidence fusion. Each stage returns a FilterResult; a failed result never carries confidence.
package gates

import (
	"fmt"
	"math"
)

// Stage names a pipeline stage. It doubles as the rejection level of an evaluation.
type Stage string

const (
	StageSystem     Stage = "SYSTEM"
	StageRegime     Stage = "REGIME"
	StageUniverse   Stage = "UNIVERSE"
	StageConsensus  Stage = "CONSENSUS"
	StageLiquidity  Stage = "LIQUIDITY"
	StageTrigger    Stage = "TRIGGER"
	StageValidator  Stage = "VALIDATOR"
	StageConfidence Stage = "CONFIDENCE"
	StageAlpha      Stage = "ALPHA"
)

// FilterStages is the fixed order of the filter chain
var FilterStages = []Stage{
	StageSystem,
	StageRegime,
	StageUniverse,
	StageConsensus,
	StageLiquidity,
	StageTrigger,
	StageValidator,
}

// FilterResult is the verdict of one stage
type FilterResult struct {
	Passed     bool    `json:"passed"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	// Degraded marks a pass granted because an optional upstream was unavailable
	Degraded bool `json:"degraded,omitempty"`
}

// Pass builds a passing result with confidence clipped to [0,1]
func Pass(confidence float64, reason string) FilterResult {
	return FilterResult{Passed: true, Confidence: clip01(confidence), Reason: reason}
}

// Passf formats the pass reason
func Passf(confidence float64, format string, args ...interface{}) FilterResult {
	return Pass(confidence, fmt.Sprintf(format, args...))
}

// Degrade builds a passing result for an unavailable upstream
func Degrade(confidence float64, reason string) FilterResult {
	r := Pass(confidence, reason)
	r.Degraded = true
	return r
}

// Fail builds a rejection; confidence is always 0
func Fail(reason string) FilterResult {
	return FilterResult{Reason: reason}
}

// Failf formats the rejection reason
func Failf(format string, args ...interface{}) FilterResult {
	return Fail(fmt.Sprintf(format, args...))
}

func clip01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
