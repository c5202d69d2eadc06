// Package regime classifies the broad market into volatility and trend regimes and derives the
// factor weight set the alpha engine scores with.
package regime

import (
	"fmt"
	"strings"
)

// RegimeType is the coarse market classification
type RegimeType string

const (
	RegimeHighVol      RegimeType = "HIGH_VOL"
	RegimeLowVol       RegimeType = "LOW_VOL"
	RegimeNormal       RegimeType = "NORMAL"
	RegimeTrendingUp   RegimeType = "TRENDING_UP"
	RegimeTrendingDown RegimeType = "TRENDING_DOWN"
)

// AllRegimes lists every regime in display order
var AllRegimes = []RegimeType{RegimeNormal, RegimeHighVol, RegimeLowVol, RegimeTrendingUp, RegimeTrendingDown}

func (r RegimeType) String() string { return string(r) }

// IsTrending reports whether r is one of the directional regimes
func (r RegimeType) IsTrending() bool {
	return r == RegimeTrendingUp || r == RegimeTrendingDown
}

// ParseRegime accepts regime names case-insensitively
func ParseRegime(s string) (RegimeType, error) {
	candidate := RegimeType(strings.ToUpper(strings.TrimSpace(s)))
	for _, r := range AllRegimes {
		if r == candidate {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown regime %q", s)
}
