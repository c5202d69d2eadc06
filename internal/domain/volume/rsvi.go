package volume

import "github.com/sawpanic/signalgate/internal/domain/indicators"

// Step awards Points once the metric reaches Min
type Step struct {
	Min    float64 `yaml:"min"`
	Points float64 `yaml:"points"`
}

// RSVITable maps the two volume metrics onto a [0,1] score. Z-score steps carry up to 0.6 and
// rate-of-change steps up to 0.4; steps are checked from the top and the first match wins.
type RSVITable struct {
	ZSteps   []Step `yaml:"z_steps" default:"[{\"Min\":2,\"Points\":0.6},{\"Min\":1.5,\"Points\":0.5},{\"Min\":1,\"Points\":0.4},{\"Min\":0.5,\"Points\":0.3},{\"Min\":0,\"Points\":0.2},{\"Min\":-0.5,\"Points\":0.1}]"`
	ROCSteps []Step `yaml:"roc_steps" default:"[{\"Min\":1,\"Points\":0.4},{\"Min\":0.5,\"Points\":0.3},{\"Min\":0.2,\"Points\":0.2},{\"Min\":0,\"Points\":0.1}]"`
}

// DefaultRSVITable returns the hand-tuned breakpoints
func DefaultRSVITable() RSVITable {
	return RSVITable{
		ZSteps: []Step{
			{Min: 2.0, Points: 0.6},
			{Min: 1.5, Points: 0.5},
			{Min: 1.0, Points: 0.4},
			{Min: 0.5, Points: 0.3},
			{Min: 0.0, Points: 0.2},
			{Min: -0.5, Points: 0.1},
		},
		ROCSteps: []Step{
			{Min: 1.0, Points: 0.4},
			{Min: 0.5, Points: 0.3},
			{Min: 0.2, Points: 0.2},
			{Min: 0.0, Points: 0.1},
		},
	}
}

// Score returns the RSVI score in [0,1]
func (t RSVITable) Score(z, roc float64) float64 {
	zSteps, rocSteps := t.ZSteps, t.ROCSteps
	if len(zSteps) == 0 && len(rocSteps) == 0 {
		def := DefaultRSVITable()
		zSteps, rocSteps = def.ZSteps, def.ROCSteps
	}
	return indicators.Clip(lookup(zSteps, z)+lookup(rocSteps, roc), 0, 1)
}

func lookup(steps []Step, v float64) float64 {
	for _, s := range steps {
		if v >= s.Min {
			return s.Points
		}
	}
	return 0
}
