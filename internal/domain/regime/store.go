package regime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// State is an immutable snapshot of the market regime and its weights. Readers hold a State for
// the length of an evaluation; writers publish a new one.
type State struct {
	Regime        RegimeType `json:"regime"`
	Weights       WeightSet  `json:"weights"`
	VolPercentile *float64   `json:"vol_percentile,omitempty"`
	Version       uint64     `json:"version"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ChangeFunc observes published state transitions
type ChangeFunc func(previous, current State)

// Store publishes regime State through an atomic pointer. Updates are serialised; reads never
// block and never see a partially built weight set.
type Store struct {
	adjuster *WeightAdjuster
	current  atomic.Pointer[State]

	mu       sync.Mutex
	onChange []ChangeFunc
}

// NewStore starts at NORMAL with base weights, version 1
func NewStore(adjuster *WeightAdjuster) *Store {
	if adjuster == nil {
		adjuster = NewWeightAdjuster(nil)
	}
	s := &Store{adjuster: adjuster}
	initial := &State{
		Regime:  RegimeNormal,
		Weights: adjuster.AdjustWeights(RegimeNormal, nil).withVersion(1),
		Version: 1,
	}
	s.current.Store(initial)
	return s
}

// Current returns the published snapshot
func (s *Store) Current() State {
	return *s.current.Load()
}

// OnChange registers fn to run after every published change
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// SetAdjuster replaces the tilt policy. The published state is kept; the next Set or Update
// derives weights with the new adjuster.
func (s *Store) SetAdjuster(adjuster *WeightAdjuster) {
	if adjuster == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adjuster = adjuster
}

// Update applies a detection. Insufficient detections leave the published state alone.
func (s *Store) Update(det Detection) (State, bool) {
	if !det.Sufficient {
		log.Warn().Str("regime", string(det.Regime)).Msg("Regime detection lacked history, keeping current state")
		return s.Current(), false
	}
	pct := det.VolPercentile
	return s.Set(det.Regime, &pct, det.DetectedAt)
}

// Set re-derives weights for regime and publishes a new State when the regime or weights
// differ from the current ones. The version increments only on change.
func (s *Store) Set(regime RegimeType, volPct *float64, at time.Time) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	weights := s.adjuster.AdjustWeights(regime, volPct)
	if prev.Regime == weights.Regime && prev.Weights.SameWeights(weights) {
		return *prev, false
	}

	version := prev.Version + 1
	next := &State{
		Regime:        weights.Regime,
		Weights:       weights.withVersion(version),
		VolPercentile: volPct,
		Version:       version,
		UpdatedAt:     at,
	}
	s.current.Store(next)

	log.Info().
		Str("from", string(prev.Regime)).
		Str("to", string(next.Regime)).
		Uint64("version", version).
		Msg("Regime state published")

	for _, fn := range s.onChange {
		fn(*prev, *next)
	}
	return *next, true
}
