package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalgate/internal/domain/regime"
)

// RefreshRegime detects the regime from fresh index bars and publishes it. The returned bool
// reports whether a new state was published.
func (o *Orchestrator) RefreshRegime(ctx context.Context) (regime.State, bool, error) {
	cfg := o.configs.Current()
	code := cfg.Pipeline.IndexCode

	log.Debug().Str("index", code).Msg("Starting regime detection")
	series, err := o.fetchBars(ctx, code, cfg.Pipeline.BarLookback)
	if err != nil {
		return o.regimes.Current(), false, fmt.Errorf("regime detection failed: %w", err)
	}

	det := o.detector.Detect(series)
	state, published := o.regimes.Update(det)
	if det.Changed {
		log.Info().
			Str("previous_regime", string(det.Previous)).
			Str("new_regime", string(det.Regime)).
			Float64("confidence", det.Confidence).
			Float64("vol_percentile", det.VolPercentile).
			Bool("published", published).
			Msg("Regime transition detected")
	} else {
		log.Debug().
			Str("regime", string(det.Regime)).
			Float64("confidence", det.Confidence).
			Bool("sufficient", det.Sufficient).
			Msg("Regime unchanged")
	}
	return state, published, nil
}

// RunRegimeRefresh refreshes once, then every interval until ctx is done. Failures keep the
// published state and are retried on the next tick.
func (o *Orchestrator) RunRegimeRefresh(ctx context.Context, interval time.Duration) {
	refresh := func() {
		if _, _, err := o.RefreshRegime(ctx); err != nil {
			log.Warn().Err(err).Msg("Regime refresh failed, keeping current state")
		}
	}
	refresh()
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}
