package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalgate/internal/domain/regime"
	"github.com/sawpanic/signalgate/internal/eod"
	"github.com/sawpanic/signalgate/internal/gates"
)

// value reads a counter or gauge sample from the registry
func value(t *testing.T, r *Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matches(m, labels) {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s %v not found", name, labels)
	return 0
}

func matches(m *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			found++
		}
	}
	return found == len(labels)
}

func TestRecordStage(t *testing.T) {
	r := NewRegistry()

	r.RecordStage(gates.StageConsensus, gates.Pass(0.8, "ok"), time.Millisecond)
	r.RecordStage(gates.StageConsensus, gates.Fail("no"), time.Millisecond)
	r.RecordStage(gates.StageLiquidity, gates.Degrade(0.5, "flows down"), time.Millisecond)

	assert.Equal(t, 1.0, value(t, r, "signalgate_stage_verdicts_total", map[string]string{"stage": "CONSENSUS", "verdict": VerdictPass}))
	assert.Equal(t, 1.0, value(t, r, "signalgate_stage_verdicts_total", map[string]string{"stage": "CONSENSUS", "verdict": VerdictFail}))
	assert.Equal(t, 1.0, value(t, r, "signalgate_stage_verdicts_total", map[string]string{"stage": "LIQUIDITY", "verdict": VerdictDegraded}))
}

func TestRegimeChanged(t *testing.T) {
	r := NewRegistry()
	prev := regime.State{Regime: regime.RegimeNormal, Version: 1}
	cur := regime.State{Regime: regime.RegimeHighVol, Version: 2}

	r.RegimeChanged(prev, cur)

	assert.Equal(t, 1.0, value(t, r, "signalgate_regime_switches_total", map[string]string{"from_regime": "NORMAL", "to_regime": "HIGH_VOL"}))
	assert.Equal(t, 2.0, value(t, r, "signalgate_regime_state_version", nil))
	assert.Equal(t, 1.0, value(t, r, "signalgate_active_regime", map[string]string{"regime": "HIGH_VOL"}))
	assert.Equal(t, 0.0, value(t, r, "signalgate_active_regime", map[string]string{"regime": "NORMAL"}))

	r.RegimeChanged(cur, regime.State{Regime: regime.RegimeHighVol, Version: 3})
	assert.Equal(t, 1.0, value(t, r, "signalgate_regime_switches_total", map[string]string{"from_regime": "NORMAL", "to_regime": "HIGH_VOL"}), "weight-only change is no switch")
	assert.Equal(t, 3.0, value(t, r, "signalgate_regime_state_version", nil))
}

func TestCacheBreakerAndEOD(t *testing.T) {
	r := NewRegistry()

	r.CacheLookup("liquidity", true)
	r.CacheLookup("liquidity", false)
	r.CacheLookup("liquidity", false)
	assert.Equal(t, 2.0, value(t, r, "signalgate_cache_lookups_total", map[string]string{"cache": "liquidity", "result": "miss"}))

	r.BreakerChanged("flows", gobreaker.StateClosed, gobreaker.StateOpen)
	assert.Equal(t, 2.0, value(t, r, "signalgate_provider_breaker_state", map[string]string{"provider": "flows"}))

	r.RecordEOD(eod.Decision{
		Hold:        []string{"A", "B"},
		Close:       []string{"C"},
		Exposure:    decimal.NewFromInt(1000),
		ExposureCap: decimal.NewFromInt(4000),
	})
	assert.Equal(t, 2.0, value(t, r, "signalgate_eod_actions_total", map[string]string{"action": "hold"}))
	assert.Equal(t, 0.25, value(t, r, "signalgate_eod_exposure_ratio", nil))
}

func TestHandlerServesRegistry(t *testing.T) {
	r := NewRegistry()
	r.RecordEvaluation(false, gates.StageTrigger, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `signalgate_evaluations_total{level="TRIGGER",outcome="rejected"} 1`), body)
}
