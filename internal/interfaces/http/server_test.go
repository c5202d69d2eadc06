package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalgate/internal/application/pipeline"
	"github.com/sawpanic/signalgate/internal/config"
	"github.com/sawpanic/signalgate/internal/domain/regime"
	"github.com/sawpanic/signalgate/internal/eod"
	"github.com/sawpanic/signalgate/internal/metrics"
	"github.com/sawpanic/signalgate/internal/providers"
)

type fakeEvaluator struct{}

func (fakeEvaluator) EvaluateCode(_ context.Context, code string) pipeline.EvaluationResult {
	return pipeline.EvaluationResult{Code: code, Allowed: true, Confidence: 0.7, PositionSizeMultiplier: 0.76}
}

type fakeDecisions struct {
	decision *eod.Decision
}

func (f fakeDecisions) Last() (eod.Decision, bool) {
	if f.decision == nil {
		return eod.Decision{}, false
	}
	return *f.decision, true
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthWithoutCollaborators(t *testing.T) {
	s := NewServer(config.Default().Server, Deps{Version: "v0.3.0"})

	rr := get(t, s, "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Len(t, rr.Header().Get("X-Request-ID"), 8)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v0.3.0", resp.Version)
	assert.NotEmpty(t, resp.System.GoVersion)
}

func TestHealthReportsOpenBreakers(t *testing.T) {
	cfg := providers.DefaultGuardConfig()
	cfg.ConsecutiveFailures = 1
	cfg.MaxRetries = 0
	cfg.OpenTimeout = time.Hour
	open := providers.NewGuard("bars", &cfg, nil)
	require.Error(t, open.Do(context.Background(), func(context.Context) error { return errors.New("503") }))
	closed := providers.NewGuard("prices", &cfg, nil)

	s := NewServer(config.Default().Server, Deps{Guards: []*providers.Guard{open, closed}})
	rr := get(t, s, "/health")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, "open", resp.Providers["bars"])
	assert.Equal(t, "closed", resp.Providers["prices"])

	s = NewServer(config.Default().Server, Deps{Guards: []*providers.Guard{open}})
	rr = get(t, s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRegimeEndpoints(t *testing.T) {
	store := regime.NewStore(nil)
	detector := regime.NewDetector(nil)
	s := NewServer(config.Default().Server, Deps{Regimes: store, Detector: detector})

	rr := get(t, s, "/regime")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp RegimeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, regime.RegimeNormal, resp.State.Regime)
	assert.Equal(t, uint64(1), resp.State.Version)
	assert.Nil(t, resp.LastDetection)

	store.Set(regime.RegimeHighVol, nil, time.Now())
	rr = get(t, s, "/regime")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, regime.RegimeHighVol, resp.State.Regime)
	assert.Equal(t, uint64(2), resp.State.Version)

	rr = get(t, s, "/regime/history")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())

	health := get(t, s, "/health")
	var h HealthResponse
	require.NoError(t, json.Unmarshal(health.Body.Bytes(), &h))
	assert.Equal(t, StatusDegraded, h.Status, "no detection yet")
	assert.Equal(t, regime.RegimeHighVol, h.Regime)
}

func TestExplainAndEOD(t *testing.T) {
	decisions := fakeDecisions{}
	s := NewServer(config.Default().Server, Deps{Evaluator: fakeEvaluator{}, EOD: decisions})

	rr := get(t, s, "/explain/005930")
	require.Equal(t, http.StatusOK, rr.Code)
	var res pipeline.EvaluationResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "005930", res.Code)
	assert.True(t, res.Allowed)

	rr = get(t, s, "/eod/last")
	require.Equal(t, http.StatusNotFound, rr.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errResp))
	assert.Equal(t, "no_decision", errResp.Code)
	assert.NotEqual(t, "unknown", errResp.RequestID)

	decision := &eod.Decision{TradingDay: "2024-03-04", Hold: []string{"AAA"}, Close: []string{"BBB"}}
	s = NewServer(config.Default().Server, Deps{EOD: fakeDecisions{decision: decision}})
	rr = get(t, s, "/eod/last")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"AAA"`)
}

func TestMetricsAndNotFound(t *testing.T) {
	reg := metrics.NewRegistry()
	reg.SetRegime(regime.NewStore(nil).Current())
	s := NewServer(config.Default().Server, Deps{Metrics: reg})

	rr := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "signalgate_regime_state_version 1")
	assert.NotEqual(t, "application/json", rr.Header().Get("Content-Type"))

	rr = get(t, s, "/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, http.StatusNotFound, get(t, NewServer(config.Default().Server, Deps{}), "/regime").Code, "route disabled without a store")
}
