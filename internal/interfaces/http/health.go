package http

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sawpanic/signalgate/internal/domain/regime"
	"github.com/sawpanic/signalgate/internal/providers"
)

// Health statuses
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthHandler reports process, provider and regime health
type HealthHandler struct {
	regimes   *regime.Store
	detector  *regime.Detector
	guards    []*providers.Guard
	version   string
	startTime time.Time
}

// NewHealthHandler creates a health handler; every collaborator is optional
func NewHealthHandler(regimes *regime.Store, detector *regime.Detector, guards []*providers.Guard, version string) *HealthHandler {
	return &HealthHandler{
		regimes:   regimes,
		detector:  detector,
		guards:    guards,
		version:   version,
		startTime: time.Now(),
	}
}

// HealthResponse is the /health body
type HealthResponse struct {
	Status        string                 `json:"status"`
	Timestamp     time.Time              `json:"timestamp"`
	Uptime        string                 `json:"uptime"`
	Version       string                 `json:"version"`
	System        SystemInfo             `json:"system"`
	Regime        regime.RegimeType      `json:"regime,omitempty"`
	WeightVersion uint64                 `json:"weight_version,omitempty"`
	Providers     map[string]string      `json:"providers"`
	Checks        map[string]CheckResult `json:"checks"`
}

// SystemInfo is the Go runtime snapshot
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// CheckResult is one named check
type CheckResult struct {
	Status  string `json:"status"` // pass, warn, fail
	Message string `json:"message"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	resp := h.gather()
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	status := http.StatusOK
	if resp.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (h *HealthHandler) gather() HealthResponse {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := HealthResponse{
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.version,
		System: SystemInfo{
			GoVersion:     runtime.Version(),
			NumGoroutines: runtime.NumGoroutine(),
			MemAlloc:      mem.Alloc,
			NumGC:         mem.NumGC,
		},
		Providers: make(map[string]string, len(h.guards)),
		Checks:    make(map[string]CheckResult),
	}

	if h.regimes != nil {
		state := h.regimes.Current()
		resp.Regime = state.Regime
		resp.WeightVersion = state.Version
	}
	h.providerCheck(&resp)
	h.regimeCheck(&resp)

	resp.Status = StatusHealthy
	for _, c := range resp.Checks {
		switch c.Status {
		case "fail":
			resp.Status = StatusUnhealthy
		case "warn":
			if resp.Status == StatusHealthy {
				resp.Status = StatusDegraded
			}
		}
	}
	return resp
}

// providerCheck fails when every breaker is open and warns when any is not closed
func (h *HealthHandler) providerCheck(resp *HealthResponse) {
	if len(h.guards) == 0 {
		return
	}
	open, notClosed := 0, 0
	for _, g := range h.guards {
		state := g.State()
		resp.Providers[g.Name()] = state.String()
		if state != gobreaker.StateClosed {
			notClosed++
		}
		if state == gobreaker.StateOpen {
			open++
		}
	}

	switch {
	case open == len(h.guards):
		resp.Checks["providers"] = CheckResult{Status: "fail", Message: "all provider breakers open"}
	case notClosed > 0:
		resp.Checks["providers"] = CheckResult{Status: "warn", Message: fmt.Sprintf("%d/%d provider breakers not closed", notClosed, len(h.guards))}
	default:
		resp.Checks["providers"] = CheckResult{Status: "pass", Message: fmt.Sprintf("%d providers closed", len(h.guards))}
	}
}

func (h *HealthHandler) regimeCheck(resp *HealthResponse) {
	if h.detector == nil {
		return
	}
	det, ok := h.detector.Last()
	switch {
	case !ok:
		resp.Checks["regime"] = CheckResult{Status: "warn", Message: "no regime detection yet"}
	case !det.Sufficient:
		resp.Checks["regime"] = CheckResult{Status: "warn", Message: "last detection lacked index history"}
	default:
		resp.Checks["regime"] = CheckResult{Status: "pass", Message: fmt.Sprintf("detected %s at %s", det.Regime, det.DetectedAt.Format(time.RFC3339))}
	}
}
