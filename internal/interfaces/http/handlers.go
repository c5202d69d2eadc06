package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalgate/internal/domain/regime"
)

// ErrorResponse is the body of every non-2xx JSON reply
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// RegimeResponse is the published regime with the detection behind it
type RegimeResponse struct {
	State         regime.State      `json:"state"`
	LastDetection *regime.Detection `json:"last_detection,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID(r),
		Timestamp: time.Now().UTC(),
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "endpoint_not_found", "The requested endpoint does not exist")
}

// regime handles GET /regime
func (s *Server) regime(w http.ResponseWriter, _ *http.Request) {
	resp := RegimeResponse{State: s.deps.Regimes.Current()}
	if s.deps.Detector != nil {
		if det, ok := s.deps.Detector.Last(); ok {
			resp.LastDetection = &det
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// regimeHistory handles GET /regime/history
func (s *Server) regimeHistory(w http.ResponseWriter, _ *http.Request) {
	history := []regime.Detection{}
	if s.deps.Detector != nil {
		history = append(history, s.deps.Detector.History()...)
	}
	writeJSON(w, http.StatusOK, history)
}

// explain handles GET /explain/{code}
func (s *Server) explain(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	if code == "" {
		writeError(w, r, http.StatusBadRequest, "missing_code", "An instrument code is required")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Evaluator.EvaluateCode(r.Context(), code))
}

// lastDecision handles GET /eod/last
func (s *Server) lastDecision(w http.ResponseWriter, r *http.Request) {
	decision, ok := s.deps.EOD.Last()
	if !ok {
		writeError(w, r, http.StatusNotFound, "no_decision", "No EOD decision has been made yet")
		return
	}
	writeJSON(w, http.StatusOK, decision)
}
