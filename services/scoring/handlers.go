package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"playproof/pkg/calibration"
	"playproof/pkg/classifier"
	"playproof/pkg/event"
	"playproof/pkg/pipeline"
	"playproof/pkg/structlog"
)

// ScoringRequest is the wire contract for one scoring call.
type ScoringRequest struct {
	SessionID string      `json:"session_id"`
	Events    []event.Raw `json:"events"`
}

// ScoringResponse carries the verdict. Details are diagnostic only;
// callers must branch on result alone.
type ScoringResponse struct {
	Result     string                 `json:"result"`
	Confidence float64                `json:"confidence"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

type server struct {
	pipe    *pipeline.Pipeline
	models  *classifier.Registry
	cal     *calibration.Calibrator
	auditor *ScoreAuditor
	log     *structlog.Logger
}

func (s *server) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ScoringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	ctx := structlog.WithCorrelationID(r.Context(), structlog.NewCorrelationID())
	res, err := s.pipe.Score(ctx, req.SessionID, req.Events)
	if err != nil {
		if errors.Is(err, pipeline.ErrBadRequest) {
			http.Error(w, "Missing session_id", http.StatusBadRequest)
			return
		}
		// The pipeline guarantees a verdict for valid requests; this
		// path is unreachable unless the contract is broken.
		s.log.WithContext(ctx).Error("scoring error", structlog.Fields{"error": err.Error()})
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	if s.auditor != nil {
		s.auditor.Record(res)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ScoringResponse{
		Result:     res.Verdict.String(),
		Confidence: res.Confidence,
		Details:    res.Details,
	}); err != nil {
		s.log.WithContext(ctx).Error("encode response", structlog.Fields{"error": err.Error()})
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	version := s.models.ActiveVersion()
	ready := version != "" && s.cal.Has(version)

	status := "ok"
	code := http.StatusOK
	if !ready {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":        status,
		"service":       "playproof-scoring",
		"model_version": version,
		"calibrated":    ready,
	})
}

func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"active": s.models.ActiveVersion(),
		"models": s.models.List(),
	})
}
