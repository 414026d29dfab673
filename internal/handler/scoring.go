package handler

import (
	"errors"
	"net/http"

	"github.com/autoscore/autoscore/internal/model"
	"github.com/autoscore/autoscore/internal/scoring"
)

// ScoringHandler serves the /score endpoints.
type ScoringHandler struct {
	scorer *scoring.Scorer
}

// NewScoringHandler creates a new ScoringHandler.
func NewScoringHandler(scorer *scoring.Scorer) *ScoringHandler {
	return &ScoringHandler{scorer: scorer}
}

// Single scores one vehicle.
// POST /score/single
func (h *ScoringHandler) Single(w http.ResponseWriter, r *http.Request) {
	var v model.VehicleData
	if err := readJSON(r, &v); err != nil {
		writeDecodeError(w, err)
		return
	}

	res, err := h.scorer.ScoreVehicle(v)
	if err != nil {
		writeScoringError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Batch scores every vehicle in the request, in order. One bad vehicle fails
// the whole batch.
// POST /score/batch
func (h *ScoringHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req model.BatchRequest
	if err := readJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	// An absent or null list is a malformed batch; [] is an empty one.
	if req.Vehicles == nil {
		writeScoringError(w, &scoring.ValidationError{Field: "vehicles", Message: "field required"})
		return
	}

	results, err := h.scorer.ScoreBatch(req.Vehicles)
	if err != nil {
		writeScoringError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.BatchResponse{Results: results})
}

// Rules lists the make/model keys the scorer knows about.
// GET /score/rules
func (h *ScoringHandler) Rules(w http.ResponseWriter, r *http.Request) {
	keys := h.scorer.Rules().Keys()
	writeJSON(w, http.StatusOK, model.ListResponse[string]{Resource: keys})
}

// writeScoringError maps scorer errors to 422 responses.
func writeScoringError(w http.ResponseWriter, err error) {
	var verr *scoring.ValidationError
	var nf *scoring.NotFoundError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, "Invalid vehicle: "+verr.Error(),
			map[string]any{"field": verr.Field})
	case errors.As(err, &nf):
		writeError(w, http.StatusUnprocessableEntity, nf.Error(),
			map[string]any{"key": nf.Key})
	default:
		writeError(w, http.StatusInternalServerError, "Scoring failed: "+err.Error())
	}
}
