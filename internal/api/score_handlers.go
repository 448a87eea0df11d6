package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/onnwee/nestscout/internal/catalog"
	"github.com/onnwee/nestscout/internal/scoring"
)

// MaxRankedLimit caps the limit query parameter of GET /scores/{profile_id}.
const MaxRankedLimit = 500

// ScoreHandlers serves ranked scores and compute triggers.
type ScoreHandlers struct {
	engine *scoring.Engine
}

// NewScoreHandlers creates a new ScoreHandlers instance.
func NewScoreHandlers(engine *scoring.Engine) *ScoreHandlers {
	return &ScoreHandlers{engine: engine}
}

// RankedResponse is the body of GET /scores/{profile_id}.
type RankedResponse struct {
	Items []scoring.RankedListing `json:"items"`
	Total int                     `json:"total"`
}

// ComputeResponse is the body of a synchronous compute.
type ComputeResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// Ranked handles GET /scores/{profile_id}?limit=N.
func (h *ScoreHandlers) Ranked(w http.ResponseWriter, r *http.Request) {
	profileID, ok := pathID(w, r, "profile_id")
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "limit must be a non-negative integer")
			return
		}
		limit = min(n, MaxRankedLimit)
	}

	ranked, err := h.engine.RankedFor(r.Context(), profileID, limit)
	if err != nil {
		if errors.Is(err, scoring.ErrProfileNotFound) {
			WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Profile not found")
			return
		}
		writeInternal(w, r, "failed to load ranked scores", err)
		return
	}
	if ranked == nil {
		ranked = []scoring.RankedListing{}
	}

	writeJSON(w, r.Context(), http.StatusOK, RankedResponse{Items: ranked, Total: len(ranked)})
}

// Compute handles POST /scores/{profile_id}/compute. With ?async=true the
// pass runs in the background and 202 carries the job id.
func (h *ScoreHandlers) Compute(w http.ResponseWriter, r *http.Request) {
	profileID, ok := pathID(w, r, "profile_id")
	if !ok {
		return
	}

	async, err := parseBool(r.URL.Query().Get("async"))
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "async must be a boolean")
		return
	}

	if async {
		job, err := h.engine.StartCompute(r.Context(), profileID)
		if err != nil {
			h.writeComputeError(w, r, err)
			return
		}
		w.Header().Set("Location", "/jobs/"+job.ID)
		writeJSON(w, r.Context(), http.StatusAccepted, job)
		return
	}

	count, err := h.engine.ComputeProfile(r.Context(), profileID)
	if err != nil {
		h.writeComputeError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, ComputeResponse{
		Message: fmt.Sprintf("Scored %d properties", count),
		Count:   count,
	})
}

func (h *ScoreHandlers) writeComputeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, scoring.ErrProfileNotFound) {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Profile not found")
		return
	}
	writeInternal(w, r, "failed to compute scores", err)
}

// Explain handles GET /scores/{profile_id}/listings/{listing_id}.
func (h *ScoreHandlers) Explain(w http.ResponseWriter, r *http.Request) {
	profileID, ok := pathID(w, r, "profile_id")
	if !ok {
		return
	}
	listingID, ok := pathID(w, r, "listing_id")
	if !ok {
		return
	}

	ex, err := h.engine.Explain(r.Context(), profileID, listingID)
	switch {
	case errors.Is(err, scoring.ErrProfileNotFound):
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Profile not found")
	case errors.Is(err, catalog.ErrListingNotFound):
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Listing not found")
	case err != nil:
		writeInternal(w, r, "failed to explain score", err)
	default:
		writeJSON(w, r.Context(), http.StatusOK, ex)
	}
}

// pathID parses a positive integer path value, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func parseBool(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
