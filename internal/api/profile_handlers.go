package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/onnwee/nestscout/internal/scoring"
)

// maxRulesBodyBytes bounds PUT /profiles/{profile_id}/rules bodies.
const maxRulesBodyBytes = 1 << 20

// RuleRequest is one rule in a rule replacement. Weight is required.
type RuleRequest struct {
	Type         scoring.RuleType `json:"rule_type"`
	CategoryID   int64            `json:"poi_category_id,omitempty"`
	MaxDistanceM *float64         `json:"max_distance_m,omitempty"`
	Weight       *float64         `json:"weight"`
	Params       scoring.Params   `json:"parameters,omitempty"`
}

// ReplaceRulesRequest is the body of PUT /profiles/{profile_id}/rules.
type ReplaceRulesRequest struct {
	Rules []RuleRequest `json:"rules"`
}

// ReplaceRulesResponse echoes the profile with its new rules.
type ReplaceRulesResponse struct {
	Message string           `json:"message"`
	Profile *scoring.Profile `json:"profile"`
}

// ProfileHandlers serves profiles and rule replacement.
type ProfileHandlers struct {
	repo  scoring.ProfileRepository
	dirty *scoring.DirtyTracker
}

// NewProfileHandlers creates a new ProfileHandlers instance. dirty may be
// nil when no scheduled recompute runs.
func NewProfileHandlers(repo scoring.ProfileRepository, dirty *scoring.DirtyTracker) *ProfileHandlers {
	return &ProfileHandlers{repo: repo, dirty: dirty}
}

// Get handles GET /profiles/{profile_id}.
func (h *ProfileHandlers) Get(w http.ResponseWriter, r *http.Request) {
	profileID, ok := pathID(w, r, "profile_id")
	if !ok {
		return
	}

	p, err := h.repo.GetProfile(r.Context(), profileID)
	if err != nil {
		if errors.Is(err, scoring.ErrProfileNotFound) {
			WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Profile not found")
			return
		}
		writeInternal(w, r, "failed to load profile", err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, p)
}

// ReplaceRules handles PUT /profiles/{profile_id}/rules. The whole rule set
// is replaced atomically and the profile is marked for recompute.
func (h *ProfileHandlers) ReplaceRules(w http.ResponseWriter, r *http.Request) {
	profileID, ok := pathID(w, r, "profile_id")
	if !ok {
		return
	}

	var req ReplaceRulesRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRulesBodyBytes))
	if err := dec.Decode(&req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if req.Rules == nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "rules is required")
		return
	}

	rules := make([]scoring.Rule, len(req.Rules))
	for i, rr := range req.Rules {
		if rr.Weight == nil {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, fmt.Sprintf("rule %d: weight is required", i))
			return
		}
		rules[i] = scoring.Rule{
			Type:         rr.Type,
			CategoryID:   rr.CategoryID,
			MaxDistanceM: rr.MaxDistanceM,
			Weight:       *rr.Weight,
			Params:       rr.Params,
		}
	}

	stored, err := h.repo.ReplaceRules(r.Context(), profileID, rules)
	switch {
	case errors.Is(err, scoring.ErrInvalidWeight):
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeInvalidWeight, err.Error())
		return
	case errors.Is(err, scoring.ErrMissingRuleType):
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	case errors.Is(err, scoring.ErrProfileNotFound):
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Profile not found")
		return
	case err != nil:
		writeInternal(w, r, "failed to replace rules", err)
		return
	}

	if h.dirty != nil {
		h.dirty.MarkDirty(profileID)
	}

	p, err := h.repo.GetProfile(r.Context(), profileID)
	if err != nil {
		writeInternal(w, r, "failed to reload profile", err)
		return
	}
	p.Rules = stored
	writeJSON(w, r.Context(), http.StatusOK, ReplaceRulesResponse{Message: "Rules updated", Profile: p})
}
