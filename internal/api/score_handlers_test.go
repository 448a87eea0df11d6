package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/onnwee/nestscout/internal/middleware"
	"github.com/onnwee/nestscout/internal/scoring"
)

func TestCompute_Synchronous(t *testing.T) {
	s := newServer(t, nil)
	id := s.createProfile(t)

	rr := s.do(t, http.MethodPost, "/scores/1/compute", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rr.Code, rr.Body.String())
	}
	resp := decode[ComputeResponse](t, rr)
	if resp.Count != 3 || resp.Message != "Scored 3 properties" {
		t.Errorf("response = %+v", resp)
	}

	score, err := s.store.Get(context.Background(), 10, id)
	if err != nil {
		t.Fatalf("score not stored: %v", err)
	}
	if score.TotalScore != 60 {
		t.Errorf("total = %v, want 60", score.TotalScore)
	}
}

func TestCompute_Async(t *testing.T) {
	s := newServer(t, nil)
	s.createProfile(t)

	rr := s.do(t, http.MethodPost, "/scores/1/compute?async=true", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body: %s", rr.Code, rr.Body.String())
	}
	job := decode[scoring.Job](t, rr)
	if job.ID == "" || job.ProfileID != 1 {
		t.Fatalf("job = %+v", job)
	}
	if loc := rr.Header().Get("Location"); loc != "/jobs/"+job.ID {
		t.Errorf("Location = %q", loc)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := s.engine.Tracker().Wait(ctx, job.ID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if final.Status != scoring.JobSucceeded || final.Processed != 3 {
		t.Errorf("final job = %+v", final)
	}
}

func TestCompute_Errors(t *testing.T) {
	s := newServer(t, nil)

	tests := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"unknown profile", "/scores/99/compute", http.StatusNotFound, ErrCodeNotFound},
		{"unknown profile async", "/scores/99/compute?async=1", http.StatusNotFound, ErrCodeNotFound},
		{"non-numeric id", "/scores/abc/compute", http.StatusBadRequest, ErrCodeValidation},
		{"zero id", "/scores/0/compute", http.StatusBadRequest, ErrCodeValidation},
		{"bad async flag", "/scores/1/compute?async=maybe", http.StatusBadRequest, ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertError(t, s.do(t, http.MethodPost, tt.target, nil), tt.status, tt.code)
		})
	}
}

func TestCompute_RateLimited(t *testing.T) {
	s := newServer(t, middleware.NewLimiter(middleware.PerMinute(1)))
	s.createProfile(t)

	if rr := s.do(t, http.MethodPost, "/scores/1/compute", nil); rr.Code != http.StatusOK {
		t.Fatalf("first compute status = %d", rr.Code)
	}
	rr := s.do(t, http.MethodPost, "/scores/1/compute", nil)
	assertError(t, rr, http.StatusTooManyRequests, ErrCodeRateLimited)
	if rr.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}

	// Reads are not limited.
	if rr := s.do(t, http.MethodGet, "/scores/1", nil); rr.Code != http.StatusOK {
		t.Errorf("ranked status = %d", rr.Code)
	}
}

func TestRanked(t *testing.T) {
	s := newServer(t, nil)
	s.createProfile(t)

	empty := decode[RankedResponse](t, s.do(t, http.MethodGet, "/scores/1", nil))
	if empty.Total != 0 || empty.Items == nil {
		t.Errorf("expected an empty item list before compute, got %+v", empty)
	}

	s.do(t, http.MethodPost, "/scores/1/compute", nil)

	rr := s.do(t, http.MethodGet, "/scores/1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	resp := decode[RankedResponse](t, rr)
	if resp.Total != 3 || len(resp.Items) != 3 {
		t.Fatalf("expected 3 items, got %+v", resp)
	}
	first := resp.Items[0]
	if first.ID != 10 || first.Score.TotalScore != 60 || first.Title != "Flat in Gracia" {
		t.Errorf("first item = %+v", first)
	}
	if first.Geohash == "" {
		t.Error("located listing should carry a geohash")
	}
	if resp.Items[1].ID != 11 || resp.Items[2].ID != 12 {
		t.Errorf("ties should order by listing id: %d, %d", resp.Items[1].ID, resp.Items[2].ID)
	}

	limited := decode[RankedResponse](t, s.do(t, http.MethodGet, "/scores/1?limit=1", nil))
	if limited.Total != 1 || limited.Items[0].ID != 10 {
		t.Errorf("limited = %+v", limited)
	}

	assertError(t, s.do(t, http.MethodGet, "/scores/1?limit=-2", nil), http.StatusBadRequest, ErrCodeValidation)
	assertError(t, s.do(t, http.MethodGet, "/scores/77", nil), http.StatusNotFound, ErrCodeNotFound)
}

func TestExplain(t *testing.T) {
	s := newServer(t, nil)
	s.createProfile(t)

	before := decode[scoring.Explanation](t, s.do(t, http.MethodGet, "/scores/1/listings/10", nil))
	if before.TotalScore != 60 || before.Stored != nil {
		t.Errorf("explanation before compute = %+v", before)
	}
	if len(before.Breakdown) != 1 {
		t.Errorf("breakdown = %+v", before.Breakdown)
	}

	s.do(t, http.MethodPost, "/scores/1/compute", nil)
	after := decode[scoring.Explanation](t, s.do(t, http.MethodGet, "/scores/1/listings/10", nil))
	if after.Stored == nil || after.Stored.TotalScore != 60 {
		t.Errorf("stored score missing: %+v", after)
	}

	assertError(t, s.do(t, http.MethodGet, "/scores/1/listings/404", nil), http.StatusNotFound, ErrCodeNotFound)
	assertError(t, s.do(t, http.MethodGet, "/scores/9/listings/10", nil), http.StatusNotFound, ErrCodeNotFound)
}
