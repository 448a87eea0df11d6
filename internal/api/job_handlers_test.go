package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/onnwee/nestscout/internal/scoring"
)

func startJob(t *testing.T, s *server) scoring.Job {
	t.Helper()
	s.createProfile(t)
	rr := s.do(t, http.MethodPost, "/scores/1/compute?async=true", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body: %s", rr.Code, rr.Body.String())
	}
	return decode[scoring.Job](t, rr)
}

func waitJob(t *testing.T, s *server, id string) scoring.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := s.engine.Tracker().Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	return job
}

func TestJobs_GetAndCancel(t *testing.T) {
	s := newServer(t, nil)
	job := startJob(t, s)
	waitJob(t, s, job.ID)

	rr := s.do(t, http.MethodGet, "/jobs/"+job.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	got := decode[scoring.Job](t, rr)
	if got.Status != scoring.JobSucceeded || got.Total != 3 || got.FinishedAt == nil {
		t.Errorf("job = %+v", got)
	}

	// Cancelling a finished job keeps its final state.
	rr = s.do(t, http.MethodDelete, "/jobs/"+job.ID, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("cancel status = %d", rr.Code)
	}
	if after := decode[scoring.Job](t, rr); after.Status != scoring.JobSucceeded {
		t.Errorf("status after cancel = %s", after.Status)
	}

	assertError(t, s.do(t, http.MethodGet, "/jobs/missing", nil), http.StatusNotFound, ErrCodeNotFound)
	assertError(t, s.do(t, http.MethodDelete, "/jobs/missing", nil), http.StatusNotFound, ErrCodeNotFound)
}

func TestJobs_Stream(t *testing.T) {
	s := newServer(t, nil)
	job := startJob(t, s)

	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/jobs/" + job.ID + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("handshake status = %d", resp.StatusCode)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var snapshots []scoring.Job
	for {
		var snap scoring.Job
		if err := conn.ReadJSON(&snap); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("stream ended with %v", err)
			}
			break
		}
		snapshots = append(snapshots, snap)
	}

	if len(snapshots) == 0 {
		t.Fatal("expected at least one snapshot")
	}
	last := snapshots[len(snapshots)-1]
	if last.ID != job.ID || last.Status != scoring.JobSucceeded || last.Processed != 3 {
		t.Errorf("final snapshot = %+v", last)
	}
	for i := 1; i < len(snapshots); i++ {
		if snapshots[i].Processed < snapshots[i-1].Processed {
			t.Errorf("progress went backwards: %d then %d", snapshots[i-1].Processed, snapshots[i].Processed)
		}
	}
}

func TestJobs_StreamUnknownJob(t *testing.T) {
	s := newServer(t, nil)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/jobs/missing/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected the handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", resp)
	}
}
