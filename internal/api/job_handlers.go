package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/onnwee/nestscout/internal/middleware"
	"github.com/onnwee/nestscout/internal/scoring"
)

// DefaultStreamInterval is how often a job stream pushes progress.
const DefaultStreamInterval = 500 * time.Millisecond

const streamWriteTimeout = 5 * time.Second

// JobHandlers serves compute job status, progress streams and cancellation.
type JobHandlers struct {
	tracker  *scoring.JobTracker
	upgrader websocket.Upgrader
	interval time.Duration
}

// NewJobHandlers creates a new JobHandlers instance. A non-positive
// interval uses DefaultStreamInterval.
func NewJobHandlers(tracker *scoring.JobTracker, interval time.Duration) *JobHandlers {
	if interval <= 0 {
		interval = DefaultStreamInterval
	}
	return &JobHandlers{
		tracker: tracker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		interval: interval,
	}
}

// Get handles GET /jobs/{job_id}.
func (h *JobHandlers) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.tracker.Get(r.PathValue("job_id"))
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, job)
}

// Cancel handles DELETE /jobs/{job_id}. Cancelling a finished job is a
// no-op that returns its final state.
func (h *JobHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.tracker.Cancel(r.PathValue("job_id"))
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusAccepted, job)
}

func (h *JobHandlers) writeJobError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, scoring.ErrJobNotFound) {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Job not found")
		return
	}
	writeInternal(w, r, "failed to load job", err)
}

// Stream handles GET /jobs/{job_id}/stream. After the websocket upgrade it
// pushes a job snapshot every interval and a final one when the job ends,
// then closes normally.
func (h *JobHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := r.PathValue("job_id")

	done, err := h.tracker.Done(jobID)
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.ErrorContext(ctx, "failed to upgrade websocket connection",
			"error", err,
			"job_id", jobID,
		)
		return
	}
	defer conn.Close()

	requestID := middleware.GetRequestID(ctx)
	slog.DebugContext(ctx, "job stream opened", "job_id", jobID, "request_id", requestID)

	// Clients send nothing; reading detects disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.WarnContext(ctx, "job stream closed unexpectedly", "error", err, "job_id", jobID)
				}
				return
			}
		}
	}()

	send := func() bool {
		job, err := h.tracker.Get(jobID)
		if err != nil {
			return false
		}
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		return conn.WriteJSON(job) == nil
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if !send() {
		return
	}
	for {
		select {
		case <-done:
			if send() {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
					time.Now().Add(streamWriteTimeout))
			}
			slog.DebugContext(ctx, "job stream closed", "job_id", jobID, "request_id", requestID)
			return
		case <-ticker.C:
			if !send() {
				return
			}
		case <-gone:
			return
		}
	}
}
