package scoring

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a compute job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// DefaultJobRetention is how many finished jobs a tracker remembers.
const DefaultJobRetention = 100

// ErrJobNotFound is returned for unknown or evicted job ids.
var ErrJobNotFound = errors.New("job not found")

// Job is a snapshot of one compute pass.
type Job struct {
	ID         string     `json:"job_id"`
	ProfileID  int64      `json:"profile_id"`
	Status     JobStatus  `json:"status"`
	Processed  int        `json:"processed"`
	Total      int        `json:"total"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Done reports whether the job reached a terminal state.
func (j Job) Done() bool {
	return j.Status != JobRunning
}

type trackedJob struct {
	job    Job
	cancel context.CancelFunc
	done   chan struct{}
}

// JobTracker keeps the state of recent compute jobs. Each job carries its
// own cancellation and progress counter.
type JobTracker struct {
	mu        sync.RWMutex
	jobs      map[string]*trackedJob
	finished  []string
	retention int
}

// NewJobTracker creates a tracker keeping up to retention finished jobs.
func NewJobTracker(retention int) *JobTracker {
	if retention <= 0 {
		retention = DefaultJobRetention
	}
	return &JobTracker{jobs: make(map[string]*trackedJob), retention: retention}
}

// start registers a running job and returns its id.
func (t *JobTracker) start(profileID int64, cancel context.CancelFunc) string {
	id := uuid.NewString()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[id] = &trackedJob{
		job:    Job{ID: id, ProfileID: profileID, Status: JobRunning, StartedAt: time.Now().UTC()},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	return id
}

func (t *JobTracker) progress(id string, processed, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tj, ok := t.jobs[id]; ok {
		// Workers report out of order; progress only moves forward.
		tj.job.Processed = max(tj.job.Processed, processed)
		tj.job.Total = total
	}
}

func (t *JobTracker) finish(id string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tj, ok := t.jobs[id]
	if !ok {
		return
	}

	now := time.Now().UTC()
	tj.job.FinishedAt = &now
	switch {
	case err == nil:
		tj.job.Status = JobSucceeded
	case errors.Is(err, context.Canceled):
		tj.job.Status = JobCancelled
	default:
		tj.job.Status = JobFailed
		tj.job.Error = err.Error()
	}
	tj.cancel()
	close(tj.done)

	t.finished = append(t.finished, id)
	for len(t.finished) > t.retention {
		delete(t.jobs, t.finished[0])
		t.finished = t.finished[1:]
	}
}

// Get returns a snapshot of the job.
func (t *JobTracker) Get(id string) (Job, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tj, ok := t.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return tj.job, nil
}

// Done returns a channel closed when the job finishes.
func (t *JobTracker) Done(id string) (<-chan struct{}, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tj, ok := t.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return tj.done, nil
}

// Cancel requests cancellation. Rows already written stay; the job ends as
// cancelled once its workers notice.
func (t *JobTracker) Cancel(id string) (Job, error) {
	t.mu.RLock()
	tj, ok := t.jobs[id]
	t.mu.RUnlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}
	tj.cancel()
	return t.Get(id)
}

// Wait blocks until the job finishes or ctx is done.
func (t *JobTracker) Wait(ctx context.Context, id string) (Job, error) {
	done, err := t.Done(id)
	if err != nil {
		return Job{}, err
	}
	select {
	case <-done:
		return t.Get(id)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}
