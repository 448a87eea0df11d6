package scoring

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/onnwee/nestscout/internal/jobs"
)

// DirtyTracker records profiles whose rules changed since their last
// compute. Each mark carries a version so a compute that started before a
// later change does not clear it.
type DirtyTracker struct {
	mu      sync.Mutex
	dirty   map[int64]uint64
	version uint64
}

// DirtyMark identifies one pending recompute.
type DirtyMark struct {
	ProfileID int64
	Version   uint64
}

// NewDirtyTracker creates an empty tracker.
func NewDirtyTracker() *DirtyTracker {
	return &DirtyTracker{dirty: make(map[int64]uint64)}
}

// MarkDirty flags a profile for recompute.
func (t *DirtyTracker) MarkDirty(profileID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.version++
	t.dirty[profileID] = t.version
}

// Pending returns the current marks ordered by profile id.
func (t *DirtyTracker) Pending() []DirtyMark {
	t.mu.Lock()
	defer t.mu.Unlock()
	marks := make([]DirtyMark, 0, len(t.dirty))
	for _, id := range slices.Sorted(maps.Keys(t.dirty)) {
		marks = append(marks, DirtyMark{ProfileID: id, Version: t.dirty[id]})
	}
	return marks
}

// Clear removes the mark unless the profile was marked again since.
// It reports whether the mark was removed.
func (t *DirtyTracker) Clear(m DirtyMark) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.dirty[m.ProfileID]; !ok || v != m.Version {
		return false
	}
	delete(t.dirty, m.ProfileID)
	return true
}

// IsDirty reports whether the profile awaits recompute.
func (t *DirtyTracker) IsDirty(profileID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.dirty[profileID]
	return ok
}

// Len returns the number of dirty profiles.
func (t *DirtyTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dirty)
}

// ProfileComputer is the part of Engine the recompute job drives.
type ProfileComputer interface {
	ComputeProfile(ctx context.Context, profileID int64) (int, error)
}

// RecomputeJobConfig configures the scheduled recompute job.
type RecomputeJobConfig struct {
	// Interval between recompute cycles.
	Interval time.Duration
	// Timeout for each cycle.
	Timeout time.Duration
	Logger  *slog.Logger
	// JobMetrics for centralized background job tracking.
	JobMetrics JobMetrics
}

const (
	// DefaultRecomputeInterval is the default interval between cycles.
	DefaultRecomputeInterval = 5 * time.Minute
	// DefaultRecomputeTimeout is the default timeout of one cycle.
	DefaultRecomputeTimeout = 2 * time.Minute
)

// RecomputeJob periodically recomputes dirty profiles.
type RecomputeJob struct {
	config   RecomputeJobConfig
	dirty    *DirtyTracker
	computer ProfileComputer

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRecomputeJob creates a recompute job over dirty.
func NewRecomputeJob(config RecomputeJobConfig, dirty *DirtyTracker, computer ProfileComputer) *RecomputeJob {
	if config.Interval <= 0 {
		config.Interval = DefaultRecomputeInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultRecomputeTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &RecomputeJob{config: config, dirty: dirty, computer: computer}
}

// Start runs the job in a background goroutine until Stop or ctx is done.
func (j *RecomputeJob) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	go j.run(ctx, j.stopCh, j.doneCh)
}

// Stop signals the job and waits for the current cycle to end.
func (j *RecomputeJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh, doneCh := j.stopCh, j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning reports whether the job loop is active.
func (j *RecomputeJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *RecomputeJob) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("recompute job stopping due to context cancellation")
			return
		case <-stopCh:
			j.config.Logger.Info("recompute job stopping due to stop signal")
			return
		case <-ticker.C:
			j.RecomputeNow(ctx)
		}
	}
}

// RecomputeNow runs one cycle immediately and returns how many profiles
// were recomputed.
func (j *RecomputeJob) RecomputeNow(parent context.Context) int {
	marks := j.dirty.Pending()
	if len(marks) == 0 {
		return 0
	}

	ctx, cancel := context.WithTimeout(parent, j.config.Timeout)
	defer cancel()

	start := time.Now()
	var done int
	var cycleErr error

	j.config.Logger.Info("recomputing dirty profiles", "dirty_count", len(marks))

	for i, mark := range marks {
		if err := ctx.Err(); err != nil {
			j.config.Logger.Error("recompute cycle interrupted",
				"processed", i,
				"total", len(marks),
				"timeout", j.config.Timeout,
				"error", err)
			cycleErr = err
			break
		}

		n, err := j.computer.ComputeProfile(ctx, mark.ProfileID)
		switch {
		case errors.Is(err, ErrProfileNotFound):
			j.dirty.Clear(mark)
			continue
		case err != nil:
			j.config.Logger.Error("failed to recompute profile",
				"profile_id", mark.ProfileID,
				"error", err)
			if j.config.JobMetrics != nil {
				j.config.JobMetrics.IncJobErrors(jobs.JobTypeScheduledRecompute, jobs.ErrorType(err))
			}
			cycleErr = err
			continue
		}

		j.dirty.Clear(mark)
		done++
		j.config.Logger.Debug("profile recomputed",
			"profile_id", mark.ProfileID,
			"scored", n)
	}

	duration := time.Since(start).Seconds()
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobsTotal(jobs.JobTypeScheduledRecompute, jobs.Status(cycleErr))
		j.config.JobMetrics.ObserveJobDuration(jobs.JobTypeScheduledRecompute, duration)
	}

	j.config.Logger.Info("recompute cycle completed",
		"duration_seconds", duration,
		"profiles_recomputed", done,
		"profiles_pending", j.dirty.Len())
	return done
}
