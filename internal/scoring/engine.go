package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/nestscout/internal/catalog"
	"github.com/onnwee/nestscout/internal/jobs"
	"github.com/onnwee/nestscout/internal/stats"
	"github.com/onnwee/nestscout/internal/tracing"
)

// progressLogEvery is how often a compute pass logs progress, in listings.
const progressLogEvery = 100

// JobMetrics reports to the shared background job metrics.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Workers bounds concurrent listing evaluations. Defaults to runtime.NumCPU().
	Workers int
	// Logger for compute activity.
	Logger *slog.Logger
	// Metrics for scoring instrumentation. Optional.
	Metrics *Metrics
	// JobMetrics for centralized background job tracking. Optional.
	JobMetrics JobMetrics
	// Stats accumulates upsert outcomes. Optional.
	Stats *stats.UpsertStats
	// Tracker keeps asynchronous compute jobs. Defaults to a new tracker.
	Tracker *JobTracker
	// Now is the clock for computed_at. Defaults to time.Now.
	Now func() time.Time
}

// Engine scores listings against profiles and materializes the results.
type Engine struct {
	config   EngineConfig
	listings catalog.ListingSource
	profiles ProfileSource
	store    ScoreStore
	registry *Registry
}

// Explanation is an ad-hoc score for one listing with the stored score,
// when there is one, for comparison.
type Explanation struct {
	ListingID  int64     `json:"listing_id"`
	ProfileID  int64     `json:"profile_id"`
	TotalScore float64   `json:"total_score"`
	Breakdown  Breakdown `json:"breakdown"`
	Stored     *Score    `json:"stored,omitempty"`
}

// NewEngine creates a scoring engine.
func NewEngine(
	config EngineConfig,
	listings catalog.ListingSource,
	profiles ProfileSource,
	store ScoreStore,
	registry *Registry,
) *Engine {
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Tracker == nil {
		config.Tracker = NewJobTracker(DefaultJobRetention)
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Engine{
		config:   config,
		listings: listings,
		profiles: profiles,
		store:    store,
		registry: registry,
	}
}

// Tracker returns the engine's job tracker.
func (e *Engine) Tracker() *JobTracker {
	return e.config.Tracker
}

// ScoreListing evaluates rules against l and aggregates them. It never
// fails; rules that cannot be evaluated contribute 0.
func (e *Engine) ScoreListing(ctx context.Context, l *catalog.Listing, rules []Rule) (float64, Breakdown) {
	exact, breakdown := e.score(ctx, l, rules)
	return roundTotal(exact), breakdown
}

func (e *Engine) score(ctx context.Context, l *catalog.Listing, rules []Rule) (float64, Breakdown) {
	evals := make([]Evaluation, len(rules))
	for i, rule := range rules {
		evals[i] = e.registry.Evaluate(ctx, rule, l)
		if e.config.Metrics != nil {
			e.config.Metrics.IncRuleEvaluation(rule.Type, evals[i].Outcome)
		}
	}
	return aggregate(rules, evals)
}

// ComputeProfile scores every listing for the profile and upserts one row
// per listing. A profile without rules returns 0 and writes nothing.
//
// Cancellation is checked once per listing. On cancellation the rows
// already written stay and the count written so far is returned together
// with the context error.
func (e *Engine) ComputeProfile(ctx context.Context, profileID int64) (int, error) {
	p, err := e.profiles.GetProfile(ctx, profileID)
	if err != nil {
		return 0, err
	}
	return e.compute(ctx, p, nil)
}

// StartCompute runs ComputeProfile in the background and returns the
// tracked job. The job outlives ctx; cancel it through the tracker.
func (e *Engine) StartCompute(ctx context.Context, profileID int64) (Job, error) {
	p, err := e.profiles.GetProfile(ctx, profileID)
	if err != nil {
		return Job{}, err
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	tracker := e.config.Tracker
	id := tracker.start(profileID, cancel)

	go func() {
		_, err := e.compute(jobCtx, p, func(processed, total int) {
			tracker.progress(id, processed, total)
		})
		tracker.finish(id, err)
	}()

	return tracker.Get(id)
}

func (e *Engine) compute(ctx context.Context, p *Profile, progress func(processed, total int)) (count int, err error) {
	if len(p.Rules) == 0 {
		if progress != nil {
			progress(0, 0)
		}
		return 0, nil
	}

	ctx, end := tracing.StartSpan(ctx, "scoring.compute_profile",
		attribute.Int64("profile.id", p.ID),
		attribute.Int("profile.rules", len(p.Rules)))
	defer func() { end(err) }()

	start := time.Now()
	defer func() { e.finish(p.ID, start, count, err) }()

	listings, err := e.listings.ListListings(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list listings: %w", err)
	}
	total := len(listings)
	if progress != nil {
		progress(0, total)
	}

	e.config.Logger.Info("computing profile scores",
		"profile_id", p.ID,
		"rules", len(p.Rules),
		"listings", total)

	computedAt := e.config.Now().UTC().Truncate(time.Microsecond)
	var processed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Workers)
	for i := range listings {
		if gctx.Err() != nil {
			break
		}
		l := &listings[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := e.scoreAndStore(gctx, p, l, computedAt); err != nil {
				return err
			}

			n := int(processed.Add(1))
			if progress != nil {
				progress(n, total)
			}
			if n%progressLogEvery == 0 {
				e.config.Logger.Debug("compute progress",
					"profile_id", p.ID,
					"processed", n,
					"total", total)
			}
			return nil
		})
	}

	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return int(processed.Load()), err
}

func (e *Engine) scoreAndStore(ctx context.Context, p *Profile, l *catalog.Listing, computedAt time.Time) error {
	exact, breakdown := e.score(ctx, l, p.Rules)
	result, err := e.store.Upsert(ctx, Score{
		ListingID:  l.ID,
		ProfileID:  p.ID,
		TotalScore: roundTotal(exact),
		Breakdown:  breakdown,
		ComputedAt: computedAt,
		exact:      exact,
	})
	if err != nil {
		return fmt.Errorf("failed to store score for listing %d: %w", l.ID, err)
	}

	switch result {
	case UpsertInserted:
		if e.config.Stats != nil {
			e.config.Stats.RecordInsert()
		}
	case UpsertUpdated:
		if e.config.Stats != nil {
			e.config.Stats.RecordUpdate()
		}
	case UpsertStale:
		if e.config.Stats != nil {
			e.config.Stats.RecordStale()
		}
		if e.config.Metrics != nil {
			e.config.Metrics.IncStaleUpserts()
		}
		return nil
	}
	if e.config.Metrics != nil {
		e.config.Metrics.IncListingsScored()
	}
	return nil
}

func (e *Engine) finish(profileID int64, start time.Time, count int, err error) {
	duration := time.Since(start).Seconds()
	cancelled := errors.Is(err, context.Canceled)

	if e.config.Metrics != nil {
		e.config.Metrics.ObserveComputeDuration(duration)
		if err == nil {
			e.config.Metrics.SetLastComputeTimestamp(float64(time.Now().Unix()))
		}
	}
	if e.config.JobMetrics != nil {
		if err != nil && !cancelled {
			e.config.JobMetrics.IncJobErrors(jobs.JobTypeScoreCompute, jobs.ErrorType(err))
		}
		e.config.JobMetrics.IncJobsTotal(jobs.JobTypeScoreCompute, jobs.Status(err))
		e.config.JobMetrics.ObserveJobDuration(jobs.JobTypeScoreCompute, duration)
	}

	if err != nil && !cancelled {
		e.config.Logger.Error("profile compute failed",
			"profile_id", profileID,
			"duration_seconds", duration,
			"scored", count,
			"error", err)
		return
	}
	e.config.Logger.Info("profile compute completed",
		"profile_id", profileID,
		"duration_seconds", duration,
		"scored", count,
		"cancelled", cancelled)
}

// RankedFor returns the profile's stored scores, best first.
func (e *Engine) RankedFor(ctx context.Context, profileID int64, limit int) ([]RankedListing, error) {
	if _, err := e.profiles.GetProfile(ctx, profileID); err != nil {
		return nil, err
	}
	return e.store.RankedFor(ctx, profileID, limit)
}

// Explain scores one listing against the profile's current rules without
// writing anything.
func (e *Engine) Explain(ctx context.Context, profileID, listingID int64) (*Explanation, error) {
	p, err := e.profiles.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	l, err := e.listings.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}

	total, breakdown := e.ScoreListing(ctx, l, p.Rules)
	ex := &Explanation{
		ListingID:  listingID,
		ProfileID:  profileID,
		TotalScore: total,
		Breakdown:  breakdown,
	}

	stored, err := e.store.Get(ctx, listingID, profileID)
	switch {
	case err == nil:
		ex.Stored = stored
	case !errors.Is(err, ErrScoreNotFound):
		return nil, err
	}
	return ex, nil
}

// RecomputeAll computes every profile in id order. On error it returns the
// counts of the profiles finished so far.
func (e *Engine) RecomputeAll(ctx context.Context) (map[int64]int, error) {
	profiles, err := e.profiles.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	counts := make(map[int64]int, len(profiles))
	for i := range profiles {
		n, err := e.compute(ctx, &profiles[i], nil)
		if err != nil {
			return counts, fmt.Errorf("failed to compute profile %d: %w", profiles[i].ID, err)
		}
		counts[profiles[i].ID] = n
	}
	return counts, nil
}
