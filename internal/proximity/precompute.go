package proximity

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/nestscout/internal/catalog"
	"github.com/onnwee/nestscout/internal/geo"
	"github.com/onnwee/nestscout/internal/jobs"
)

// DefaultPrecomputeRadiusM is the radius within which distances are stored.
const DefaultPrecomputeRadiusM = 2000.0

const jobTypePrecompute = jobs.JobTypeDistancePrecompute

// JobMetrics reports to the centralized background job metrics.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// PrecomputeConfig configures a Precomputer.
type PrecomputeConfig struct {
	// RadiusM bounds stored distances. Defaults to DefaultPrecomputeRadiusM.
	RadiusM float64
	// WalkSpeedKmh for walk times. Defaults to geo.DefaultWalkSpeedKmh.
	WalkSpeedKmh float64
	// Workers is the number of listings processed in parallel.
	// Defaults to runtime.NumCPU().
	Workers    int
	Logger     *slog.Logger
	Metrics    *Metrics
	JobMetrics JobMetrics
}

// PrecomputeResult summarizes one precomputation pass.
type PrecomputeResult struct {
	Listings  int
	Skipped   int
	Distances int
	Duration  time.Duration
}

// Precomputer fills a DistanceWriter with listing-to-POI distances.
type Precomputer struct {
	config   PrecomputeConfig
	listings catalog.ListingSource
	searcher Searcher
	writer   DistanceWriter
}

// NewPrecomputer creates a precomputer.
func NewPrecomputer(cfg PrecomputeConfig, listings catalog.ListingSource, searcher Searcher, writer DistanceWriter) *Precomputer {
	if cfg.RadiusM <= 0 {
		cfg.RadiusM = DefaultPrecomputeRadiusM
	}
	if cfg.WalkSpeedKmh <= 0 {
		cfg.WalkSpeedKmh = geo.DefaultWalkSpeedKmh
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Precomputer{config: cfg, listings: listings, searcher: searcher, writer: writer}
}

// Run replaces the cached distances of every located listing. Unlocated
// listings are skipped and keep no rows.
func (p *Precomputer) Run(ctx context.Context) (PrecomputeResult, error) {
	start := time.Now()

	listings, err := p.listings.ListListings(ctx)
	if err != nil {
		p.finish(start, err)
		return PrecomputeResult{}, fmt.Errorf("failed to list listings: %w", err)
	}

	p.config.Logger.InfoContext(ctx, "precomputing distances",
		"listings", len(listings),
		"radius_m", p.config.RadiusM)

	var written, done, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)

	for i := range listings {
		if gctx.Err() != nil {
			break
		}
		l := &listings[i]
		g.Go(func() error {
			ds := p.distancesFor(l)
			if !geo.Located(l.Location) {
				skipped.Add(1)
			}
			if err := p.writer.ReplaceDistances(gctx, l.ID, ds); err != nil {
				return fmt.Errorf("listing %d: %w", l.ID, err)
			}
			written.Add(int64(len(ds)))
			done.Add(1)
			return nil
		})
	}

	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	result := PrecomputeResult{
		Listings:  int(done.Load()),
		Skipped:   int(skipped.Load()),
		Distances: int(written.Load()),
		Duration:  time.Since(start),
	}
	if p.config.Metrics != nil {
		p.config.Metrics.AddPrecomputed(result.Distances)
	}
	p.finish(start, err)

	if err != nil {
		return result, fmt.Errorf("failed to precompute distances: %w", err)
	}

	p.config.Logger.InfoContext(ctx, "distance precompute completed",
		"duration_seconds", result.Duration.Seconds(),
		"listings", result.Listings,
		"skipped", result.Skipped,
		"distances", result.Distances)
	return result, nil
}

func (p *Precomputer) distancesFor(l *catalog.Listing) []CachedDistance {
	if !geo.Located(l.Location) {
		return nil
	}
	matches := p.searcher.FindNearby(*l.Location, p.config.RadiusM, catalog.AnyCategory)
	ds := make([]CachedDistance, 0, len(matches))
	for _, m := range matches {
		ds = append(ds, CachedDistance{
			ListingID:   l.ID,
			POIID:       m.POI.ID,
			CategoryID:  m.POI.CategoryID,
			DistanceM:   m.DistanceM,
			WalkTimeMin: math.Round(geo.WalkTimeMinutes(m.DistanceM, p.config.WalkSpeedKmh)*10) / 10,
		})
	}
	return ds
}

func (p *Precomputer) finish(start time.Time, err error) {
	if p.config.JobMetrics == nil {
		return
	}
	if err != nil {
		p.config.JobMetrics.IncJobErrors(jobTypePrecompute, jobs.ErrorType(err))
	}
	p.config.JobMetrics.IncJobsTotal(jobTypePrecompute, jobs.Status(err))
	p.config.JobMetrics.ObserveJobDuration(jobTypePrecompute, time.Since(start).Seconds())
}
