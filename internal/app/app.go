// Package app assembles the scoring stack shared by the API server and the
// scorer CLI: storage, the spatial index, the engine and their metrics.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/nestscout/internal/catalog"
	"github.com/onnwee/nestscout/internal/config"
	"github.com/onnwee/nestscout/internal/db"
	"github.com/onnwee/nestscout/internal/export"
	"github.com/onnwee/nestscout/internal/jobs"
	"github.com/onnwee/nestscout/internal/middleware"
	"github.com/onnwee/nestscout/internal/proximity"
	"github.com/onnwee/nestscout/internal/scoring"
	"github.com/onnwee/nestscout/internal/stats"
)

// ErrExportNotConfigured is returned by Exporter when R2 settings are absent.
var ErrExportNotConfigured = errors.New("ranking export requires R2 configuration")

// Catalog is the full catalog surface the stack needs.
type Catalog interface {
	catalog.ListingSource
	catalog.POISource
	catalog.Writer
}

// distanceStore is both sides of the precomputed distance table.
type distanceStore interface {
	proximity.DistanceCache
	proximity.DistanceWriter
}

// Options selects the storage backend.
type Options struct {
	Config *config.Config
	// SeedPath, when set, runs everything in memory from a YAML seed
	// instead of the configured database.
	SeedPath string
	Logger   *slog.Logger
}

// Metrics groups every registered collector set.
type Metrics struct {
	Registry  *prometheus.Registry
	HTTP      *middleware.Metrics
	Jobs      *jobs.Metrics
	Scoring   *scoring.Metrics
	Proximity *proximity.Metrics
}

// App is a wired scoring stack.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	DB        *db.DB
	Redis     *redis.Client
	Catalog   Catalog
	Profiles  scoring.ProfileRepository
	Scores    scoring.ScoreStore
	Distances proximity.DistanceWriter
	Searcher  proximity.Searcher
	Index     *proximity.Index
	Engine    *scoring.Engine
	Dirty     *scoring.DirtyTracker
	Stats     *stats.UpsertStats
	Metrics   Metrics
}

// New builds the stack. The caller owns the result and must Close it.
func New(ctx context.Context, opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cfg := opts.Config

	a := &App{
		Config: cfg,
		Logger: opts.Logger,
		Dirty:  scoring.NewDirtyTracker(),
		Stats:  stats.NewUpsertStats(),
	}
	built := false
	defer func() {
		if !built {
			_ = a.Close()
		}
	}()

	if err := a.registerMetrics(); err != nil {
		return nil, err
	}

	var (
		distances distanceStore
		err       error
	)
	if opts.SeedPath != "" {
		distances, err = a.openSeed(ctx, opts.SeedPath)
	} else {
		distances, err = a.openDatabase(ctx)
	}
	if err != nil {
		return nil, err
	}

	var cache proximity.DistanceCache = distances
	a.Distances = distances
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		a.Redis = redis.NewClient(redisOpts)
		rc := proximity.NewRedisDistanceCache(a.Redis, distances, cfg.DistanceCacheTTL())
		cache, a.Distances = rc, rc
		a.Logger.Info("redis distance cache enabled", "ttl", cfg.DistanceCacheTTL())
	}

	a.Searcher, err = proximity.LoadSearcher(ctx, cfg.SpatialIndex, a.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to build spatial index: %w", err)
	}
	a.Logger.Info("spatial index ready", "kind", cfg.SpatialIndex, "pois", a.Searcher.Len())

	a.Index = proximity.NewIndex(a.Searcher, proximity.IndexConfig{
		Cache:   cache,
		Logger:  a.Logger,
		Metrics: a.Metrics.Proximity,
	})

	a.Engine = scoring.NewEngine(scoring.EngineConfig{
		Workers:    cfg.ScoringWorkers,
		Logger:     a.Logger,
		Metrics:    a.Metrics.Scoring,
		JobMetrics: a.Metrics.Jobs,
		Stats:      a.Stats,
	}, a.Catalog, a.Profiles, a.Scores, scoring.NewRegistry(a.Index))

	built = true
	return a, nil
}

func (a *App) registerMetrics() error {
	m := Metrics{
		Registry:  prometheus.NewRegistry(),
		HTTP:      middleware.NewMetrics(),
		Jobs:      jobs.NewMetrics(),
		Scoring:   scoring.NewMetrics(),
		Proximity: proximity.NewMetrics(),
	}
	if err := m.Registry.Register(collectors.NewGoCollector()); err != nil {
		return fmt.Errorf("failed to register go collector: %w", err)
	}
	for name, r := range map[string]interface{ Register(prometheus.Registerer) error }{
		"http":      m.HTTP,
		"jobs":      m.Jobs,
		"scoring":   m.Scoring,
		"proximity": m.Proximity,
	} {
		if err := r.Register(m.Registry); err != nil {
			return fmt.Errorf("failed to register %s metrics: %w", name, err)
		}
	}
	a.Metrics = m
	return nil
}

func (a *App) openDatabase(ctx context.Context) (distanceStore, error) {
	d, err := db.Open(ctx, a.Config.DatabaseDriver, a.Config.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.DB = d
	if err := d.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	a.Logger.Info("database ready", "driver", a.Config.DatabaseDriver)

	a.Catalog = catalog.NewSQLRepository(d)
	a.Profiles = scoring.NewSQLProfileRepository(d)
	a.Scores = scoring.NewSQLScoreStore(d)
	return proximity.NewSQLDistanceCache(d), nil
}

func (a *App) openSeed(ctx context.Context, path string) (distanceStore, error) {
	seed, err := catalog.LoadSeed(path)
	if err != nil {
		return nil, err
	}
	repo := catalog.NewInMemoryRepository()
	if err := seed.Apply(ctx, repo); err != nil {
		return nil, err
	}
	profiles := scoring.NewInMemoryProfileRepository()
	if err := scoring.ApplySeed(ctx, profiles, seed.Profiles); err != nil {
		return nil, fmt.Errorf("failed to seed profiles: %w", err)
	}

	a.Catalog = repo
	a.Profiles = profiles
	a.Scores = scoring.NewInMemoryScoreStore(repo)
	a.Logger.Info("running in memory from seed",
		"path", path,
		"listings", len(seed.Listings),
		"pois", len(seed.POIs),
		"profiles", len(seed.Profiles))
	return proximity.NewInMemoryDistanceCache(), nil
}

// Precomputer returns a distance precomputer writing through the app's
// distance store. A non-positive radius uses the configured one.
func (a *App) Precomputer(radiusM float64) *proximity.Precomputer {
	if radiusM <= 0 {
		radiusM = a.Config.PrecomputeRadiusM
	}
	return proximity.NewPrecomputer(proximity.PrecomputeConfig{
		RadiusM:    radiusM,
		Workers:    a.Config.ScoringWorkers,
		Logger:     a.Logger,
		Metrics:    a.Metrics.Proximity,
		JobMetrics: a.Metrics.Jobs,
	}, a.Catalog, a.Searcher, a.Distances)
}

// RecomputeJob returns the scheduled recompute of dirty profiles.
func (a *App) RecomputeJob() *scoring.RecomputeJob {
	return scoring.NewRecomputeJob(scoring.RecomputeJobConfig{
		Interval:   a.Config.RecomputeInterval(),
		Logger:     a.Logger,
		JobMetrics: a.Metrics.Jobs,
	}, a.Dirty, a.Engine)
}

// Exporter returns the R2 ranking exporter.
func (a *App) Exporter() (*export.Exporter, error) {
	if !a.Config.R2Configured() {
		return nil, ErrExportNotConfigured
	}
	return export.New(export.Config{
		BucketName:      a.Config.R2BucketName,
		AccessKeyID:     a.Config.R2AccessKeyID,
		SecretAccessKey: a.Config.R2SecretAccessKey,
		Endpoint:        a.Config.R2Endpoint,
		Logger:          a.Logger,
		JobMetrics:      a.Metrics.Jobs,
	}, a.Engine)
}

// Close releases the database and Redis connections. It is safe on a nil App.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
