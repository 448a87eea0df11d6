// Package export uploads ranked score snapshots to S3-compatible object
// storage (Cloudflare R2).
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/onnwee/nestscout/internal/jobs"
	"github.com/onnwee/nestscout/internal/scoring"
)

// ContentType of every uploaded snapshot.
const ContentType = "application/json"

// keyTimeFormat keeps object keys sortable and free of colons.
const keyTimeFormat = "20060102T150405Z"

// Configuration errors
var (
	ErrMissingBucket      = errors.New("bucket name is required")
	ErrMissingAccessKeyID = errors.New("access key ID is required")
	ErrMissingSecretKey   = errors.New("secret access key is required")
	ErrMissingEndpoint    = errors.New("endpoint is required")
)

// Uploader is the subset of *s3.Client the exporter uses.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// RankingSource provides the ranked scores of a profile.
type RankingSource interface {
	RankedFor(ctx context.Context, profileID int64, limit int) ([]scoring.RankedListing, error)
}

// JobMetrics reports to the centralized background job metrics.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// Config holds configuration for the exporter.
type Config struct {
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	// Limit caps exported entries. Zero exports the full ranking.
	Limit      int
	Logger     *slog.Logger
	JobMetrics JobMetrics
	// Now is the snapshot clock. Defaults to time.Now.
	Now func() time.Time
}

// Snapshot is the uploaded document.
type Snapshot struct {
	ProfileID   int64                   `json:"profile_id"`
	GeneratedAt time.Time               `json:"generated_at"`
	Total       int                     `json:"total"`
	Items       []scoring.RankedListing `json:"items"`
}

// Result describes a finished upload.
type Result struct {
	Key   string
	Count int
	Bytes int
}

// Exporter writes ranked snapshots for a profile to a bucket.
type Exporter struct {
	config   Config
	source   RankingSource
	uploader Uploader
}

// NewS3Client creates an S3 client for R2. R2 uses the "auto" region and
// path-style addressing.
func NewS3Client(cfg Config) (*s3.Client, error) {
	if cfg.AccessKeyID == "" {
		return nil, ErrMissingAccessKeyID
	}
	if cfg.SecretAccessKey == "" {
		return nil, ErrMissingSecretKey
	}
	if cfg.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	return s3.New(s3.Options{
		Region: "auto",
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	}), nil
}

// New creates an exporter backed by a real R2 client.
func New(cfg Config, source RankingSource) (*Exporter, error) {
	client, err := NewS3Client(cfg)
	if err != nil {
		return nil, err
	}
	return NewExporter(cfg, source, client)
}

// NewExporter creates an exporter writing through uploader.
func NewExporter(cfg Config, source RankingSource, uploader Uploader) (*Exporter, error) {
	if cfg.BucketName == "" {
		return nil, ErrMissingBucket
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Exporter{config: cfg, source: source, uploader: uploader}, nil
}

// ObjectKey returns the key of a snapshot taken at t.
// Pattern: rankings/profile-{id}/{timestamp}.json
func ObjectKey(profileID int64, t time.Time) string {
	return fmt.Sprintf("rankings/profile-%d/%s.json", profileID, t.UTC().Format(keyTimeFormat))
}

// Export uploads the current ranking of a profile. An unknown profile
// returns scoring.ErrProfileNotFound and uploads nothing.
func (e *Exporter) Export(ctx context.Context, profileID int64) (res *Result, err error) {
	start := time.Now()
	defer func() {
		if e.config.JobMetrics == nil {
			return
		}
		if err != nil {
			e.config.JobMetrics.IncJobErrors(jobs.JobTypeRankingExport, jobs.ErrorType(err))
		}
		e.config.JobMetrics.IncJobsTotal(jobs.JobTypeRankingExport, jobs.Status(err))
		e.config.JobMetrics.ObserveJobDuration(jobs.JobTypeRankingExport, time.Since(start).Seconds())
	}()

	ranked, err := e.source.RankedFor(ctx, profileID, e.config.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load ranking: %w", err)
	}
	if ranked == nil {
		ranked = []scoring.RankedListing{}
	}

	now := e.config.Now()
	body, err := json.Marshal(Snapshot{
		ProfileID:   profileID,
		GeneratedAt: now.UTC(),
		Total:       len(ranked),
		Items:       ranked,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := ObjectKey(profileID, now)
	_, err = e.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(e.config.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(ContentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload snapshot: %w", err)
	}

	e.config.Logger.InfoContext(ctx, "ranking exported",
		"profile_id", profileID,
		"key", key,
		"count", len(ranked),
		"bytes", len(body))

	return &Result{Key: key, Count: len(ranked), Bytes: len(body)}, nil
}
