package scoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/onnwee/nestscout/internal/catalog"
	"github.com/onnwee/nestscout/internal/db"
	"github.com/onnwee/nestscout/internal/geo"
	"github.com/onnwee/nestscout/internal/tracing"
)

// upsertScoreQuery is last-writer-wins on computed_at: a conflicting row is
// only replaced when the incoming computation is not older.
const upsertScoreQuery = `
	INSERT INTO listing_scores (listing_id, profile_id, total_score, total_score_exact, breakdown, computed_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (listing_id, profile_id) DO UPDATE SET
		total_score = excluded.total_score,
		total_score_exact = excluded.total_score_exact,
		breakdown = excluded.breakdown,
		computed_at = excluded.computed_at
	WHERE listing_scores.computed_at <= excluded.computed_at`

// SQLScoreStore keeps scores in the listing_scores table.
type SQLScoreStore struct {
	db *db.DB
}

// NewSQLScoreStore creates a score store over d.
func NewSQLScoreStore(d *db.DB) *SQLScoreStore {
	return &SQLScoreStore{db: d}
}

// Upsert implements ScoreStore. The row write is one statement; the
// inserted/updated distinction is read beforehand and only feeds statistics.
func (s *SQLScoreStore) Upsert(ctx context.Context, score Score) (result UpsertResult, err error) {
	ctx, end := s.db.StartSpan(ctx, "listing_scores", tracing.DBOperationUpsert)
	defer func() { end(err) }()

	breakdown, err := json.Marshal(score.Breakdown)
	if err != nil {
		return 0, fmt.Errorf("failed to encode breakdown: %w", err)
	}

	var exists int
	err = s.db.QueryRowContext(ctx,
		s.db.Rebind("SELECT 1 FROM listing_scores WHERE listing_id = ? AND profile_id = ?"),
		score.ListingID, score.ProfileID).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to check existing score: %w", err)
	}
	existed := err == nil

	res, err := s.db.ExecContext(ctx, s.db.Rebind(upsertScoreQuery),
		score.ListingID, score.ProfileID, score.TotalScore, score.rankingTotal(), string(breakdown), score.ComputedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to upsert score for listing %d: %w", score.ListingID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read upsert result: %w", err)
	}

	switch {
	case n == 0:
		return UpsertStale, nil
	case existed:
		return UpsertUpdated, nil
	default:
		return UpsertInserted, nil
	}
}

// Get implements ScoreStore.
func (s *SQLScoreStore) Get(ctx context.Context, listingID, profileID int64) (score *Score, err error) {
	ctx, end := s.db.StartSpan(ctx, "listing_scores", tracing.DBOperationQuery)
	defer func() { end(err) }()

	var (
		sc  = Score{ListingID: listingID, ProfileID: profileID}
		raw []byte
	)
	err = s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT total_score, total_score_exact, breakdown, computed_at FROM listing_scores
		WHERE listing_id = ? AND profile_id = ?`), listingID, profileID).
		Scan(&sc.TotalScore, &sc.exact, &raw, &sc.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScoreNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get score: %w", err)
	}
	if sc.Breakdown, err = decodeBreakdown(raw); err != nil {
		return nil, err
	}
	sc.ComputedAt = sc.ComputedAt.UTC()
	return &sc, nil
}

// RankedFor implements ScoreStore.
func (s *SQLScoreStore) RankedFor(ctx context.Context, profileID int64, limit int) (ranked []RankedListing, err error) {
	ctx, end := s.db.StartSpan(ctx, "listing_scores", tracing.DBOperationQuery)
	defer func() { end(err) }()

	query := "SELECT " + catalog.ListingColumns + `, s.total_score, s.total_score_exact, s.breakdown, s.computed_at
		FROM listing_scores s
		JOIN listings ON listings.id = s.listing_id
		WHERE s.profile_id = ?
		ORDER BY s.total_score_exact DESC, s.listing_id ASC`
	args := []any{profileID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ranked scores: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			sc  = Score{ProfileID: profileID}
			raw []byte
		)
		l, err := catalog.ScanListing(rows, &sc.TotalScore, &sc.exact, &raw, &sc.ComputedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ranked listing: %w", err)
		}
		sc.ListingID = l.ID
		sc.ComputedAt = sc.ComputedAt.UTC()
		if sc.Breakdown, err = decodeBreakdown(raw); err != nil {
			return nil, err
		}
		ranked = append(ranked, RankedListing{Listing: *l, Geohash: geo.GeohashOf(l.Location), Score: sc})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ranked scores: %w", err)
	}
	return ranked, nil
}

func decodeBreakdown(raw []byte) (Breakdown, error) {
	b := Breakdown{}
	if len(raw) == 0 {
		return b, nil
	}
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("failed to decode breakdown: %w", err)
	}
	return b, nil
}
