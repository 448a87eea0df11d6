package proximity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/onnwee/nestscout/internal/db"
	"github.com/onnwee/nestscout/internal/tracing"
)

// SQLDistanceCache reads and writes the listing_poi_distances table.
type SQLDistanceCache struct {
	db *db.DB
}

// NewSQLDistanceCache creates a distance cache over d.
func NewSQLDistanceCache(d *db.DB) *SQLDistanceCache {
	return &SQLDistanceCache{db: d}
}

// NearestCached implements DistanceCache.
func (c *SQLDistanceCache) NearestCached(ctx context.Context, listingID, categoryID int64) (cd CachedDistance, found bool, err error) {
	ctx, end := c.db.StartSpan(ctx, "listing_poi_distances", tracing.DBOperationQuery)
	defer func() { end(err) }()

	query := c.db.Rebind(`
		SELECT d.poi_id, p.category_id, d.distance_m, COALESCE(d.walk_time_min, 0)
		FROM listing_poi_distances d
		JOIN pois p ON p.id = d.poi_id
		WHERE d.listing_id = ? AND p.category_id = ?
		ORDER BY d.distance_m, d.poi_id
		LIMIT 1`)

	cd.ListingID = listingID
	err = c.db.QueryRowContext(ctx, query, listingID, categoryID).
		Scan(&cd.POIID, &cd.CategoryID, &cd.DistanceM, &cd.WalkTimeMin)
	if errors.Is(err, sql.ErrNoRows) {
		return CachedDistance{}, false, nil
	}
	if err != nil {
		return CachedDistance{}, false, fmt.Errorf("failed to query cached distance: %w", err)
	}
	return cd, true, nil
}

// ReplaceDistances implements DistanceWriter in a single transaction.
func (c *SQLDistanceCache) ReplaceDistances(ctx context.Context, listingID int64, ds []CachedDistance) (err error) {
	ctx, end := c.db.StartSpan(ctx, "listing_poi_distances", tracing.DBOperationUpsert)
	defer func() { end(err) }()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, c.db.Rebind("DELETE FROM listing_poi_distances WHERE listing_id = ?"), listingID); err != nil {
		return fmt.Errorf("failed to clear distances for listing %d: %w", listingID, err)
	}

	if len(ds) > 0 {
		stmt, err := tx.PrepareContext(ctx, c.db.Rebind(
			"INSERT INTO listing_poi_distances (listing_id, poi_id, distance_m, walk_time_min) VALUES (?, ?, ?, ?)"))
		if err != nil {
			return fmt.Errorf("failed to prepare distance insert: %w", err)
		}
		defer stmt.Close()

		for _, d := range ds {
			if _, err = stmt.ExecContext(ctx, listingID, d.POIID, d.DistanceM, d.WalkTimeMin); err != nil {
				return fmt.Errorf("failed to insert distance %d->%d: %w", listingID, d.POIID, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit distances: %w", err)
	}
	return nil
}

// Count returns the number of stored distances.
func (c *SQLDistanceCache) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM listing_poi_distances").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count distances: %w", err)
	}
	return n, nil
}
