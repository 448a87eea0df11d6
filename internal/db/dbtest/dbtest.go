// Package dbtest opens throwaway databases for repository tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/onnwee/nestscout/internal/db"
)

// NewSQLite returns a migrated in-memory SQLite database closed at test end.
func NewSQLite(t *testing.T) *db.DB {
	t.Helper()

	ctx := context.Background()
	d, err := db.Open(ctx, db.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	if err := d.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return d
}
