//go:build integration

package dbtest

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/onnwee/nestscout/internal/db"
)

// PostgresImage is the container image used by integration tests.
const PostgresImage = "postgres:16-alpine"

// NewPostgres starts a PostgreSQL container, opens it with driver ("postgres"
// or "pgx") and applies the schema. Tests are skipped when Docker is not
// reachable.
func NewPostgres(t *testing.T, driver string) *db.DB {
	t.Helper()

	ctx := context.Background()
	container, err := postgres.Run(ctx, PostgresImage,
		postgres.WithDatabase("nestscout"),
		postgres.WithUsername("nestscout"),
		postgres.WithPassword("nestscout"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	d, err := db.Open(ctx, driver, dsn)
	if err != nil {
		t.Fatalf("failed to open postgres: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	if err := d.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate postgres: %v", err)
	}
	return d
}
