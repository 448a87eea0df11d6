// Package health provides readiness checks for the scorer's external
// dependencies.
package health

import (
	"context"
	"fmt"
	"time"
)

// DefaultTimeout bounds a single check when the caller's context has no
// earlier deadline.
const DefaultTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB and *db.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DBChecker checks database connectivity.
type DBChecker struct {
	db      Pinger
	timeout time.Duration
}

// NewDBChecker creates a database checker using DefaultTimeout.
func NewDBChecker(db Pinger) *DBChecker {
	return &DBChecker{db: db, timeout: DefaultTimeout}
}

// Name identifies the check in readiness output.
func (d *DBChecker) Name() string { return "database" }

// HealthCheck pings the database.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
