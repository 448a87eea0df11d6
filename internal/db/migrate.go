package db

import (
	"context"
	"embed"
	"fmt"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migrate applies the schema for the connection's dialect.
// Every statement is idempotent, so Migrate is safe to call on each start.
func (d *DB) Migrate(ctx context.Context) error {
	file := "schema/sqlite.sql"
	if d.dialect == DialectPostgres {
		file = "schema/postgres.sql"
	}

	raw, err := schemaFS.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read schema %s: %w", file, err)
	}

	for _, stmt := range splitStatements(string(raw)) {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// splitStatements splits a schema file on statement terminators.
// The schema files contain no semicolons inside literals.
func splitStatements(script string) []string {
	parts := strings.Split(script, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
