package scoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/onnwee/nestscout/internal/db"
	"github.com/onnwee/nestscout/internal/tracing"
)

// SQLProfileRepository keeps profiles in the profiles and scoring_rules tables.
type SQLProfileRepository struct {
	db *db.DB
}

// NewSQLProfileRepository creates a profile repository over d.
func NewSQLProfileRepository(d *db.DB) *SQLProfileRepository {
	return &SQLProfileRepository{db: d}
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// GetProfile implements ProfileSource.
func (r *SQLProfileRepository) GetProfile(ctx context.Context, id int64) (p *Profile, err error) {
	ctx, end := r.db.StartSpan(ctx, "profiles", tracing.DBOperationQuery)
	defer func() { end(err) }()

	p = &Profile{}
	err = r.db.QueryRowContext(ctx, r.db.Rebind("SELECT id, user_id, name FROM profiles WHERE id = ?"), id).
		Scan(&p.ID, &p.UserID, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile %d: %w", id, err)
	}

	rules, err := r.rules(ctx, r.db, "WHERE profile_id = ?", id)
	if err != nil {
		return nil, err
	}
	p.Rules = rules
	return p, nil
}

// ListProfiles implements ProfileSource.
func (r *SQLProfileRepository) ListProfiles(ctx context.Context) (profiles []Profile, err error) {
	ctx, end := r.db.StartSpan(ctx, "profiles", tracing.DBOperationQuery)
	defer func() { end(err) }()

	rows, err := r.db.QueryContext(ctx, "SELECT id, user_id, name FROM profiles ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	index := make(map[int64]int)
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		p.Rules = []Rule{}
		index[p.ID] = len(profiles)
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	rows.Close()

	rules, err := r.rules(ctx, r.db, "")
	if err != nil {
		return nil, err
	}
	for _, rule := range rules {
		if i, ok := index[rule.ProfileID]; ok {
			profiles[i].Rules = append(profiles[i].Rules, rule)
		}
	}
	return profiles, nil
}

// CreateProfile implements ProfileRepository.
func (r *SQLProfileRepository) CreateProfile(ctx context.Context, p *Profile) (err error) {
	if err := ValidateRules(p.Rules); err != nil {
		return err
	}

	ctx, end := r.db.StartSpan(ctx, "profiles", tracing.DBOperationInsert)
	defer func() { end(err) }()

	return r.inTx(ctx, func(tx *sql.Tx) error {
		explicitID := p.ID != 0
		cols, vals, args := "user_id, name", "?, ?", []any{p.UserID, p.Name}
		if explicitID {
			cols, vals, args = "id, "+cols, "?, "+vals, append([]any{p.ID}, args...)
		}
		err := tx.QueryRowContext(ctx,
			r.db.Rebind("INSERT INTO profiles ("+cols+") VALUES ("+vals+") RETURNING id"), args...).Scan(&p.ID)
		if err != nil {
			return fmt.Errorf("failed to insert profile: %w", err)
		}
		if explicitID && r.db.Dialect() == db.DialectPostgres {
			if _, err := tx.ExecContext(ctx,
				"SELECT setval(pg_get_serial_sequence('profiles', 'id'), (SELECT MAX(id) FROM profiles))"); err != nil {
				return fmt.Errorf("failed to advance profiles sequence: %w", err)
			}
		}

		rules, err := r.insertRules(ctx, tx, p.ID, p.Rules)
		if err != nil {
			return err
		}
		p.Rules = rules
		return nil
	})
}

// ReplaceRules implements ProfileRepository in a single transaction.
func (r *SQLProfileRepository) ReplaceRules(ctx context.Context, profileID int64, rules []Rule) (stored []Rule, err error) {
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}

	ctx, end := r.db.StartSpan(ctx, "scoring_rules", tracing.DBOperationUpsert)
	defer func() { end(err) }()

	err = r.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, r.db.Rebind("SELECT 1 FROM profiles WHERE id = ?"), profileID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrProfileNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check profile %d: %w", profileID, err)
		}

		if _, err := tx.ExecContext(ctx, r.db.Rebind("DELETE FROM scoring_rules WHERE profile_id = ?"), profileID); err != nil {
			return fmt.Errorf("failed to delete rules of profile %d: %w", profileID, err)
		}

		fresh := cloneRules(rules)
		for i := range fresh {
			fresh[i].ID = 0
		}
		stored, err = r.insertRules(ctx, tx, profileID, fresh)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *SQLProfileRepository) insertRules(ctx context.Context, tx *sql.Tx, profileID int64, rules []Rule) ([]Rule, error) {
	out := cloneRules(rules)
	for i := range out {
		out[i].ProfileID = profileID

		var params sql.NullString
		if len(out[i].Params) > 0 {
			raw, err := json.Marshal(out[i].Params)
			if err != nil {
				return nil, fmt.Errorf("failed to encode rule parameters: %w", err)
			}
			params = sql.NullString{String: string(raw), Valid: true}
		}

		cols := "profile_id, rule_type, category_id, max_distance_m, weight, parameters"
		vals := "?, ?, ?, ?, ?, ?"
		args := []any{profileID, string(out[i].Type), db.NullInt64(out[i].CategoryID),
			db.NullFloat(out[i].MaxDistanceM), out[i].Weight, params}
		if out[i].ID != 0 {
			cols, vals, args = "id, "+cols, "?, "+vals, append([]any{out[i].ID}, args...)
		}

		err := tx.QueryRowContext(ctx,
			r.db.Rebind("INSERT INTO scoring_rules ("+cols+") VALUES ("+vals+") RETURNING id"), args...).Scan(&out[i].ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert rule: %w", err)
		}
	}

	if r.db.Dialect() == db.DialectPostgres && len(out) > 0 {
		if _, err := tx.ExecContext(ctx,
			"SELECT setval(pg_get_serial_sequence('scoring_rules', 'id'), (SELECT MAX(id) FROM scoring_rules))"); err != nil {
			return nil, fmt.Errorf("failed to advance scoring_rules sequence: %w", err)
		}
	}
	return out, nil
}

func (r *SQLProfileRepository) rules(ctx context.Context, q querier, where string, args ...any) ([]Rule, error) {
	query := `SELECT id, profile_id, rule_type, category_id, max_distance_m, weight, parameters
		FROM scoring_rules ` + where + ` ORDER BY id`

	rows, err := q.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	rules := []Rule{}
	for rows.Next() {
		var (
			rule     Rule
			ruleType string
			category sql.NullInt64
			maxDist  sql.NullFloat64
			params   []byte
		)
		if err := rows.Scan(&rule.ID, &rule.ProfileID, &ruleType, &category, &maxDist, &rule.Weight, &params); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rule.Type = RuleType(ruleType)
		rule.CategoryID = category.Int64
		rule.MaxDistanceM = db.FloatPtr(maxDist)
		if len(params) > 0 {
			if err := json.Unmarshal(params, &rule.Params); err != nil {
				return nil, fmt.Errorf("failed to decode parameters of rule %d: %w", rule.ID, err)
			}
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return rules, nil
}

func (r *SQLProfileRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
