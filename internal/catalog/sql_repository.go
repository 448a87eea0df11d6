package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/onnwee/nestscout/internal/db"
	"github.com/onnwee/nestscout/internal/geo"
	"github.com/onnwee/nestscout/internal/tracing"
)

// SQLRepository reads and writes the catalog tables.
type SQLRepository struct {
	db *db.DB
}

// NewSQLRepository creates a catalog repository over d.
func NewSQLRepository(d *db.DB) *SQLRepository {
	return &SQLRepository{db: d}
}

// ListingColumns is the select list read by ScanListing. Other tables joined
// with listings must not reuse these column names unqualified.
const ListingColumns = `id, COALESCE(external_id, ''), title, description, price, currency, operation,
	bedrooms, bathrooms, area_m2, address, city, postal_code, latitude, longitude, extra`

// RowScanner is satisfied by *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

// ScanListing reads ListingColumns followed by any extra destinations.
func ScanListing(row RowScanner, extra ...any) (*Listing, error) {
	var (
		l                   Listing
		price, area         sql.NullFloat64
		bedrooms, bathrooms sql.NullInt64
		lat, lng            sql.NullFloat64
		rawExtra            []byte
	)
	dest := []any{&l.ID, &l.ExternalID, &l.Title, &l.Description, &price, &l.Currency, &l.Operation,
		&bedrooms, &bathrooms, &area, &l.Address, &l.City, &l.PostalCode, &lat, &lng, &rawExtra}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	l.Price = db.FloatPtr(price)
	l.AreaM2 = db.FloatPtr(area)
	l.Bedrooms = db.IntPtr(bedrooms)
	l.Bathrooms = db.IntPtr(bathrooms)
	l.Location = coordinate(lat, lng)

	if len(rawExtra) > 0 {
		if err := json.Unmarshal(rawExtra, &l.Extra); err != nil {
			return nil, fmt.Errorf("failed to decode extra for listing %d: %w", l.ID, err)
		}
	}
	return &l, nil
}

func coordinate(lat, lng sql.NullFloat64) *geo.Coordinate {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &geo.Coordinate{Lat: lat.Float64, Lng: lng.Float64}
}

func latLng(c *geo.Coordinate) (sql.NullFloat64, sql.NullFloat64) {
	if c == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: c.Lat, Valid: true}, sql.NullFloat64{Float64: c.Lng, Valid: true}
}

// ListListings returns every listing ordered by id.
func (r *SQLRepository) ListListings(ctx context.Context) (listings []Listing, err error) {
	ctx, end := r.db.StartSpan(ctx, "listings", tracing.DBOperationQuery)
	defer func() { end(err) }()

	rows, err := r.db.QueryContext(ctx, "SELECT "+ListingColumns+" FROM listings ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		l, err := ScanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate listings: %w", err)
	}
	return listings, nil
}

// GetListing returns ErrListingNotFound for unknown ids.
func (r *SQLRepository) GetListing(ctx context.Context, id int64) (l *Listing, err error) {
	ctx, end := r.db.StartSpan(ctx, "listings", tracing.DBOperationQuery)
	defer func() { end(err) }()

	row := r.db.QueryRowContext(ctx, r.db.Rebind("SELECT "+ListingColumns+" FROM listings WHERE id = ?"), id)
	l, err = ScanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing %d: %w", id, err)
	}
	return l, nil
}

// ListPOIs returns POIs ordered by id, optionally filtered by category.
func (r *SQLRepository) ListPOIs(ctx context.Context, categoryID int64) (pois []POI, err error) {
	ctx, end := r.db.StartSpan(ctx, "pois", tracing.DBOperationQuery)
	defer func() { end(err) }()

	query := "SELECT id, name, category_id, latitude, longitude, address, rating FROM pois"
	var args []any
	if categoryID != AnyCategory {
		query += " WHERE category_id = ?"
		args = append(args, categoryID)
	}
	query += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pois: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p              POI
			lat, lng, rate sql.NullFloat64
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.CategoryID, &lat, &lng, &p.Address, &rate); err != nil {
			return nil, fmt.Errorf("failed to scan poi: %w", err)
		}
		p.Location = coordinate(lat, lng)
		p.Rating = db.FloatPtr(rate)
		pois = append(pois, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pois: %w", err)
	}
	return pois, nil
}

// ListCategories returns categories ordered by id.
func (r *SQLRepository) ListCategories(ctx context.Context) (categories []Category, err error) {
	ctx, end := r.db.StartSpan(ctx, "categories", tracing.DBOperationQuery)
	defer func() { end(err) }()

	rows, err := r.db.QueryContext(ctx, "SELECT id, name, icon, color FROM categories ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Icon, &c.Color); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate categories: %w", err)
	}
	return categories, nil
}

// InsertCategory inserts a category, assigning its id when zero.
func (r *SQLRepository) InsertCategory(ctx context.Context, c *Category) error {
	id, err := r.insert(ctx, "categories", c.ID,
		[]string{"name", "icon", "color"},
		[]any{c.Name, c.Icon, c.Color})
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

// InsertListing inserts a listing, assigning its id when zero.
func (r *SQLRepository) InsertListing(ctx context.Context, l *Listing) error {
	var extra sql.NullString
	if len(l.Extra) > 0 {
		raw, err := json.Marshal(l.Extra)
		if err != nil {
			return fmt.Errorf("failed to encode listing extra: %w", err)
		}
		extra = sql.NullString{String: string(raw), Valid: true}
	}
	var externalID sql.NullString
	if l.ExternalID != "" {
		externalID = sql.NullString{String: l.ExternalID, Valid: true}
	}
	currency, operation := l.Currency, l.Operation
	if currency == "" {
		currency = "EUR"
	}
	if operation == "" {
		operation = "sale"
	}
	lat, lng := latLng(l.Location)

	id, err := r.insert(ctx, "listings", l.ID,
		[]string{"external_id", "title", "description", "price", "currency", "operation", "bedrooms",
			"bathrooms", "area_m2", "address", "city", "postal_code", "latitude", "longitude", "extra"},
		[]any{externalID, l.Title, l.Description, db.NullFloat(l.Price), currency, operation, db.NullInt(l.Bedrooms),
			db.NullInt(l.Bathrooms), db.NullFloat(l.AreaM2), l.Address, l.City, l.PostalCode, lat, lng, extra})
	if err != nil {
		return err
	}
	l.ID = id
	l.Currency, l.Operation = currency, operation
	return nil
}

// InsertPOI inserts a POI, assigning its id when zero.
func (r *SQLRepository) InsertPOI(ctx context.Context, p *POI) error {
	lat, lng := latLng(p.Location)
	id, err := r.insert(ctx, "pois", p.ID,
		[]string{"name", "category_id", "latitude", "longitude", "address", "rating"},
		[]any{p.Name, p.CategoryID, lat, lng, p.Address, db.NullFloat(p.Rating)})
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

// insert writes one row and returns its id. Explicit ids are kept; on
// PostgreSQL the table's sequence is moved past them afterwards.
func (r *SQLRepository) insert(ctx context.Context, table string, id int64, cols []string, args []any) (newID int64, err error) {
	ctx, end := r.db.StartSpan(ctx, table, tracing.DBOperationInsert)
	defer func() { end(err) }()

	if id != 0 {
		cols = append([]string{"id"}, cols...)
		args = append([]any{id}, args...)
	}

	query := "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders(len(cols)) + ") RETURNING id"
	if err := r.db.QueryRowContext(ctx, r.db.Rebind(query), args...).Scan(&newID); err != nil {
		return 0, fmt.Errorf("failed to insert into %s: %w", table, err)
	}

	if id != 0 && r.db.Dialect() == db.DialectPostgres {
		seq := fmt.Sprintf("SELECT setval(pg_get_serial_sequence('%s', 'id'), (SELECT MAX(id) FROM %s))", table, table)
		if _, err := r.db.ExecContext(ctx, seq); err != nil {
			return 0, fmt.Errorf("failed to advance %s sequence: %w", table, err)
		}
	}
	return newID, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
