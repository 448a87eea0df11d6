// Package catalog holds the read-only listing and point-of-interest records
// that scoring consumes, together with their in-memory, SQL and YAML seed
// sources.
package catalog

import (
	"errors"

	"github.com/onnwee/nestscout/internal/geo"
)

// AnyCategory disables the category filter in POI queries.
const AnyCategory int64 = 0

// Catalog errors.
var (
	ErrListingNotFound  = errors.New("listing not found")
	ErrPOINotFound      = errors.New("poi not found")
	ErrCategoryNotFound = errors.New("category not found")
)

// Listing is a real-estate property being scored.
type Listing struct {
	ID          int64           `json:"id" yaml:"id"`
	ExternalID  string          `json:"external_id,omitempty" yaml:"external_id"`
	Title       string          `json:"title" yaml:"title"`
	Description string          `json:"description,omitempty" yaml:"description"`
	Price       *float64        `json:"price" yaml:"price"`
	Currency    string          `json:"currency" yaml:"currency"`
	Operation   string          `json:"operation" yaml:"operation"` // sale or rent
	Bedrooms    *int            `json:"bedrooms" yaml:"bedrooms"`
	Bathrooms   *int            `json:"bathrooms" yaml:"bathrooms"`
	AreaM2      *float64        `json:"area_m2" yaml:"area_m2"`
	Address     string          `json:"address,omitempty" yaml:"address"`
	City        string          `json:"city,omitempty" yaml:"city"`
	PostalCode  string          `json:"postal_code,omitempty" yaml:"postal_code"`
	Location    *geo.Coordinate `json:"location" yaml:"location"`
	Extra       map[string]any  `json:"extra,omitempty" yaml:"extra"`
}

// Attribute resolves a named listing attribute for attribute-match rules.
// Built-in fields win over Extra; absent optional fields report false.
func (l *Listing) Attribute(name string) (any, bool) {
	switch name {
	case "price":
		if l.Price == nil {
			return nil, false
		}
		return *l.Price, true
	case "bedrooms":
		if l.Bedrooms == nil {
			return nil, false
		}
		return *l.Bedrooms, true
	case "bathrooms":
		if l.Bathrooms == nil {
			return nil, false
		}
		return *l.Bathrooms, true
	case "area_m2":
		if l.AreaM2 == nil {
			return nil, false
		}
		return *l.AreaM2, true
	case "title":
		return l.Title, l.Title != ""
	case "city":
		return l.City, l.City != ""
	case "operation":
		return l.Operation, l.Operation != ""
	case "currency":
		return l.Currency, l.Currency != ""
	case "postal_code":
		return l.PostalCode, l.PostalCode != ""
	}

	v, ok := l.Extra[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// POI is a point of interest such as a metro station or a school.
type POI struct {
	ID         int64           `json:"id" yaml:"id"`
	Name       string          `json:"name" yaml:"name"`
	CategoryID int64           `json:"category_id" yaml:"category_id"`
	Location   *geo.Coordinate `json:"location" yaml:"location"`
	Address    string          `json:"address,omitempty" yaml:"address"`
	Rating     *float64        `json:"rating,omitempty" yaml:"rating"`
}

// Category groups POIs.
type Category struct {
	ID    int64  `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Icon  string `json:"icon,omitempty" yaml:"icon"`
	Color string `json:"color,omitempty" yaml:"color"`
}
