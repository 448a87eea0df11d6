package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is a catalog snapshot loaded from YAML for development and demos.
//
//	categories:
//	  - {id: 1, name: metro}
//	listings:
//	  - id: 1
//	    title: Flat in Gracia
//	    location: {latitude: 41.389, longitude: 2.159}
//	pois:
//	  - {id: 1, name: Diagonal, category_id: 1, location: {latitude: 41.3926, longitude: 2.159}}
//	profiles:
//	  - id: 1
//	    name: commuter
//	    rules:
//	      - {rule_type: poi_proximity, poi_category_id: 1, max_distance_m: 1000, weight: 1}
type Seed struct {
	Categories []Category    `yaml:"categories"`
	Listings   []Listing     `yaml:"listings"`
	POIs       []POI         `yaml:"pois"`
	Profiles   []SeedProfile `yaml:"profiles"`
}

// SeedProfile is a profile as written in a seed file. Rule decoding into
// scoring types happens in the scoring package.
type SeedProfile struct {
	ID     int64      `yaml:"id"`
	UserID int64      `yaml:"user_id"`
	Name   string     `yaml:"name"`
	Rules  []SeedRule `yaml:"rules"`
}

// SeedRule is one scoring rule inside a SeedProfile.
type SeedRule struct {
	ID           int64          `yaml:"id"`
	Type         string         `yaml:"rule_type"`
	CategoryID   int64          `yaml:"poi_category_id"`
	MaxDistanceM *float64       `yaml:"max_distance_m"`
	Weight       *float64       `yaml:"weight"`
	Params       map[string]any `yaml:"parameters"`
}

// LoadSeed reads and parses a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed parses seed YAML.
func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse seed yaml: %w", err)
	}
	for i, p := range s.POIs {
		if p.CategoryID == AnyCategory {
			return nil, fmt.Errorf("poi %d (%q): %w", i, p.Name, ErrCategoryNotFound)
		}
	}
	return &s, nil
}

// Apply writes categories, listings and POIs to w, in that order.
func (s *Seed) Apply(ctx context.Context, w Writer) error {
	for i := range s.Categories {
		if err := w.InsertCategory(ctx, &s.Categories[i]); err != nil {
			return fmt.Errorf("failed to seed category %q: %w", s.Categories[i].Name, err)
		}
	}
	for i := range s.Listings {
		if err := w.InsertListing(ctx, &s.Listings[i]); err != nil {
			return fmt.Errorf("failed to seed listing %q: %w", s.Listings[i].Title, err)
		}
	}
	for i := range s.POIs {
		if err := w.InsertPOI(ctx, &s.POIs[i]); err != nil {
			return fmt.Errorf("failed to seed poi %q: %w", s.POIs[i].Name, err)
		}
	}
	return nil
}
