package scoring

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/onnwee/nestscout/internal/catalog"
	"github.com/onnwee/nestscout/internal/geo"
)

// UpsertResult says what an upsert did to the stored row.
type UpsertResult int

const (
	// UpsertInserted created a new row.
	UpsertInserted UpsertResult = iota
	// UpsertUpdated replaced an older row.
	UpsertUpdated
	// UpsertStale was ignored because the stored row is newer.
	UpsertStale
)

// ScoreStore materializes scores, one row per (listing, profile).
type ScoreStore interface {
	// Upsert replaces the whole row for the pair unless the stored row has a
	// later ComputedAt. It is atomic per pair.
	Upsert(ctx context.Context, s Score) (UpsertResult, error)
	// Get returns ErrScoreNotFound when the pair has no row.
	Get(ctx context.Context, listingID, profileID int64) (*Score, error)
	// RankedFor returns the profile's scored listings by unrounded total
	// descending, then listing id ascending. limit <= 0 returns all.
	RankedFor(ctx context.Context, profileID int64, limit int) ([]RankedListing, error)
}

type scoreKey struct {
	listingID, profileID int64
}

// InMemoryScoreStore is a thread-safe ScoreStore joined against a listing
// source for ranked reads.
type InMemoryScoreStore struct {
	mu       sync.RWMutex
	scores   map[scoreKey]Score
	listings catalog.ListingSource
}

// NewInMemoryScoreStore creates an empty store.
func NewInMemoryScoreStore(listings catalog.ListingSource) *InMemoryScoreStore {
	return &InMemoryScoreStore{
		scores:   make(map[scoreKey]Score),
		listings: listings,
	}
}

// Upsert implements ScoreStore.
func (s *InMemoryScoreStore) Upsert(_ context.Context, score Score) (UpsertResult, error) {
	key := scoreKey{score.ListingID, score.ProfileID}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.scores[key]
	switch {
	case !ok:
		s.scores[key] = score.clone()
		return UpsertInserted, nil
	case existing.ComputedAt.After(score.ComputedAt):
		return UpsertStale, nil
	default:
		s.scores[key] = score.clone()
		return UpsertUpdated, nil
	}
}

// Get implements ScoreStore.
func (s *InMemoryScoreStore) Get(_ context.Context, listingID, profileID int64) (*Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.scores[scoreKey{listingID, profileID}]
	if !ok {
		return nil, ErrScoreNotFound
	}
	score = score.clone()
	return &score, nil
}

// RankedFor implements ScoreStore. Scores whose listing no longer exists
// are skipped.
func (s *InMemoryScoreStore) RankedFor(ctx context.Context, profileID int64, limit int) ([]RankedListing, error) {
	s.mu.RLock()
	var scores []Score
	for key, score := range s.scores {
		if key.profileID == profileID {
			scores = append(scores, score.clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(scores, compareRanked)

	out := make([]RankedListing, 0, len(scores))
	for _, score := range scores {
		if limit > 0 && len(out) == limit {
			break
		}
		l, err := s.listings.GetListing(ctx, score.ListingID)
		if err != nil {
			if errors.Is(err, catalog.ErrListingNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to join listing %d: %w", score.ListingID, err)
		}
		out = append(out, RankedListing{Listing: *l, Geohash: geo.GeohashOf(l.Location), Score: score})
	}
	return out, nil
}

// Len returns the number of stored scores.
func (s *InMemoryScoreStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.scores)
}

func compareRanked(a, b Score) int {
	if c := cmp.Compare(b.rankingTotal(), a.rankingTotal()); c != 0 {
		return c
	}
	return cmp.Compare(a.ListingID, b.ListingID)
}
