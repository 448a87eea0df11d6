package scoring

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/onnwee/nestscout/internal/catalog"
)

// Profile is a named set of scoring rules belonging to one user.
type Profile struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Rules  []Rule `json:"rules"`
}

// ProfileSource gives read access to profiles and their rules.
type ProfileSource interface {
	// GetProfile returns ErrProfileNotFound for unknown ids.
	GetProfile(ctx context.Context, id int64) (*Profile, error)
	// ListProfiles returns every profile ordered by id.
	ListProfiles(ctx context.Context) ([]Profile, error)
}

// ProfileRepository stores profiles. Rule sets are only ever replaced as a
// whole.
type ProfileRepository interface {
	ProfileSource
	// CreateProfile inserts the profile and its rules, assigning ids that are zero.
	CreateProfile(ctx context.Context, p *Profile) error
	// ReplaceRules atomically swaps the profile's rules and returns them
	// with ids assigned.
	ReplaceRules(ctx context.Context, profileID int64, rules []Rule) ([]Rule, error)
}

// InMemoryProfileRepository is a thread-safe ProfileRepository.
type InMemoryProfileRepository struct {
	mu         sync.RWMutex
	profiles   map[int64]Profile
	nextID     int64
	nextRuleID int64
}

// NewInMemoryProfileRepository creates an empty repository.
func NewInMemoryProfileRepository() *InMemoryProfileRepository {
	return &InMemoryProfileRepository{profiles: make(map[int64]Profile)}
}

// GetProfile implements ProfileSource.
func (r *InMemoryProfileRepository) GetProfile(_ context.Context, id int64) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil, ErrProfileNotFound
	}
	p.Rules = cloneRules(p.Rules)
	return &p, nil
}

// ListProfiles implements ProfileSource.
func (r *InMemoryProfileRepository) ListProfiles(_ context.Context) ([]Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Profile, 0, len(r.profiles))
	for _, id := range slices.Sorted(maps.Keys(r.profiles)) {
		p := r.profiles[id]
		p.Rules = cloneRules(p.Rules)
		out = append(out, p)
	}
	return out, nil
}

// CreateProfile implements ProfileRepository.
func (r *InMemoryProfileRepository) CreateProfile(_ context.Context, p *Profile) error {
	if err := ValidateRules(p.Rules); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == 0 {
		r.nextID++
		p.ID = r.nextID
	} else if p.ID > r.nextID {
		r.nextID = p.ID
	}
	p.Rules = r.assignRuleIDs(p.ID, p.Rules)
	stored := *p
	stored.Rules = cloneRules(p.Rules)
	r.profiles[p.ID] = stored
	return nil
}

// ReplaceRules implements ProfileRepository.
func (r *InMemoryProfileRepository) ReplaceRules(_ context.Context, profileID int64, rules []Rule) ([]Rule, error) {
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[profileID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	// Replacement rules always get fresh ids.
	fresh := cloneRules(rules)
	for i := range fresh {
		fresh[i].ID = 0
	}
	p.Rules = r.assignRuleIDs(profileID, fresh)
	r.profiles[profileID] = p
	return cloneRules(p.Rules), nil
}

func (r *InMemoryProfileRepository) assignRuleIDs(profileID int64, rules []Rule) []Rule {
	out := cloneRules(rules)
	for i := range out {
		out[i].ProfileID = profileID
		if out[i].ID == 0 {
			r.nextRuleID++
			out[i].ID = r.nextRuleID
		} else if out[i].ID > r.nextRuleID {
			r.nextRuleID = out[i].ID
		}
	}
	return out
}

func cloneRules(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	for i, rule := range rules {
		rule.Params = maps.Clone(rule.Params)
		if rule.MaxDistanceM != nil {
			d := *rule.MaxDistanceM
			rule.MaxDistanceM = &d
		}
		out[i] = rule
	}
	return out
}

// ProfileFromSeed converts a seed profile. Rules without a weight get
// DefaultWeight.
func ProfileFromSeed(s catalog.SeedProfile) Profile {
	p := Profile{ID: s.ID, UserID: s.UserID, Name: s.Name}
	for _, sr := range s.Rules {
		weight := DefaultWeight
		if sr.Weight != nil {
			weight = *sr.Weight
		}
		p.Rules = append(p.Rules, Rule{
			ID:           sr.ID,
			Type:         RuleType(sr.Type),
			CategoryID:   sr.CategoryID,
			MaxDistanceM: sr.MaxDistanceM,
			Weight:       weight,
			Params:       Params(sr.Params),
		})
	}
	return p
}

// ApplySeed creates every seed profile in repo.
func ApplySeed(ctx context.Context, repo ProfileRepository, seeds []catalog.SeedProfile) error {
	for _, s := range seeds {
		p := ProfileFromSeed(s)
		if err := repo.CreateProfile(ctx, &p); err != nil {
			return err
		}
	}
	return nil
}
