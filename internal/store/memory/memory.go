// Package memory is an in-process implementation of the recommendation
// stores, loaded from YAML fixtures or populated directly by tests.
package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/devdanny2024/wanzami-sub000/internal/catalog"
)

// Fixtures is the on-disk layout read by Load.
type Fixtures struct {
	Titles      []catalog.Title                     `yaml:"titles"`
	Profiles    []catalog.Profile                   `yaml:"profiles"`
	Events      []catalog.EngagementEvent           `yaml:"events"`
	Similarity  []catalog.TitleSimilarity           `yaml:"similarity"`
	Popularity  []catalog.PopularitySnapshot        `yaml:"popularity"`
	Preferences []catalog.ProfilePreferenceSnapshot `yaml:"preferences"`
	RecentViews []catalog.ProfileRecentViews        `yaml:"recentViews"`
}

type Store struct {
	mu          sync.RWMutex
	titles      map[string]catalog.Title
	profiles    map[string]catalog.Profile
	events      []catalog.EngagementEvent
	similarity  []catalog.TitleSimilarity
	popularity  map[catalog.PopularityKey]catalog.PopularitySnapshot
	preferences map[string]catalog.ProfilePreferenceSnapshot
	recentViews map[string]catalog.ProfileRecentViews
}

func New() *Store {
	return &Store{
		titles:      make(map[string]catalog.Title),
		profiles:    make(map[string]catalog.Profile),
		popularity:  make(map[catalog.PopularityKey]catalog.PopularitySnapshot),
		preferences: make(map[string]catalog.ProfilePreferenceSnapshot),
		recentViews: make(map[string]catalog.ProfileRecentViews),
	}
}

// Load reads a YAML fixture file into a new Store.
func Load(path string) (*Store, error) {
	f, err := ReadFixtures(path)
	if err != nil {
		return nil, err
	}
	s := New()
	s.Seed(f)
	return s, nil
}

// ReadFixtures parses a YAML fixture file.
func ReadFixtures(path string) (Fixtures, error) {
	var f Fixtures
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("reading fixtures %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parsing fixtures %s: %w", path, err)
	}
	return f, nil
}

// Seed adds every record of f to the store.
func (s *Store) Seed(f Fixtures) {
	s.PutTitles(f.Titles...)
	s.PutProfiles(f.Profiles...)
	s.AppendEvents(context.Background(), f.Events)
	s.PutSimilarity(f.Similarity...)
	for _, p := range f.Popularity {
		s.PutPopularity(p)
	}
	for _, p := range f.Preferences {
		s.PutPreferences(p)
	}
	for _, rv := range f.RecentViews {
		s.PutRecentViews(rv)
	}
}

func (s *Store) PutTitles(titles ...catalog.Title) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range titles {
		s.titles[t.ID] = t
	}
}

func (s *Store) PutProfiles(profiles ...catalog.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
}

func (s *Store) PutSimilarity(edges ...catalog.TitleSimilarity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.similarity = append(s.similarity, edges...)
}

func (s *Store) PutPopularity(snap catalog.PopularitySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.popularity[snap.Key] = snap
}

func (s *Store) PutPreferences(snap catalog.ProfilePreferenceSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[snap.ProfileID] = snap
}

func (s *Store) PutRecentViews(rv catalog.ProfileRecentViews) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentViews[rv.ProfileID] = rv
}

// AppendEvents adds events to the log.
func (s *Store) AppendEvents(_ context.Context, events []catalog.EngagementEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// Events returns a copy of the whole log in insertion order.
func (s *Store) Events() []catalog.EngagementEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

func (s *Store) RecentEvents(_ context.Context, q catalog.EventQuery) ([]catalog.EngagementEvent, error) {
	s.mu.RLock()
	var out []catalog.EngagementEvent
	for _, ev := range s.events {
		if q.Matches(ev) {
			out = append(out, ev)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) HasEvents(_ context.Context, q catalog.EventQuery) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ev := range s.events {
		if q.Matches(ev) {
			return true, nil
		}
	}
	return false, nil
}

// FindTitles applies q, eligibility included, before ordering and limiting.
func (s *Store) FindTitles(_ context.Context, q catalog.TitleQuery) ([]catalog.Title, error) {
	s.mu.RLock()
	out := make([]catalog.Title, 0)
	for _, t := range s.titles {
		if q.Matches(t) {
			out = append(out, t)
		}
	}
	s.mu.RUnlock()
	if q.NewestFirst {
		sort.Slice(out, func(i, j int) bool {
			a, b := out[i].ReleaseDate, out[j].ReleaseDate
			switch {
			case a != nil && b != nil && !a.Equal(*b):
				return a.After(*b)
			case a != nil && b == nil:
				return true
			case a == nil && b != nil:
				return false
			}
			return out[i].ID < out[j].ID
		})
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) TopSimilar(_ context.Context, sourceIDs []string, limit int) ([]catalog.TitleSimilarity, error) {
	s.mu.RLock()
	var out []catalog.TitleSimilarity
	for _, e := range s.similarity {
		if slices.Contains(sourceIDs, e.SourceTitleID) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return strings.Compare(out[i].TargetTitleID, out[j].TargetTitleID) < 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Popularity(_ context.Context, key catalog.PopularityKey) (*catalog.PopularitySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.popularity[key]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (s *Store) PreferenceSnapshot(_ context.Context, profileID string) (*catalog.ProfilePreferenceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.preferences[profileID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (s *Store) RecentViews(_ context.Context, profileID string) (*catalog.ProfileRecentViews, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rv, ok := s.recentViews[profileID]
	if !ok {
		return nil, nil
	}
	return &rv, nil
}

// Profile returns the profile with id, or nil.
func (s *Store) Profile(_ context.Context, id string) (*catalog.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// FirstProfile returns the user's earliest-created profile, or nil.
func (s *Store) FirstProfile(_ context.Context, userID string) (*catalog.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var first *catalog.Profile
	for _, p := range s.profiles {
		if p.UserID != userID {
			continue
		}
		if first == nil || p.CreatedAt.Before(first.CreatedAt) ||
			(p.CreatedAt.Equal(first.CreatedAt) && p.ID < first.ID) {
			cp := p
			first = &cp
		}
	}
	return first, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}
