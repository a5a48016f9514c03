// Package catalog defines the read-only reference data the recommender works
// over (titles, profiles, engagement events and precomputed signals), the
// query shapes stores must answer, and the eligibility rule every surfaced
// title must pass.
package catalog

import (
	"time"
)

// EventType enumerates engagement event kinds.
type EventType string

const (
	EventPlayStart  EventType = "PLAY_START"
	EventPlayEnd    EventType = "PLAY_END"
	EventScrub      EventType = "SCRUB"
	EventSkip       EventType = "SKIP"
	EventSearch     EventType = "SEARCH"
	EventAddToList  EventType = "ADD_TO_LIST"
	EventThumbsUp   EventType = "THUMBS_UP"
	EventThumbsDown EventType = "THUMBS_DOWN"
	EventImpression EventType = "IMPRESSION"
)

// EngagementEvent is an immutable fact from the playback and telemetry
// pipeline. ProfileID is nil for events recorded against the owning user's
// session before a profile was selected.
type EngagementEvent struct {
	ID         string         `json:"id" yaml:"id"`
	ProfileID  *string        `json:"profileId,omitempty" yaml:"profileId"`
	UserID     *string        `json:"userId,omitempty" yaml:"userId"`
	TitleID    *string        `json:"titleId,omitempty" yaml:"titleId"`
	EventType  EventType      `json:"eventType" yaml:"eventType"`
	OccurredAt time.Time      `json:"occurredAt" yaml:"occurredAt"`
	Country    string         `json:"country,omitempty" yaml:"country"`
	Metadata   map[string]any `json:"metadata,omitempty" yaml:"metadata"`
}

// TitleType is MOVIE or SERIES.
type TitleType string

const (
	TitleMovie  TitleType = "MOVIE"
	TitleSeries TitleType = "SERIES"
)

// Title is a catalog entry. An empty CountryAvailability means available
// everywhere.
type Title struct {
	ID                  string     `json:"id" yaml:"id"`
	Name                string     `json:"name" yaml:"name"`
	Type                TitleType  `json:"type" yaml:"type"`
	Genres              []string   `json:"genres" yaml:"genres"`
	MaturityRating      *string    `json:"maturityRating" yaml:"maturityRating"`
	CountryAvailability []string   `json:"countryAvailability" yaml:"countryAvailability"`
	IsOriginal          bool       `json:"isOriginal" yaml:"isOriginal"`
	ReleaseDate         *time.Time `json:"releaseDate" yaml:"releaseDate"`
	Archived            bool       `json:"archived" yaml:"archived"`
}

// Profile is the viewer context a request is served for.
type Profile struct {
	ID          string         `json:"id" yaml:"id"`
	UserID      string         `json:"userId" yaml:"userId"`
	Name        string         `json:"name,omitempty" yaml:"name"`
	Country     string         `json:"country" yaml:"country"`
	KidMode     bool           `json:"kidMode" yaml:"kidMode"`
	Preferences map[string]any `json:"preferences,omitempty" yaml:"preferences"`
	CreatedAt   time.Time      `json:"createdAt" yaml:"createdAt"`
}

// PreferredGenres returns the string entries of preferences.preferredGenres.
func (p Profile) PreferredGenres() []string {
	raw, ok := p.Preferences["preferredGenres"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, g := range v {
			if s, ok := g.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Eligibility is the viewer policy every surfaced title must satisfy.
func (p Profile) Eligibility() Eligibility {
	return Eligibility{Country: p.Country, KidMode: p.KidMode}
}

// TitleSimilarity is a directed co-engagement edge.
type TitleSimilarity struct {
	SourceTitleID string  `json:"sourceTitleId" yaml:"sourceTitleId"`
	TargetTitleID string  `json:"targetTitleId" yaml:"targetTitleId"`
	Score         float64 `json:"score" yaml:"score"`
}

// PopularityKey identifies one precomputed popularity aggregate.
type PopularityKey struct {
	Country     string `json:"country" yaml:"country"`
	ContentType string `json:"contentType" yaml:"contentType"`
	Window      string `json:"window" yaml:"window"`
}

// DailyPopularity is the "today in this country" key used for boosting.
func DailyPopularity(country string) PopularityKey {
	return PopularityKey{Country: country, ContentType: "ALL", Window: "day"}
}

type PopularityItem struct {
	TitleID string `json:"titleId" yaml:"titleId"`
	Count   int64  `json:"count" yaml:"count"`
}

type PopularitySnapshot struct {
	Key        PopularityKey    `json:"key" yaml:"key"`
	Items      []PopularityItem `json:"items" yaml:"items"`
	ComputedAt time.Time        `json:"computedAt" yaml:"computedAt"`
}

// TitleIDs returns the snapshot's ids in rank order.
func (s *PopularitySnapshot) TitleIDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.Items))
	for _, it := range s.Items {
		ids = append(ids, it.TitleID)
	}
	return ids
}

// ProfilePreferenceSnapshot holds genres inferred offline for a profile.
type ProfilePreferenceSnapshot struct {
	ProfileID string   `json:"profileId" yaml:"profileId"`
	Genres    []string `json:"genres" yaml:"genres"`
}

// ProfileRecentViews holds titles recently viewed by a profile, newest first.
type ProfileRecentViews struct {
	ProfileID string   `json:"profileId" yaml:"profileId"`
	TitleIDs  []string `json:"titleIds" yaml:"titleIds"`
}
