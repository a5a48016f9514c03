// Package telemetry delivers IMPRESSION exposure events off the request
// path and aggregates them into per-experiment exposure stats.
package telemetry

import (
	"time"

	"github.com/google/uuid"

	"github.com/devdanny2024/wanzami-sub000/internal/catalog"
)

// Impression records that a surface was shown to a profile.
type Impression struct {
	ProfileID   string
	UserID      string
	Country     string
	Surface     string
	Experiment  string
	Variant     string
	Cache       bool
	AnchorCount int
	ItemCount   int
	RequestID   string
	At          time.Time
}

// Event converts the impression into the engagement event appended to the
// event log.
func (i Impression) Event() catalog.EngagementEvent {
	profileID := i.ProfileID
	at := i.At
	if at.IsZero() {
		at = time.Now()
	}
	ev := catalog.EngagementEvent{
		ID:         uuid.NewString(),
		ProfileID:  &profileID,
		EventType:  catalog.EventImpression,
		OccurredAt: at.UTC(),
		Country:    i.Country,
		Metadata: map[string]any{
			"surface":     i.Surface,
			"experiment":  i.Experiment,
			"variant":     i.Variant,
			"cache":       i.Cache,
			"anchorCount": i.AnchorCount,
			"itemCount":   i.ItemCount,
		},
	}
	if i.UserID != "" {
		userID := i.UserID
		ev.UserID = &userID
	}
	if i.RequestID != "" {
		ev.Metadata["requestId"] = i.RequestID
	}
	return ev
}

// ExposureFromEvent reads the exposure fields back out of an IMPRESSION
// event. ok is false for other event types.
func ExposureFromEvent(ev catalog.EngagementEvent) (Exposure, bool) {
	if ev.EventType != catalog.EventImpression {
		return Exposure{}, false
	}
	str := func(k string) string {
		s, _ := ev.Metadata[k].(string)
		return s
	}
	cached, _ := ev.Metadata["cache"].(bool)
	return Exposure{
		Experiment: str("experiment"),
		Variant:    str("variant"),
		Surface:    str("surface"),
		Cache:      cached,
	}, true
}

// Exposure is the aggregation key of an impression plus its cache flag.
type Exposure struct {
	Experiment string
	Variant    string
	Surface    string
	Cache      bool
}
