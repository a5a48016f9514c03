package catalog

// EventQuery selects engagement events attributed to a profile: events
// carrying ProfileID, plus events with no profile recorded by the owning
// UserID. Results are ordered newest first.
type EventQuery struct {
	ProfileID    string
	UserID       string
	Types        []EventType
	RequireTitle bool
	// Limit of zero means unlimited.
	Limit int
}

// Matches reports whether e satisfies q, ignoring Limit.
func (q EventQuery) Matches(e EngagementEvent) bool {
	if q.RequireTitle && (e.TitleID == nil || *e.TitleID == "") {
		return false
	}
	if len(q.Types) > 0 && !containsType(q.Types, e.EventType) {
		return false
	}
	if e.ProfileID != nil {
		return *e.ProfileID == q.ProfileID
	}
	return q.UserID != "" && e.UserID != nil && *e.UserID == q.UserID
}

func containsType(types []EventType, t EventType) bool {
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}

// TitleQuery selects non-archived titles. A title matches when its id is in
// IDs or it shares a genre with Genres; MatchAll matches every title instead.
// When Eligibility is set it is applied inside the lookup, before Limit.
type TitleQuery struct {
	IDs         []string
	Genres      []string
	ExcludeIDs  []string
	MatchAll    bool
	Eligibility *Eligibility
	// NewestFirst orders by release date descending with undated titles
	// last, then by id. Otherwise the order is unspecified.
	NewestFirst bool
	// Limit of zero means unlimited.
	Limit int
}

// Matches reports whether t satisfies q, ignoring ordering and Limit.
func (q TitleQuery) Matches(t Title) bool {
	if t.Archived {
		return false
	}
	for _, id := range q.ExcludeIDs {
		if id == t.ID {
			return false
		}
	}
	if q.Eligibility != nil && !q.Eligibility.Allows(t) {
		return false
	}
	if q.MatchAll {
		return true
	}
	for _, id := range q.IDs {
		if id == t.ID {
			return true
		}
	}
	for _, g := range t.Genres {
		for _, want := range q.Genres {
			if g == want {
				return true
			}
		}
	}
	return false
}
