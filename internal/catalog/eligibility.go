package catalog

import "slices"

// KidSafeRatings are the maturity ratings a kid-mode profile may see. Unrated
// titles are also allowed.
var KidSafeRatings = []string{"G", "PG", "TV-Y", "TV-Y7", "TV-G", "TV-PG", "PG-13"}

// Eligibility combines regional availability and parental control.
type Eligibility struct {
	Country string
	KidMode bool
}

// IsEligible reports whether title may be shown in country to a viewer with
// the given kid-mode setting. It does not look at Archived.
func IsEligible(title Title, country string, kidMode bool) bool {
	if len(title.CountryAvailability) > 0 && !slices.Contains(title.CountryAvailability, country) {
		return false
	}
	if kidMode && title.MaturityRating != nil && !slices.Contains(KidSafeRatings, *title.MaturityRating) {
		return false
	}
	return true
}

// Allows reports whether t is eligible and not archived.
func (e Eligibility) Allows(t Title) bool {
	return !t.Archived && IsEligible(t, e.Country, e.KidMode)
}
