// Package ranker scores candidate titles from boolean signal memberships and
// release recency and orders them deterministically.
package ranker

import (
	"math"
	"sort"
	"time"

	"github.com/devdanny2024/wanzami-sub000/internal/catalog"
)

// Weights are the per-signal score contributions.
type Weights struct {
	Original   float64
	Similarity float64
	Popularity float64
	Recency    float64
}

var (
	// BecauseYouWatched ranks originals first, then popular titles, and
	// spreads the rest by release date across the pool.
	BecauseYouWatched = Weights{Original: 1.5, Popularity: 0.5, Recency: 1}
	// ForYou adds the similarity signal and keeps recency as a tie-breaker.
	ForYou = Weights{Original: 1.5, Similarity: 1, Popularity: 0.5, Recency: 0.1}
)

// RecencyHorizon is the age at which ForYou recency decay reaches zero.
const RecencyHorizon = 180 * 24 * time.Hour

type Candidate struct {
	Title   catalog.Title
	Similar bool
	Popular bool
	// Recency is in [0, 1].
	Recency float64
}

type ScoredTitle struct {
	Title catalog.Title
	Score float64
}

// Score returns the weighted sum of c's signals.
func Score(c Candidate, w Weights) float64 {
	var s float64
	if c.Title.IsOriginal {
		s += w.Original
	}
	if c.Similar {
		s += w.Similarity
	}
	if c.Popular {
		s += w.Popularity
	}
	s += w.Recency * c.Recency
	return math.Round(s*1e6) / 1e6
}

// Rank scores candidates and orders them by score, then release date
// (undated last), then id. A limit of zero keeps everything.
func Rank(candidates []Candidate, w Weights, limit int) []ScoredTitle {
	result := make([]ScoredTitle, 0, len(candidates))
	for _, c := range candidates {
		result = append(result, ScoredTitle{Title: c.Title, Score: Score(c, w)})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		if c := compareRelease(result[i].Title.ReleaseDate, result[j].Title.ReleaseDate); c != 0 {
			return c > 0
		}
		return result[i].Title.ID < result[j].Title.ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// Titles strips scores.
func Titles(scored []ScoredTitle) []catalog.Title {
	out := make([]catalog.Title, len(scored))
	for i, s := range scored {
		out[i] = s.Title
	}
	return out
}

// NormalizedReleaseRecency min-max scales release dates across titles to
// [0, 1]. Undated titles get 0. When every dated title shares one date they
// all get 1.
func NormalizedReleaseRecency(titles []catalog.Title) map[string]float64 {
	out := make(map[string]float64, len(titles))
	var lo, hi int64
	seen := false
	for _, t := range titles {
		if t.ReleaseDate == nil {
			continue
		}
		u := t.ReleaseDate.Unix()
		if !seen || u < lo {
			lo = u
		}
		if !seen || u > hi {
			hi = u
		}
		seen = true
	}
	for _, t := range titles {
		if t.ReleaseDate == nil {
			out[t.ID] = 0
			continue
		}
		if hi == lo {
			out[t.ID] = 1
			continue
		}
		out[t.ID] = float64(t.ReleaseDate.Unix()-lo) / float64(hi-lo)
	}
	return out
}

// RecencyDecay is 1 for a title released at now, falling linearly to 0 at
// RecencyHorizon. Undated titles and future releases are clamped into
// [0, 1].
func RecencyDecay(release *time.Time, now time.Time) float64 {
	if release == nil {
		return 0
	}
	age := now.Sub(*release)
	if age < 0 {
		return 1
	}
	return math.Max(0, 1-float64(age)/float64(RecencyHorizon))
}

func compareRelease(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case a.After(*b):
		return 1
	case a.Before(*b):
		return -1
	}
	return 0
}
