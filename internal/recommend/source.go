package recommend

import (
	"context"

	"github.com/devdanny2024/wanzami-sub000/internal/catalog"
)

// EventSource reads the engagement event log.
type EventSource interface {
	// RecentEvents returns events matching q, newest first.
	RecentEvents(ctx context.Context, q catalog.EventQuery) ([]catalog.EngagementEvent, error)
	// HasEvents reports whether any event matches q.
	HasEvents(ctx context.Context, q catalog.EventQuery) (bool, error)
}

// TitleSource looks titles up with eligibility applied inside the query.
type TitleSource interface {
	FindTitles(ctx context.Context, q catalog.TitleQuery) ([]catalog.Title, error)
}

// SimilaritySource reads the precomputed similarity graph.
type SimilaritySource interface {
	// TopSimilar returns up to limit edges whose source is in sourceIDs,
	// highest score first.
	TopSimilar(ctx context.Context, sourceIDs []string, limit int) ([]catalog.TitleSimilarity, error)
}

// PopularitySource reads precomputed popularity aggregates. A missing
// snapshot is nil with a nil error.
type PopularitySource interface {
	Popularity(ctx context.Context, key catalog.PopularityKey) (*catalog.PopularitySnapshot, error)
}

// SnapshotSource reads per-profile fallback signals. Missing snapshots are
// nil with a nil error.
type SnapshotSource interface {
	PreferenceSnapshot(ctx context.Context, profileID string) (*catalog.ProfilePreferenceSnapshot, error)
	RecentViews(ctx context.Context, profileID string) (*catalog.ProfileRecentViews, error)
}

// Store is every read dependency of the engine.
type Store interface {
	EventSource
	TitleSource
	SimilaritySource
	PopularitySource
	SnapshotSource
}
