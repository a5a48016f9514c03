// Package postgres implements the recommendation stores over PostgreSQL.
// Eligibility is evaluated inside the SQL so limits apply to eligible rows
// only. Every read goes through a circuit breaker.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/devdanny2024/wanzami-sub000/internal/catalog"
	"github.com/devdanny2024/wanzami-sub000/pkg/postgres"
	"github.com/devdanny2024/wanzami-sub000/pkg/resilience"
)

//go:embed schema.sql
var schema string

type Store struct {
	db      *postgres.Client
	breaker *resilience.Breaker
	logger  *slog.Logger
}

// New wraps db. breaker may be nil.
func New(db *postgres.Client, breaker *resilience.Breaker) *Store {
	return &Store{
		db:      db,
		breaker: breaker,
		logger:  slog.Default().With("component", "postgres-store"),
	}
}

// Migrate creates any missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	s.logger.Info("schema applied")
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// args accumulates positional parameters.
type args []any

func (a *args) add(v any) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}

const eventColumns = `id, profile_id, user_id, title_id, event_type, occurred_at, country, metadata`

// eventFilter renders the attribution predicate: the profile's own events
// plus the owning user's events recorded without a profile.
func eventFilter(q catalog.EventQuery, a *args) string {
	var b strings.Builder
	b.WriteString("(profile_id = " + a.add(q.ProfileID))
	if q.UserID != "" {
		b.WriteString(" OR (profile_id IS NULL AND user_id = " + a.add(q.UserID) + ")")
	}
	b.WriteString(")")
	if len(q.Types) > 0 {
		types := make([]string, len(q.Types))
		for i, t := range q.Types {
			types[i] = string(t)
		}
		b.WriteString(" AND event_type = ANY(" + a.add(pq.Array(types)) + ")")
	}
	if q.RequireTitle {
		b.WriteString(" AND title_id IS NOT NULL AND title_id <> ''")
	}
	return b.String()
}

func (s *Store) RecentEvents(ctx context.Context, q catalog.EventQuery) ([]catalog.EngagementEvent, error) {
	return resilience.Call(s.breaker, func() ([]catalog.EngagementEvent, error) {
		var a args
		query := `SELECT ` + eventColumns + ` FROM engagement_events WHERE ` + eventFilter(q, &a) +
			` ORDER BY occurred_at DESC`
		if q.Limit > 0 {
			query += " LIMIT " + a.add(q.Limit)
		}
		rows, err := s.db.DB.QueryContext(ctx, query, a...)
		if err != nil {
			return nil, fmt.Errorf("querying events: %w", err)
		}
		defer rows.Close()

		var events []catalog.EngagementEvent
		for rows.Next() {
			ev, err := scanEvent(rows)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
		}
		return events, rows.Err()
	})
}

func (s *Store) HasEvents(ctx context.Context, q catalog.EventQuery) (bool, error) {
	return resilience.Call(s.breaker, func() (bool, error) {
		var a args
		var exists bool
		err := s.db.DB.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM engagement_events WHERE `+eventFilter(q, &a)+`)`, a...,
		).Scan(&exists)
		if err != nil {
			return false, fmt.Errorf("checking events: %w", err)
		}
		return exists, nil
	})
}

func scanEvent(rows *sql.Rows) (catalog.EngagementEvent, error) {
	var (
		ev                         catalog.EngagementEvent
		profileID, userID, titleID sql.NullString
		eventType                  string
		metadata                   []byte
	)
	if err := rows.Scan(&ev.ID, &profileID, &userID, &titleID, &eventType, &ev.OccurredAt, &ev.Country, &metadata); err != nil {
		return ev, fmt.Errorf("scanning event: %w", err)
	}
	ev.EventType = catalog.EventType(eventType)
	ev.ProfileID = nullable(profileID)
	ev.UserID = nullable(userID)
	ev.TitleID = nullable(titleID)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
			return ev, fmt.Errorf("decoding metadata of event %s: %w", ev.ID, err)
		}
	}
	return ev, nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// AppendEvents inserts events in one transaction. Ids already present are
// skipped, so redelivered batches are harmless.
func (s *Store) AppendEvents(ctx context.Context, events []catalog.EngagementEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO engagement_events (`+eventColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("preparing event insert: %w", err)
		}
		defer stmt.Close()

		for _, ev := range events {
			metadata, err := json.Marshal(ev.Metadata)
			if err != nil {
				return fmt.Errorf("encoding metadata of event %s: %w", ev.ID, err)
			}
			if ev.Metadata == nil {
				metadata = []byte("{}")
			}
			_, err = stmt.ExecContext(ctx, ev.ID, ev.ProfileID, ev.UserID, ev.TitleID,
				string(ev.EventType), ev.OccurredAt.UTC(), ev.Country, metadata)
			if err != nil {
				return fmt.Errorf("inserting event %s: %w", ev.ID, err)
			}
		}
		return nil
	})
}

const titleColumns = `id, name, type, genres, maturity_rating, country_availability, is_original, release_date, archived`

// FindTitles applies q in SQL, eligibility included, before LIMIT.
func (s *Store) FindTitles(ctx context.Context, q catalog.TitleQuery) ([]catalog.Title, error) {
	if !q.MatchAll && len(q.IDs) == 0 && len(q.Genres) == 0 {
		return []catalog.Title{}, nil
	}
	return resilience.Call(s.breaker, func() ([]catalog.Title, error) {
		var a args
		where := []string{"NOT archived"}
		if !q.MatchAll {
			var match []string
			if len(q.IDs) > 0 {
				match = append(match, "id = ANY("+a.add(pq.Array(q.IDs))+")")
			}
			if len(q.Genres) > 0 {
				match = append(match, "genres && "+a.add(pq.Array(q.Genres)))
			}
			where = append(where, "("+strings.Join(match, " OR ")+")")
		}
		if len(q.ExcludeIDs) > 0 {
			where = append(where, "NOT (id = ANY("+a.add(pq.Array(q.ExcludeIDs))+"))")
		}
		if e := q.Eligibility; e != nil {
			where = append(where, "(cardinality(country_availability) = 0 OR "+a.add(e.Country)+" = ANY(country_availability))")
			if e.KidMode {
				where = append(where, "(maturity_rating IS NULL OR maturity_rating = ANY("+a.add(pq.Array(catalog.KidSafeRatings))+"))")
			}
		}

		query := `SELECT ` + titleColumns + ` FROM titles WHERE ` + strings.Join(where, " AND ")
		if q.NewestFirst {
			query += " ORDER BY release_date DESC NULLS LAST, id"
		} else {
			query += " ORDER BY id"
		}
		if q.Limit > 0 {
			query += " LIMIT " + a.add(q.Limit)
		}

		rows, err := s.db.DB.QueryContext(ctx, query, a...)
		if err != nil {
			return nil, fmt.Errorf("querying titles: %w", err)
		}
		defer rows.Close()

		titles := make([]catalog.Title, 0)
		for rows.Next() {
			var (
				t        catalog.Title
				typ      string
				rating   sql.NullString
				released sql.NullTime
			)
			if err := rows.Scan(&t.ID, &t.Name, &typ, pq.Array(&t.Genres), &rating,
				pq.Array(&t.CountryAvailability), &t.IsOriginal, &released, &t.Archived); err != nil {
				return nil, fmt.Errorf("scanning title: %w", err)
			}
			t.Type = catalog.TitleType(typ)
			t.MaturityRating = nullable(rating)
			if released.Valid {
				r := released.Time.UTC()
				t.ReleaseDate = &r
			}
			titles = append(titles, t)
		}
		return titles, rows.Err()
	})
}

func (s *Store) TopSimilar(ctx context.Context, sourceIDs []string, limit int) ([]catalog.TitleSimilarity, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}
	return resilience.Call(s.breaker, func() ([]catalog.TitleSimilarity, error) {
		var a args
		query := `SELECT source_title_id, target_title_id, score FROM title_similarity
			WHERE source_title_id = ANY(` + a.add(pq.Array(sourceIDs)) + `)
			ORDER BY score DESC, target_title_id`
		if limit > 0 {
			query += " LIMIT " + a.add(limit)
		}
		rows, err := s.db.DB.QueryContext(ctx, query, a...)
		if err != nil {
			return nil, fmt.Errorf("querying similarity: %w", err)
		}
		defer rows.Close()

		var edges []catalog.TitleSimilarity
		for rows.Next() {
			var e catalog.TitleSimilarity
			if err := rows.Scan(&e.SourceTitleID, &e.TargetTitleID, &e.Score); err != nil {
				return nil, fmt.Errorf("scanning similarity: %w", err)
			}
			edges = append(edges, e)
		}
		return edges, rows.Err()
	})
}

func (s *Store) Popularity(ctx context.Context, key catalog.PopularityKey) (*catalog.PopularitySnapshot, error) {
	return resilience.Call(s.breaker, func() (*catalog.PopularitySnapshot, error) {
		var (
			items []byte
			snap  = catalog.PopularitySnapshot{Key: key}
		)
		err := s.db.DB.QueryRowContext(ctx,
			`SELECT items, computed_at FROM popularity_snapshots
			 WHERE country = $1 AND content_type = $2 AND time_window = $3`,
			key.Country, key.ContentType, key.Window,
		).Scan(&items, &snap.ComputedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("querying popularity: %w", err)
		}
		if err := json.Unmarshal(items, &snap.Items); err != nil {
			return nil, fmt.Errorf("decoding popularity items: %w", err)
		}
		return &snap, nil
	})
}

func (s *Store) PreferenceSnapshot(ctx context.Context, profileID string) (*catalog.ProfilePreferenceSnapshot, error) {
	return resilience.Call(s.breaker, func() (*catalog.ProfilePreferenceSnapshot, error) {
		snap := catalog.ProfilePreferenceSnapshot{ProfileID: profileID}
		err := s.db.DB.QueryRowContext(ctx,
			`SELECT genres FROM profile_preference_snapshots WHERE profile_id = $1`, profileID,
		).Scan(pq.Array(&snap.Genres))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("querying preference snapshot: %w", err)
		}
		return &snap, nil
	})
}

func (s *Store) RecentViews(ctx context.Context, profileID string) (*catalog.ProfileRecentViews, error) {
	return resilience.Call(s.breaker, func() (*catalog.ProfileRecentViews, error) {
		rv := catalog.ProfileRecentViews{ProfileID: profileID}
		err := s.db.DB.QueryRowContext(ctx,
			`SELECT title_ids FROM profile_recent_views WHERE profile_id = $1`, profileID,
		).Scan(pq.Array(&rv.TitleIDs))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("querying recent views: %w", err)
		}
		return &rv, nil
	})
}

const profileColumns = `id, user_id, name, country, kid_mode, preferences, created_at`

// Profile returns the profile with id, or nil.
func (s *Store) Profile(ctx context.Context, id string) (*catalog.Profile, error) {
	return s.queryProfile(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
}

// FirstProfile returns the user's earliest-created profile, or nil.
func (s *Store) FirstProfile(ctx context.Context, userID string) (*catalog.Profile, error) {
	return s.queryProfile(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = $1 ORDER BY created_at, id LIMIT 1`, userID)
}

func (s *Store) queryProfile(ctx context.Context, query string, arg string) (*catalog.Profile, error) {
	return resilience.Call(s.breaker, func() (*catalog.Profile, error) {
		var (
			p     catalog.Profile
			prefs []byte
		)
		err := s.db.DB.QueryRowContext(ctx, query, arg).
			Scan(&p.ID, &p.UserID, &p.Name, &p.Country, &p.KidMode, &prefs, &p.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("querying profile: %w", err)
		}
		if len(prefs) > 0 {
			if err := json.Unmarshal(prefs, &p.Preferences); err != nil {
				return nil, fmt.Errorf("decoding preferences of profile %s: %w", p.ID, err)
			}
		}
		return &p, nil
	})
}

// Counts reports the number of rows per table, for the CLI.
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	tables := []string{"titles", "profiles", "engagement_events", "title_similarity",
		"popularity_snapshots", "profile_preference_snapshots", "profile_recent_views"}
	counts := make(map[string]int64, len(tables))
	for _, table := range tables {
		var n int64
		if err := s.db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

func dateOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
