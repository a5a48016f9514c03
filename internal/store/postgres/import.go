package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/devdanny2024/wanzami-sub000/internal/store/memory"
)

// Import upserts fixture data. Events go through AppendEvents so existing
// ids are kept.
func (s *Store) Import(ctx context.Context, f memory.Fixtures) error {
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, t := range f.Titles {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO titles (`+titleColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, type = EXCLUDED.type,
				   genres = EXCLUDED.genres, maturity_rating = EXCLUDED.maturity_rating,
				   country_availability = EXCLUDED.country_availability, is_original = EXCLUDED.is_original,
				   release_date = EXCLUDED.release_date, archived = EXCLUDED.archived`,
				t.ID, t.Name, string(t.Type), pq.Array(nonNil(t.Genres)), t.MaturityRating,
				pq.Array(nonNil(t.CountryAvailability)), t.IsOriginal, dateOrNil(t.ReleaseDate), t.Archived)
			if err != nil {
				return fmt.Errorf("upserting title %s: %w", t.ID, err)
			}
		}
		for _, p := range f.Profiles {
			prefs, err := json.Marshal(p.Preferences)
			if err != nil {
				return fmt.Errorf("encoding preferences of profile %s: %w", p.ID, err)
			}
			if p.Preferences == nil {
				prefs = []byte("{}")
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO profiles (`+profileColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
				 ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id, name = EXCLUDED.name,
				   country = EXCLUDED.country, kid_mode = EXCLUDED.kid_mode,
				   preferences = EXCLUDED.preferences, created_at = EXCLUDED.created_at`,
				p.ID, p.UserID, p.Name, p.Country, p.KidMode, prefs, p.CreatedAt.UTC())
			if err != nil {
				return fmt.Errorf("upserting profile %s: %w", p.ID, err)
			}
		}
		for _, e := range f.Similarity {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO title_similarity (source_title_id, target_title_id, score) VALUES ($1, $2, $3)
				 ON CONFLICT (source_title_id, target_title_id) DO UPDATE SET score = EXCLUDED.score`,
				e.SourceTitleID, e.TargetTitleID, e.Score)
			if err != nil {
				return fmt.Errorf("upserting similarity %s->%s: %w", e.SourceTitleID, e.TargetTitleID, err)
			}
		}
		for _, snap := range f.Popularity {
			items, err := json.Marshal(snap.Items)
			if err != nil {
				return fmt.Errorf("encoding popularity items: %w", err)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO popularity_snapshots (country, content_type, time_window, items, computed_at)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (country, content_type, time_window)
				 DO UPDATE SET items = EXCLUDED.items, computed_at = EXCLUDED.computed_at`,
				snap.Key.Country, snap.Key.ContentType, snap.Key.Window, items, snap.ComputedAt.UTC())
			if err != nil {
				return fmt.Errorf("upserting popularity %+v: %w", snap.Key, err)
			}
		}
		for _, p := range f.Preferences {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO profile_preference_snapshots (profile_id, genres) VALUES ($1, $2)
				 ON CONFLICT (profile_id) DO UPDATE SET genres = EXCLUDED.genres`,
				p.ProfileID, pq.Array(nonNil(p.Genres)))
			if err != nil {
				return fmt.Errorf("upserting preferences of %s: %w", p.ProfileID, err)
			}
		}
		for _, rv := range f.RecentViews {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO profile_recent_views (profile_id, title_ids) VALUES ($1, $2)
				 ON CONFLICT (profile_id) DO UPDATE SET title_ids = EXCLUDED.title_ids`,
				rv.ProfileID, pq.Array(nonNil(rv.TitleIDs)))
			if err != nil {
				return fmt.Errorf("upserting recent views of %s: %w", rv.ProfileID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.AppendEvents(ctx, f.Events); err != nil {
		return err
	}
	s.logger.Info("fixtures imported",
		"titles", len(f.Titles),
		"profiles", len(f.Profiles),
		"events", len(f.Events),
	)
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
