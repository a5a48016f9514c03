package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/devdanny2024/wanzami-sub000/pkg/postgres"
)

// SnapshotStore persists periodic exposure stats in the
// exposure_snapshots table.
type SnapshotStore struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewSnapshotStore(db *postgres.Client) *SnapshotStore {
	return &SnapshotStore{
		db:     db,
		logger: slog.Default().With("component", "exposure-snapshots"),
	}
}

func (s *SnapshotStore) SaveSnapshot(ctx context.Context, stats ExposureStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling exposure stats: %w", err)
	}
	_, err = s.db.DB.ExecContext(ctx,
		`INSERT INTO exposure_snapshots (data, captured_at) VALUES ($1, $2)`,
		data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving exposure snapshot: %w", err)
	}
	s.logger.Info("exposure snapshot saved", "total_impressions", stats.TotalImpressions)
	return nil
}

// LatestSnapshot returns nil, nil when nothing has been saved yet.
func (s *SnapshotStore) LatestSnapshot(ctx context.Context) (*ExposureStats, error) {
	var data []byte
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT data FROM exposure_snapshots ORDER BY captured_at DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest exposure snapshot: %w", err)
	}
	var stats ExposureStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("unmarshaling exposure snapshot: %w", err)
	}
	return &stats, nil
}

// ListSnapshots returns the last limit snapshots, newest first. Corrupt rows
// are skipped.
func (s *SnapshotStore) ListSnapshots(ctx context.Context, limit int) ([]ExposureStats, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT data FROM exposure_snapshots ORDER BY captured_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing exposure snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []ExposureStats
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning exposure snapshot: %w", err)
		}
		var stats ExposureStats
		if err := json.Unmarshal(data, &stats); err != nil {
			s.logger.Warn("skipping corrupt exposure snapshot", "error", err)
			continue
		}
		snapshots = append(snapshots, stats)
	}
	return snapshots, rows.Err()
}

// StartPeriodicSave snapshots agg every interval and once more on shutdown.
func (s *SnapshotStore) StartPeriodicSave(ctx context.Context, agg *Aggregator, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.SaveSnapshot(ctx, agg.Stats()); err != nil {
					s.logger.Error("periodic exposure snapshot failed", "error", err)
				}
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := s.SaveSnapshot(shutdownCtx, agg.Stats()); err != nil {
					s.logger.Error("final exposure snapshot failed", "error", err)
				}
				cancel()
				return
			}
		}
	}()
	s.logger.Info("periodic exposure snapshot started", "interval", interval)
}
