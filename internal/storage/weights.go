package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hoshu-ai/hoshu/internal/model"
)

// ErrWeightVersionExists is returned when creating a weight config whose
// version is already taken. Versions are immutable; tuning means a new one.
var ErrWeightVersionExists = errors.New("storage: weight config version already exists")

// CreateWeightConfig inserts a new immutable weight-config version.
// The config must already be validated by model.NewWeightConfig.
func (db *DB) CreateWeightConfig(ctx context.Context, cfg model.WeightConfig) error {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO weight_configs (version, ratings_weight, binary_weight, citation_weight, latency_weight, half_life_us, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT DO NOTHING`,
		cfg.Version, cfg.RatingsWeight, cfg.BinaryWeight, cfg.CitationWeight,
		cfg.LatencyWeight, cfg.HalfLife.Microseconds(), cfg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create weight config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWeightVersionExists
	}
	return nil
}

// GetWeightConfig retrieves a weight config by version.
func (db *DB) GetWeightConfig(ctx context.Context, version string) (model.WeightConfig, error) {
	cfg, err := scanWeightConfig(db.pool.QueryRow(ctx,
		`SELECT version, ratings_weight, binary_weight, citation_weight, latency_weight, half_life_us, created_at
		 FROM weight_configs WHERE version = $1`, version))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.WeightConfig{}, fmt.Errorf("storage: weight config %q: %w", version, ErrNotFound)
		}
		return model.WeightConfig{}, fmt.Errorf("storage: get weight config: %w", err)
	}
	return cfg, nil
}

// LatestWeightConfig returns the most recently created weight config.
func (db *DB) LatestWeightConfig(ctx context.Context) (model.WeightConfig, error) {
	cfg, err := scanWeightConfig(db.pool.QueryRow(ctx,
		`SELECT version, ratings_weight, binary_weight, citation_weight, latency_weight, half_life_us, created_at
		 FROM weight_configs ORDER BY created_at DESC LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.WeightConfig{}, fmt.Errorf("storage: no weight configs: %w", ErrNotFound)
		}
		return model.WeightConfig{}, fmt.Errorf("storage: latest weight config: %w", err)
	}
	return cfg, nil
}

// ListWeightConfigs returns all weight configs, newest first.
func (db *DB) ListWeightConfigs(ctx context.Context) ([]model.WeightConfig, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT version, ratings_weight, binary_weight, citation_weight, latency_weight, half_life_us, created_at
		 FROM weight_configs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list weight configs: %w", err)
	}
	defer rows.Close()

	var out []model.WeightConfig
	for rows.Next() {
		cfg, err := scanWeightConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan weight config: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func scanWeightConfig(row pgx.Row) (model.WeightConfig, error) {
	var cfg model.WeightConfig
	var halfLifeUS int64
	if err := row.Scan(&cfg.Version, &cfg.RatingsWeight, &cfg.BinaryWeight,
		&cfg.CitationWeight, &cfg.LatencyWeight, &halfLifeUS, &cfg.CreatedAt); err != nil {
		return model.WeightConfig{}, err
	}
	cfg.HalfLife = time.Duration(halfLifeUS) * time.Microsecond
	return cfg, nil
}
