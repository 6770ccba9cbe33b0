package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hoshu-ai/hoshu/internal/model"
)

// ClaimDatasetVersion reserves a version for building by inserting a draft
// row. Returns false without error when the version already exists in any
// status, which is how concurrent builders discover they lost the race.
func (db *DB) ClaimDatasetVersion(ctx context.Context, ds model.TrainingDataset) (bool, error) {
	criteria, err := json.Marshal(ds.Criteria)
	if err != nil {
		return false, fmt.Errorf("storage: marshal dataset criteria: %w", err)
	}

	tag, err := db.pool.Exec(ctx,
		`INSERT INTO training_datasets (version_id, criteria, status, created_at)
		 VALUES ($1, $2::jsonb, 'draft', $3)
		 ON CONFLICT DO NOTHING`,
		ds.VersionID, criteria, ds.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("storage: claim dataset version: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteDataset publishes the entries and flips the claimed draft to built.
// It only succeeds for the claim holder (status must still be draft); the
// built content is immutable afterwards. Idempotent: entries are re-inserted
// with ON CONFLICT DO NOTHING so a retried publish cannot duplicate rows.
func (db *DB) CompleteDataset(ctx context.Context, ds model.TrainingDataset) error {
	return WithRetry(ctx, 2, 50*time.Millisecond, func() error {
		return db.completeDataset(ctx, ds)
	})
}

func (db *DB) completeDataset(ctx context.Context, ds model.TrainingDataset) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin complete dataset: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for pos, e := range ds.Entries {
		batch.Queue(
			`INSERT INTO training_dataset_entries (version_id, position, message_id, composite_score, split)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT DO NOTHING`,
			ds.VersionID, pos, e.MessageID, e.CompositeScore, string(e.Split),
		)
	}
	br := tx.SendBatch(ctx, batch)
	for range ds.Entries {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("storage: insert dataset entries: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("storage: close entry batch: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE training_datasets
		 SET status = 'built', checksum = $2,
		     train_count = $3, val_count = $4, test_count = $5,
		     positive_count = $6, negative_count = $7
		 WHERE version_id = $1 AND status = 'draft'`,
		ds.VersionID, ds.Checksum,
		ds.TrainCount, ds.ValCount, ds.TestCount,
		ds.PositiveCount, ds.NegativeCount,
	)
	if err != nil {
		return fmt.Errorf("storage: publish dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already built (a retried publish after a lost commit ack) is fine;
		// anything else means the claim was not ours.
		var status string
		if err := tx.QueryRow(ctx,
			`SELECT status FROM training_datasets WHERE version_id = $1`, ds.VersionID,
		).Scan(&status); err != nil {
			return fmt.Errorf("storage: publish dataset: claim missing: %w", err)
		}
		if status != string(model.DatasetBuilt) {
			return fmt.Errorf("storage: publish dataset %s: claim held with status %s", ds.VersionID, status)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit dataset: %w", err)
	}
	return nil
}

// ReleaseDatasetClaim removes a draft reservation after a failed build.
func (db *DB) ReleaseDatasetClaim(ctx context.Context, versionID string) error {
	_, err := db.pool.Exec(ctx,
		`DELETE FROM training_datasets WHERE version_id = $1 AND status = 'draft'`, versionID)
	if err != nil {
		return fmt.Errorf("storage: release dataset claim: %w", err)
	}
	return nil
}

// GetDataset retrieves a dataset by version, optionally with its ordered entries.
func (db *DB) GetDataset(ctx context.Context, versionID string, includeEntries bool) (model.TrainingDataset, error) {
	ds, err := scanDataset(db.pool.QueryRow(ctx,
		datasetSelect+` WHERE version_id = $1`, versionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TrainingDataset{}, fmt.Errorf("storage: dataset %s: %w", versionID, ErrNotFound)
		}
		return model.TrainingDataset{}, fmt.Errorf("storage: get dataset: %w", err)
	}

	if includeEntries {
		rows, err := db.pool.Query(ctx,
			`SELECT message_id, composite_score, split
			 FROM training_dataset_entries
			 WHERE version_id = $1 ORDER BY position`, versionID)
		if err != nil {
			return model.TrainingDataset{}, fmt.Errorf("storage: list dataset entries: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var e model.DatasetEntry
			var split string
			if err := rows.Scan(&e.MessageID, &e.CompositeScore, &split); err != nil {
				return model.TrainingDataset{}, fmt.Errorf("storage: scan dataset entry: %w", err)
			}
			e.Split = model.Split(split)
			ds.Entries = append(ds.Entries, e)
		}
		if err := rows.Err(); err != nil {
			return model.TrainingDataset{}, fmt.Errorf("storage: read dataset entries: %w", err)
		}
	}
	return ds, nil
}

// ListDatasets returns dataset metadata (no entries), newest first.
// Archived versions are excluded unless includeArchived is set.
func (db *DB) ListDatasets(ctx context.Context, includeArchived bool) ([]model.TrainingDataset, error) {
	q := datasetSelect + ` WHERE status = 'built'`
	if includeArchived {
		q = datasetSelect + ` WHERE status IN ('built', 'archived')`
	}
	rows, err := db.pool.Query(ctx, q+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list datasets: %w", err)
	}
	defer rows.Close()

	var out []model.TrainingDataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan dataset: %w", err)
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

// ArchiveDataset moves a built dataset out of the default listing.
func (db *DB) ArchiveDataset(ctx context.Context, versionID string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE training_datasets SET status = 'archived'
		 WHERE version_id = $1 AND status = 'built'`, versionID)
	if err != nil {
		return fmt.Errorf("storage: archive dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: archive dataset %s: %w", versionID, ErrNotFound)
	}
	return nil
}

const datasetSelect = `SELECT version_id, criteria, status, checksum,
	train_count, val_count, test_count, positive_count, negative_count, created_at
	FROM training_datasets`

func scanDataset(row pgx.Row) (model.TrainingDataset, error) {
	var ds model.TrainingDataset
	var criteria []byte
	var status string
	if err := row.Scan(&ds.VersionID, &criteria, &status, &ds.Checksum,
		&ds.TrainCount, &ds.ValCount, &ds.TestCount,
		&ds.PositiveCount, &ds.NegativeCount, &ds.CreatedAt); err != nil {
		return model.TrainingDataset{}, err
	}
	ds.Status = model.DatasetStatus(status)
	if err := json.Unmarshal(criteria, &ds.Criteria); err != nil {
		return model.TrainingDataset{}, fmt.Errorf("unmarshal criteria: %w", err)
	}
	return ds, nil
}
