package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/hoshu-ai/hoshu/internal/model"
)

const rewardColumns = `message_id, conversation_id, weight_config_version,
	composite_score, ratings_component, binary_component, citation_component,
	confidence, feedback_count, computed_at, explanation`

// InsertRewardRecords appends reward records. The store is append-only:
// an existing (message_id, weight_config_version) pair is left untouched,
// so recomputation under the same version is a no-op rather than an
// overwrite. Returns the number of rows actually inserted.
func (db *DB) InsertRewardRecords(ctx context.Context, records []model.RewardRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(
			`INSERT INTO reward_records (`+rewardColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (message_id, weight_config_version) DO NOTHING`,
			r.MessageID, r.ConversationID, r.WeightConfigVersion,
			r.CompositeScore, r.RatingsComponent, r.BinaryComponent, r.CitationComponent,
			r.Confidence, r.FeedbackCount, r.ComputedAt.UTC(), r.Explanation,
		)
	}

	br := db.pool.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for range records {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("storage: insert reward records: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// ListRewardRecords returns every record matching the dataset criteria,
// including superseded weight-config versions. Date bounds apply to
// computed_at; dedup by message is the builder's job.
func (db *DB) ListRewardRecords(ctx context.Context, c model.DatasetCriteria) ([]model.RewardRecord, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + rewardColumns + ` FROM reward_records`)

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !c.Start.IsZero() {
		conds = append(conds, "computed_at >= "+arg(c.Start.UTC()))
	}
	if !c.End.IsZero() {
		conds = append(conds, "computed_at <= "+arg(c.End.UTC()))
	}
	if len(c.ConversationIDs) > 0 {
		conds = append(conds, "conversation_id = ANY("+arg(c.ConversationIDs)+")")
	}
	if len(c.UserIDs) > 0 {
		// Reward records carry no user column; user filters resolve through
		// the feedback events that produced the score.
		conds = append(conds, `EXISTS (
			SELECT 1 FROM feedback_events fe
			WHERE fe.message_id = reward_records.message_id
			  AND fe.user_id = ANY(`+arg(c.UserIDs)+`))`)
	}
	if c.MinFeedbackCount > 0 {
		conds = append(conds, "feedback_count >= "+arg(c.MinFeedbackCount))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY message_id, computed_at")

	rows, err := db.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list reward records: %w", err)
	}
	defer rows.Close()

	var out []model.RewardRecord
	for rows.Next() {
		var r model.RewardRecord
		if err := rows.Scan(
			&r.MessageID, &r.ConversationID, &r.WeightConfigVersion,
			&r.CompositeScore, &r.RatingsComponent, &r.BinaryComponent, &r.CitationComponent,
			&r.Confidence, &r.FeedbackCount, &r.ComputedAt, &r.Explanation,
		); err != nil {
			return nil, fmt.Errorf("storage: scan reward record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read reward records: %w", err)
	}
	return out, nil
}
