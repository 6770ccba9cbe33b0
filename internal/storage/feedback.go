package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hoshu-ai/hoshu/internal/model"
)

const feedbackColumns = `id, message_id, conversation_id, user_id,
	rating_accuracy, rating_relevance, rating_completeness, rating_clarity,
	binary_signal, citation_score, created_at, response_generated_at`

// ListFeedbackEvents returns events matching the filter, ordered by message
// ID then creation time. The feedback store is read-only to the pipeline;
// the min-count threshold applies to message groups and is enforced by the
// aggregator, not here.
func (db *DB) ListFeedbackEvents(ctx context.Context, filter model.FeedbackFilter) ([]model.FeedbackEvent, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + feedbackColumns + ` FROM feedback_events`)

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filter.Start.IsZero() {
		conds = append(conds, "created_at >= "+arg(filter.Start.UTC()))
	}
	if !filter.End.IsZero() {
		conds = append(conds, "created_at <= "+arg(filter.End.UTC()))
	}
	if len(filter.ConversationIDs) > 0 {
		conds = append(conds, "conversation_id = ANY("+arg(filter.ConversationIDs)+")")
	}
	if len(filter.UserIDs) > 0 {
		conds = append(conds, "user_id = ANY("+arg(filter.UserIDs)+")")
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY message_id, created_at")

	rows, err := db.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list feedback events: %w", err)
	}
	defer rows.Close()
	return scanFeedbackEvents(rows)
}

// ListFeedbackByConversation returns every event recorded for a conversation.
func (db *DB) ListFeedbackByConversation(ctx context.Context, conversationID uuid.UUID) ([]model.FeedbackEvent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+feedbackColumns+` FROM feedback_events
		 WHERE conversation_id = $1 ORDER BY created_at`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("storage: list feedback by conversation: %w", err)
	}
	defer rows.Close()
	return scanFeedbackEvents(rows)
}

// InsertFeedbackEvents loads events using the COPY protocol. The pipeline
// itself never writes feedback; this exists for sample loaders and tests.
func (db *DB) InsertFeedbackEvents(ctx context.Context, events []model.FeedbackEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	columns := []string{"id", "message_id", "conversation_id", "user_id",
		"rating_accuracy", "rating_relevance", "rating_completeness", "rating_clarity",
		"binary_signal", "citation_score", "created_at", "response_generated_at"}

	copyRows := make([][]any, len(events))
	for i, e := range events {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		copyRows[i] = []any{
			e.ID, e.MessageID, e.ConversationID, e.UserID,
			e.Ratings.Accuracy, e.Ratings.Relevance, e.Ratings.Completeness, e.Ratings.Clarity,
			e.BinarySignal, e.CitationScore, e.CreatedAt.UTC(), e.ResponseGeneratedAt.UTC(),
		}
	}

	copyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	count, err := db.pool.CopyFrom(copyCtx,
		pgx.Identifier{"feedback_events"}, columns, pgx.CopyFromRows(copyRows))
	if err != nil {
		return 0, fmt.Errorf("storage: copy feedback events: %w", err)
	}
	return count, nil
}

func scanFeedbackEvents(rows pgx.Rows) ([]model.FeedbackEvent, error) {
	var out []model.FeedbackEvent
	for rows.Next() {
		var e model.FeedbackEvent
		if err := rows.Scan(
			&e.ID, &e.MessageID, &e.ConversationID, &e.UserID,
			&e.Ratings.Accuracy, &e.Ratings.Relevance, &e.Ratings.Completeness, &e.Ratings.Clarity,
			&e.BinarySignal, &e.CitationScore, &e.CreatedAt, &e.ResponseGeneratedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan feedback event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read feedback events: %w", err)
	}
	return out, nil
}
