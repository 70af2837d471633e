package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/prmetrics/pr-history-service/internal/domain"
)

// selectKeyed runs one sub-entity query: rows belonging to the given work
// item ids, created strictly before horizon when it is set. Every sub-entity
// table shares the (work_item_id, node_id) key and a created-like timestamp
// column, so the six exported selects below only differ by table, columns
// and destination type.
func selectKeyed[T any](
	ctx context.Context,
	m *Metadata,
	op, table, timeColumn string,
	columns []string,
	ids []string,
	horizon *time.Time,
) ([]T, error) {
	if len(ids) == 0 {
		return []T{}, nil
	}

	queryBuilder := m.sq.Select(columns...).
		From(table).
		Where(sq.Eq{"work_item_id": ids})

	if horizon != nil {
		queryBuilder = queryBuilder.Where(sq.Lt{timeColumn: *horizon})
	}

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var rows []T
	if err := m.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	return rows, nil
}

func (m *Metadata) SelectReviews(ctx context.Context, ids []string, horizon *time.Time) ([]domain.Review, error) {
	const op = "internal.repository.postgres.SelectReviews"

	return selectKeyed[domain.Review](ctx, m, op, "reviews", "submitted_at",
		[]string{"work_item_id", "node_id", "submitted_at", "state", "user_id", "user_login"},
		ids, horizon)
}

func (m *Metadata) SelectReviewComments(ctx context.Context, ids []string, horizon *time.Time) ([]domain.ReviewComment, error) {
	const op = "internal.repository.postgres.SelectReviewComments"

	return selectKeyed[domain.ReviewComment](ctx, m, op, "review_comments", "created_at",
		[]string{"work_item_id", "node_id", "created_at", "user_id"},
		ids, horizon)
}

func (m *Metadata) SelectReviewRequests(ctx context.Context, ids []string, horizon *time.Time) ([]domain.ReviewRequest, error) {
	const op = "internal.repository.postgres.SelectReviewRequests"

	return selectKeyed[domain.ReviewRequest](ctx, m, op, "review_requests", "created_at",
		[]string{"work_item_id", "node_id", "created_at"},
		ids, horizon)
}

func (m *Metadata) SelectIssueComments(ctx context.Context, ids []string, horizon *time.Time) ([]domain.IssueComment, error) {
	const op = "internal.repository.postgres.SelectIssueComments"

	return selectKeyed[domain.IssueComment](ctx, m, op, "issue_comments", "created_at",
		[]string{"work_item_id", "node_id", "created_at", "user_id", "user_login"},
		ids, horizon)
}

func (m *Metadata) SelectCommits(ctx context.Context, ids []string, horizon *time.Time) ([]domain.Commit, error) {
	const op = "internal.repository.postgres.SelectCommits"

	return selectKeyed[domain.Commit](ctx, m, op, "commits", "committed_at",
		[]string{"work_item_id", "node_id", "authored_at", "committed_at", "author_login", "committer_login"},
		ids, horizon)
}

func (m *Metadata) SelectLabels(ctx context.Context, ids []string) ([]domain.WorkItemLabel, error) {
	const op = "internal.repository.postgres.SelectLabels"

	return selectKeyed[domain.WorkItemLabel](ctx, m, op, "work_item_labels", "",
		[]string{"work_item_id", "name"},
		ids, nil)
}

func (m *Metadata) SelectIssueLinks(ctx context.Context, ids []string) ([]domain.IssueLink, error) {
	const op = "internal.repository.postgres.SelectIssueLinks"

	return selectKeyed[domain.IssueLink](ctx, m, op, "issue_links", "",
		[]string{"work_item_id", "issue_key", "epic_key", "issue_type", "labels"},
		ids, nil)
}
