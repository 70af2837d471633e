package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/prmetrics/pr-history-service/internal/domain"
	"github.com/prmetrics/pr-history-service/internal/repository"
)

var workItemColumns = []string{
	"node_id", "repository_full_name", "number", "title",
	"author_id", "author_login", "created_at", "updated_at",
	"closed_at", "merged_at", "merged_by", "additions", "deletions", "changed_files", "hidden",
}

// SelectWorkItems runs the direct work-item query: active inside the window,
// in the repository set, optionally restricted by author and issue filter,
// with the blacklist excluded at the query level.
func (m *Metadata) SelectWorkItems(ctx context.Context, q repository.WorkItemQuery) ([]domain.WorkItem, error) {
	const op = "internal.repository.postgres.SelectWorkItems"

	if len(q.Repositories) == 0 || !q.TimeFrom.Before(q.TimeTo) {
		return []domain.WorkItem{}, nil
	}

	window := sq.Or{
		sq.And{
			sq.GtOrEq{"wi.updated_at": q.TimeFrom},
			sq.LtOrEq{"wi.updated_at": q.TimeTo},
		},
		sq.And{
			sq.Or{
				sq.Eq{"wi.closed_at": nil},
				sq.Gt{"wi.closed_at": q.TimeFrom},
			},
			sq.Lt{"wi.created_at": q.TimeTo},
		},
	}

	queryBuilder := m.sq.Select(prefixColumns("wi", workItemColumns)...).
		From("work_items wi").
		Where(window).
		Where(sq.Eq{"wi.repository_full_name": q.Repositories, "wi.hidden": false})

	if len(q.Authors) > 0 {
		queryBuilder = queryBuilder.Where(sq.Eq{"wi.author_id": q.Authors})
	}

	if len(q.Blacklist) > 0 {
		queryBuilder = queryBuilder.Where(sq.NotEq{"wi.node_id": q.Blacklist})
	}

	if !q.IssueFilter.IsEmpty() {
		queryBuilder = m.applyIssueFilter(queryBuilder, q.IssueFilter)
	}

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var items []domain.WorkItem
	if err := m.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	return items, nil
}

// SelectMergedUnreleased returns items merged at or after timeFrom with no
// matched release row.
func (m *Metadata) SelectMergedUnreleased(ctx context.Context, repos []string, timeFrom time.Time, blacklist []string) ([]domain.WorkItem, error) {
	const op = "internal.repository.postgres.SelectMergedUnreleased"

	if len(repos) == 0 {
		return []domain.WorkItem{}, nil
	}

	queryBuilder := m.sq.Select(prefixColumns("wi", workItemColumns)...).
		From("work_items wi").
		LeftJoin("releases r ON r.work_item_id = wi.node_id").
		Where(sq.Eq{"wi.repository_full_name": repos, "wi.hidden": false}).
		Where(sq.NotEq{"wi.merged_at": nil}).
		Where(sq.GtOrEq{"wi.merged_at": timeFrom}).
		Where(sq.Eq{"r.work_item_id": nil})

	if len(blacklist) > 0 {
		queryBuilder = queryBuilder.Where(sq.NotEq{"wi.node_id": blacklist})
	}

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var items []domain.WorkItem
	if err := m.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	return items, nil
}

// applyIssueFilter pushes the issue-tracker criteria down to the work-item
// query. Postgres gets a single array-overlap join; sqlite cannot do array
// aggregation, so it falls back to per-label LIKE subqueries. Both
// strategies select the same rows.
func (m *Metadata) applyIssueFilter(b sq.SelectBuilder, filter domain.IssueFilter) sq.SelectBuilder {
	b = b.Join("issue_links il ON il.work_item_id = wi.node_id")

	if len(filter.Epics) > 0 {
		b = b.Where(sq.Eq{"LOWER(il.epic_key)": setToSlice(filter.Epics)})
	}

	if len(filter.IssueTypes) > 0 {
		b = b.Where(sq.Eq{"LOWER(il.issue_type)": setToSlice(filter.IssueTypes)})
	}

	include, groups := filter.Labels.Singletons()
	for label := range include {
		groups = append(groups, []string{label})
	}

	if len(groups) > 0 {
		or := make(sq.Or, 0, len(groups))
		for _, group := range groups {
			and := make(sq.And, 0, len(group))
			for _, label := range group {
				and = append(and, m.issueLabelMatch(label))
			}

			or = append(or, and)
		}

		b = b.Where(or)
	}

	for label := range filter.Labels.Exclude {
		b = b.Where(notExpr{m.issueLabelMatch(label)})
	}

	return b
}

func (m *Metadata) issueLabelMatch(label string) sq.Sqlizer {
	if m.dialect == DialectPostgres {
		return sq.Expr("? = ANY(string_to_array(LOWER(il.labels), ','))", label)
	}

	// feature-limited backend: emulate set membership over the
	// comma-separated column
	return sq.Expr("(',' || LOWER(il.labels) || ',') LIKE ?", "%,"+label+",%")
}

type notExpr struct {
	sq.Sqlizer
}

func (n notExpr) ToSql() (string, []interface{}, error) {
	query, args, err := n.Sqlizer.ToSql()
	if err != nil {
		return "", nil, err
	}

	return fmt.Sprintf("NOT (%s)", query), args, nil
}

func prefixColumns(prefix string, columns []string) []string {
	prefixed := make([]string, len(columns))
	for i, c := range columns {
		prefixed[i] = prefix + "." + c
	}

	return prefixed
}

func setToSlice(set map[string]struct{}) []string {
	values := make([]string, 0, len(set))
	for v := range set {
		values = append(values, strings.ToLower(v))
	}

	return values
}
