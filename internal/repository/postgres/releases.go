package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/prmetrics/pr-history-service/internal/domain"
)

// releaseRow is the raw releases-table row before policy matching.
type releaseRow struct {
	NodeID      string     `db:"node_id"`
	Repository  string     `db:"repository_full_name"`
	Tag         string     `db:"tag"`
	Branch      string     `db:"branch"`
	PublishedAt *time.Time `db:"published_at"`
	URL         string     `db:"url"`
	Author      string     `db:"author"`
}

// SelectReleases maps each merged work item to its release. The raw release
// rows for the repository set are fetched up to timeTo, then matched in
// memory: the earliest release published after the item's merge whose tag or
// branch satisfies the repository's policy wins. At most one row per item.
func (m *Metadata) SelectReleases(ctx context.Context, items []domain.WorkItem, timeTo time.Time, settings domain.ReleaseSettings) ([]domain.Release, error) {
	const op = "internal.repository.postgres.SelectReleases"

	merged := make([]domain.WorkItem, 0, len(items))
	repoSet := make(map[string]struct{})

	for _, item := range items {
		if item.MergedAt == nil {
			continue
		}

		merged = append(merged, item)
		repoSet[item.Repository] = struct{}{}
	}

	if len(merged) == 0 {
		return []domain.Release{}, nil
	}

	repos := make([]string, 0, len(repoSet))
	for repo := range repoSet {
		repos = append(repos, repo)
	}

	query, args, err := m.sq.Select(
		"node_id", "repository_full_name", "tag", "branch", "published_at", "url", "author",
	).
		From("releases_feed").
		Where(sq.Eq{"repository_full_name": repos}).
		Where(sq.LtOrEq{"published_at": timeTo}).
		OrderBy("published_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var rows []releaseRow
	if err := m.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	byRepo := make(map[string][]releaseRow, len(repoSet))
	for _, row := range rows {
		byRepo[row.Repository] = append(byRepo[row.Repository], row)
	}

	releases := make([]domain.Release, 0, len(merged))

	for _, item := range merged {
		setting := settings[item.Repository]

		for _, row := range byRepo[item.Repository] {
			if row.PublishedAt == nil || row.PublishedAt.Before(*item.MergedAt) {
				continue
			}

			if !m.matchRelease(row, setting) {
				continue
			}

			releases = append(releases, domain.Release{
				WorkItemID:  item.NodeID,
				NodeID:      row.NodeID,
				PublishedAt: row.PublishedAt,
				URL:         row.URL,
				Author:      row.Author,
			})

			break
		}
	}

	return releases, nil
}

// SelectReleased returns the work items whose matched release was published
// inside [timeFrom, timeTo]. Candidate merged items and the release feed are
// fetched separately and matched in memory with the same policy logic as
// SelectReleases, which keeps the SQL portable across dialects.
func (m *Metadata) SelectReleased(ctx context.Context, repos []string, timeFrom, timeTo time.Time, settings domain.ReleaseSettings, blacklist []string) ([]domain.WorkItem, error) {
	const op = "internal.repository.postgres.SelectReleased"

	if len(repos) == 0 || !timeFrom.Before(timeTo) {
		return []domain.WorkItem{}, nil
	}

	queryBuilder := m.sq.Select(workItemColumns...).
		From("work_items").
		Where(sq.Eq{"repository_full_name": repos, "hidden": false}).
		Where(sq.NotEq{"merged_at": nil}).
		Where(sq.LtOrEq{"merged_at": timeTo})

	if len(blacklist) > 0 {
		queryBuilder = queryBuilder.Where(sq.NotEq{"node_id": blacklist})
	}

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var candidates []domain.WorkItem
	if err := m.db.SelectContext(ctx, &candidates, query, args...); err != nil {
		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	releases, err := m.SelectReleases(ctx, candidates, timeTo, settings)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to match releases: %w", op, err)
	}

	releasedIn := make(map[string]struct{}, len(releases))

	for _, release := range releases {
		if release.PublishedAt == nil || release.PublishedAt.Before(timeFrom) {
			continue
		}

		releasedIn[release.WorkItemID] = struct{}{}
	}

	items := make([]domain.WorkItem, 0, len(releasedIn))

	for _, item := range candidates {
		if _, ok := releasedIn[item.NodeID]; ok {
			items = append(items, item)
		}
	}

	return items, nil
}

// matchRelease applies the opaque per-repository policy to one release row.
func (m *Metadata) matchRelease(row releaseRow, setting domain.ReleaseMatchSetting) bool {
	matchTag := func() bool {
		if setting.TagPattern == "" {
			return row.Tag != ""
		}

		ok, err := path.Match(setting.TagPattern, row.Tag)
		if err != nil {
			m.log.Warn("bad release tag pattern",
				slog.String("pattern", setting.TagPattern), slog.String("repo", row.Repository))

			return false
		}

		return ok
	}

	matchBranch := func() bool {
		if setting.BranchPattern == "" {
			return row.Branch != ""
		}

		ok, err := path.Match(setting.BranchPattern, row.Branch)
		if err != nil {
			m.log.Warn("bad release branch pattern",
				slog.String("pattern", setting.BranchPattern), slog.String("repo", row.Repository))

			return false
		}

		return ok
	}

	switch setting.Match {
	case domain.ReleaseMatchTag:
		return matchTag()
	case domain.ReleaseMatchBranch:
		return matchBranch()
	case domain.ReleaseMatchTagOrBranch, "":
		return matchTag() || matchBranch()
	}

	return false
}
