// package repository defines the interfaces for the read-only metadata store.
// These interfaces abstract the underlying database implementation from the
// snapshot assembly layer.
package repository

import (
	"context"
	"time"

	"github.com/prmetrics/pr-history-service/internal/domain"
)

// WorkItemQuery describes the direct work-item selection.
type WorkItemQuery struct {
	// TimeFrom/TimeTo bound the activity window: an item qualifies when it
	// was updated inside the window, or was still open past TimeFrom and
	// created before TimeTo.
	TimeFrom time.Time
	TimeTo   time.Time
	// Repositories the items must belong to. Empty yields no rows.
	Repositories []string
	// Authors restricts items to these author identities. Empty means everybody.
	Authors []string
	// IssueFilter, when non-empty, restricts items to those linked to issues
	// matching it. The matching strategy depends on the backend dialect; the
	// result does not.
	IssueFilter domain.IssueFilter
	// Blacklist excludes these node ids at the query level, before any fetch
	// cost is paid.
	Blacklist []string
}

// MetadataRepository is the read-only boundary to the upstream metadata
// store. All Select* methods short-circuit to an empty result on an empty
// repository or id set without touching the database.
type MetadataRepository interface {
	// SelectWorkItems runs the direct work-item query.
	SelectWorkItems(ctx context.Context, q WorkItemQuery) ([]domain.WorkItem, error)

	// SelectReleased returns items whose matched release was published inside
	// [timeFrom, timeTo] under the given per-repository policy. This is the
	// heaviest query of an assembly and is issued first.
	SelectReleased(ctx context.Context, repos []string, timeFrom, timeTo time.Time, settings domain.ReleaseSettings, blacklist []string) ([]domain.WorkItem, error)

	// SelectMergedUnreleased returns items merged at or after timeFrom that
	// have no matched release row yet, i.e. items that may still be "active"
	// relative to the window.
	SelectMergedUnreleased(ctx context.Context, repos []string, timeFrom time.Time, blacklist []string) ([]domain.WorkItem, error)

	// SelectReviews returns review rows for the given work item ids created
	// strictly before horizon. A nil horizon means no bound.
	SelectReviews(ctx context.Context, ids []string, horizon *time.Time) ([]domain.Review, error)

	SelectReviewComments(ctx context.Context, ids []string, horizon *time.Time) ([]domain.ReviewComment, error)

	SelectReviewRequests(ctx context.Context, ids []string, horizon *time.Time) ([]domain.ReviewRequest, error)

	SelectIssueComments(ctx context.Context, ids []string, horizon *time.Time) ([]domain.IssueComment, error)

	SelectCommits(ctx context.Context, ids []string, horizon *time.Time) ([]domain.Commit, error)

	// SelectReleases matches each merged work item to its release according
	// to the per-repository release policy. At most one row per work item.
	SelectReleases(ctx context.Context, items []domain.WorkItem, timeTo time.Time, settings domain.ReleaseSettings) ([]domain.Release, error)

	SelectLabels(ctx context.Context, ids []string) ([]domain.WorkItemLabel, error)

	SelectIssueLinks(ctx context.Context, ids []string) ([]domain.IssueLink, error)
}
