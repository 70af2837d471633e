package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prmetrics/pr-history-service/internal/apperrors"
	"github.com/prmetrics/pr-history-service/internal/cache"
	"github.com/prmetrics/pr-history-service/internal/domain"
	"github.com/prmetrics/pr-history-service/internal/repository"
)

// CacheTTL is the lifetime of an assembled snapshot in the object cache.
// Snapshots are coarse day-bucket artifacts, so a short TTL keeps them fresh
// without thrashing the metadata store.
const CacheTTL = 5 * time.Minute

// Request describes one snapshot assembly. TimeFrom/TimeTo are the precise
// window; assembly internally widens them to day boundaries so that nearby
// requests share a cache entry, then trims back to the precise bounds.
type Request struct {
	TimeFrom time.Time
	TimeTo   time.Time

	// Repositories to assemble. Empty yields an empty snapshot.
	Repositories []string
	// Participants, Labels and IssueFilter are recorded in BuiltFor and
	// drive cached-superset reuse; they are not applied here except where
	// they can be pushed into the work-item query.
	Participants domain.Participants
	Labels       domain.LabelFilter
	IssueFilter  domain.IssueFilter

	// ExcludeInactive skips the merged-but-unreleased candidates, which are
	// only relevant when dormant items must stay visible.
	ExcludeInactive bool

	// ReleaseSettings is the per-repository release matching policy.
	ReleaseSettings domain.ReleaseSettings

	// Blacklist excludes these node ids before any fetch cost is paid.
	Blacklist []string

	// Truncate hides all evidence newer than TimeTo, turning the snapshot
	// into a strict "as of TimeTo" view.
	Truncate bool
}

// Assembler builds snapshots from the metadata store, memoizing the coarse
// intermediate result. A nil memoizer is not allowed; pass one built over a
// nil cache client for pass-through behavior.
type Assembler struct {
	repo     repository.MetadataRepository
	log      *slog.Logger
	memo     *cache.Memoizer[*Snapshot]
	maxItems int
}

// NewAssembler wires an Assembler. maxItems bounds the work-item set per
// assembly; zero means unbounded.
func NewAssembler(
	repo repository.MetadataRepository,
	log *slog.Logger,
	memo *cache.Memoizer[*Snapshot],
	maxItems int,
) *Assembler {
	return &Assembler{repo: repo, log: log, memo: memo, maxItems: maxItems}
}

// Assemble returns the snapshot for the request. The coarse day-bucket
// build is memoized; the cache key deliberately omits repositories,
// participants, labels and the issue filter, so a cached superset build can
// serve a narrower request after a compatibility check and a prune. The
// returned snapshot is always trimmed to the precise window.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Snapshot, error) {
	const op = "internal.snapshot.Assemble"

	if len(req.Repositories) == 0 || !req.TimeFrom.Before(req.TimeTo) {
		return New(req.TimeFrom, req.TimeTo), nil
	}

	dateFrom, dateTo := coarsenWindow(req.TimeFrom, req.TimeTo)

	blacklist := append([]string(nil), req.Blacklist...)
	sort.Strings(blacklist)

	keyParts := []string{
		strconv.FormatInt(dateFrom.Unix(), 10),
		strconv.FormatInt(dateTo.Unix(), 10),
		strconv.FormatBool(req.ExcludeInactive),
		strconv.FormatBool(req.Truncate),
		strconv.Itoa(a.maxItems),
		req.ReleaseSettings.CanonicalString(),
		strings.Join(blacklist, ","),
	}

	snap, err := a.memo.DoWith(ctx, op, keyParts,
		func(_ context.Context, cached *Snapshot) (*Snapshot, bool) {
			return a.narrow(cached, req)
		},
		func(ctx context.Context) (*Snapshot, error) {
			return a.build(ctx, req, dateFrom, dateTo)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if req.Truncate {
		snap.TruncateTimestamps(req.TimeTo)
	}

	a.trimToWindow(snap, req.TimeFrom, req.TimeTo)

	snap.TimeFrom = req.TimeFrom
	snap.TimeTo = req.TimeTo

	return snap, nil
}

// narrow decides whether a cached coarse build can serve the request. The
// cached build must cover a superset of the requested repositories and must
// have been assembled under filters no stricter than the request's. On
// acceptance the extra repositories are pruned and BuiltFor is rewritten;
// finer-grained filtering is the caller's business.
func (a *Assembler) narrow(cached *Snapshot, req Request) (*Snapshot, bool) {
	if cached == nil {
		return nil, false
	}

	built := cached.BuiltFor

	covered := make(map[string]struct{}, len(built.Repositories))
	for _, repo := range built.Repositories {
		covered[repo] = struct{}{}
	}

	wanted := make(map[string]struct{}, len(req.Repositories))

	for _, repo := range req.Repositories {
		if _, ok := covered[repo]; !ok {
			a.log.Debug("cached snapshot misses a repository, rebuilding",
				slog.String("repository", repo))

			return nil, false
		}

		wanted[repo] = struct{}{}
	}

	if !built.Participants.CompatibleWith(req.Participants) ||
		!built.Labels.CompatibleWith(req.Labels) ||
		!built.IssueFilter.CompatibleWith(req.IssueFilter) {
		return nil, false
	}

	drop := make(map[string]struct{})

	for id, item := range cached.WorkItems {
		if _, ok := wanted[item.Repository]; !ok {
			drop[id] = struct{}{}
		}
	}

	cached.Remove(drop)

	cached.BuiltFor = BuildParams{
		Repositories: req.Repositories,
		Participants: req.Participants,
		Labels:       req.Labels,
		IssueFilter:  req.IssueFilter,
	}

	return cached, true
}

// build assembles the coarse snapshot from scratch in two waves: the
// work-item candidates first, then the sub-entity fan-out over their ids.
func (a *Assembler) build(ctx context.Context, req Request, dateFrom, dateTo time.Time) (*Snapshot, error) {
	const op = "internal.snapshot.build"

	snap := New(dateFrom, dateTo)
	snap.BuiltFor = BuildParams{
		Repositories: req.Repositories,
		Participants: req.Participants,
		Labels:       req.Labels,
		IssueFilter:  req.IssueFilter,
	}

	var released, direct, unreleased []domain.WorkItem

	// Wave one, issued concurrently in descending cost order.
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		items, err := a.repo.SelectReleased(groupCtx,
			req.Repositories, dateFrom, dateTo, req.ReleaseSettings, req.Blacklist)
		if err != nil {
			return &apperrors.FetchFailedError{Entity: "released work items", Err: err}
		}

		released = items

		return nil
	})

	group.Go(func() error {
		items, err := a.repo.SelectWorkItems(groupCtx, repository.WorkItemQuery{
			TimeFrom:     dateFrom,
			TimeTo:       dateTo,
			Repositories: req.Repositories,
			Authors:      authorsOnly(req.Participants),
			IssueFilter:  req.IssueFilter,
			Blacklist:    req.Blacklist,
		})
		if err != nil {
			return &apperrors.FetchFailedError{Entity: "work items", Err: err}
		}

		direct = items

		return nil
	})

	if !req.ExcludeInactive {
		group.Go(func() error {
			items, err := a.repo.SelectMergedUnreleased(groupCtx,
				req.Repositories, dateFrom, req.Blacklist)
			if err != nil {
				return &apperrors.FetchFailedError{Entity: "merged unreleased work items", Err: err}
			}

			unreleased = items

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, wave := range [][]domain.WorkItem{released, direct, unreleased} {
		for _, item := range wave {
			snap.WorkItems[item.NodeID] = item
		}
	}

	a.limit(snap)

	if snap.Len() == 0 {
		return snap, nil
	}

	if err := a.fanOut(ctx, snap, req, dateTo); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	a.log.Debug("assembled snapshot",
		slog.Int("work_items", snap.Len()),
		slog.Time("date_from", dateFrom),
		slog.Time("date_to", dateTo))

	return snap, nil
}

// fanOut loads every sub-table for the snapshot's work item ids. The first
// failed fetch cancels the rest.
func (a *Assembler) fanOut(ctx context.Context, snap *Snapshot, req Request, dateTo time.Time) error {
	ids := snap.IDs()

	var horizon *time.Time
	if req.Truncate {
		horizon = &dateTo
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		rows, err := a.repo.SelectReviews(groupCtx, ids, horizon)
		if err != nil {
			return &apperrors.FetchFailedError{Entity: "reviews", Err: err}
		}

		for _, row := range rows {
			snap.Reviews[row.WorkItemID] = append(snap.Reviews[row.WorkItemID], row)
		}

		return nil
	})

	group.Go(func() error {
		rows, err := a.repo.SelectReviewComments(groupCtx, ids, horizon)
		if err != nil {
			return &apperrors.FetchFailedError{Entity: "review comments", Err: err}
		}

		for _, row := range rows {
			snap.ReviewComments[row.WorkItemID] = append(snap.ReviewComments[row.WorkItemID], row)
		}

		return nil
	})

	group.Go(func() error {
		rows, err := a.repo.SelectReviewRequests(groupCtx, ids, horizon)
		if err != nil {
			return &apperrors.FetchFailedError{Entity: "review requests", Err: err}
		}

		for _, row := range rows {
			snap.ReviewRequests[row.WorkItemID] = append(snap.ReviewRequests[row.WorkItemID], row)
		}

		return nil
	})

	group.Go(func() error {
		rows, err := a.repo.SelectIssueComments(groupCtx, ids, horizon)
		if err != nil {
			return &apperrors.FetchFailedError{Entity: "issue comments", Err: err}
		}

		for _, row := range rows {
			snap.IssueComments[row.WorkItemID] = append(snap.IssueComments[row.WorkItemID], row)
		}

		return nil
	})

	group.Go(func() error {
		rows, err := a.repo.SelectCommits(groupCtx, ids, horizon)
		if err != nil {
			return &apperrors.FetchFailedError{Entity: "commits", Err: err}
		}

		for _, row := range rows {
			snap.Commits[row.WorkItemID] = append(snap.Commits[row.WorkItemID], row)
		}

		return nil
	})

	group.Go(func() error {
		items := make([]domain.WorkItem, 0, len(ids))
		for _, id := range ids {
			items = append(items, snap.WorkItems[id])
		}

		rows, err := a.repo.SelectReleases(groupCtx, items, dateTo, req.ReleaseSettings)
		if err != nil {
			return &apperrors.FetchFailedError{Entity: "releases", Err: err}
		}

		for _, row := range rows {
			snap.Releases[row.WorkItemID] = row
		}

		return nil
	})

	group.Go(func() error {
		rows, err := a.repo.SelectLabels(groupCtx, ids)
		if err != nil {
			return &apperrors.FetchFailedError{Entity: "labels", Err: err}
		}

		for _, row := range rows {
			snap.Labels[row.WorkItemID] = append(snap.Labels[row.WorkItemID], row)
		}

		return nil
	})

	group.Go(func() error {
		rows, err := a.repo.SelectIssueLinks(groupCtx, ids)
		if err != nil {
			return &apperrors.FetchFailedError{Entity: "issue links", Err: err}
		}

		for _, row := range rows {
			snap.IssueLinks[row.WorkItemID] = append(snap.IssueLinks[row.WorkItemID], row)
		}

		return nil
	})

	return group.Wait()
}

// limit keeps the maxItems most recently updated work items. Ids break ties
// so the cut is deterministic.
func (a *Assembler) limit(snap *Snapshot) {
	if a.maxItems <= 0 || snap.Len() <= a.maxItems {
		return
	}

	ids := snap.IDs()

	sort.SliceStable(ids, func(i, j int) bool {
		left, right := snap.WorkItems[ids[i]], snap.WorkItems[ids[j]]
		if !left.UpdatedAt.Equal(right.UpdatedAt) {
			return left.UpdatedAt.After(right.UpdatedAt)
		}

		return ids[i] < ids[j]
	})

	drop := make(map[string]struct{}, len(ids)-a.maxItems)
	for _, id := range ids[a.maxItems:] {
		drop[id] = struct{}{}
	}

	snap.Remove(drop)

	a.log.Warn("work item set truncated to the configured maximum",
		slog.Int("max_items", a.maxItems), slog.Int("dropped", len(drop)))
}

// trimToWindow removes the coarsening slack: items that only qualified
// because the window was widened to day boundaries.
func (a *Assembler) trimToWindow(snap *Snapshot, timeFrom, timeTo time.Time) {
	drop := make(map[string]struct{})

	for id, item := range snap.WorkItems {
		if !item.CreatedAt.Before(timeTo) {
			drop[id] = struct{}{}
			continue
		}

		if release, ok := snap.Releases[id]; ok {
			if release.PublishedAt != nil && release.PublishedAt.Before(timeFrom) {
				drop[id] = struct{}{}
			}

			continue
		}

		if item.MergedAt == nil && item.ClosedAt != nil && item.ClosedAt.Before(timeFrom) {
			drop[id] = struct{}{}
		}
	}

	snap.Remove(drop)
}

// authorsOnly pushes the participant filter into the work-item query when
// the author role is the only one requested; any other role needs sub-entity
// evidence and must be filtered after assembly.
func authorsOnly(participants domain.Participants) []string {
	if len(participants) != 1 {
		return nil
	}

	return participants[domain.ParticipationKindAuthor]
}

// coarsenWindow widens the precise window to whole UTC days so that nearby
// requests hash to the same cache key.
func coarsenWindow(timeFrom, timeTo time.Time) (time.Time, time.Time) {
	const day = 24 * time.Hour

	dateFrom := timeFrom.UTC().Truncate(day)
	dateTo := timeTo.UTC().Truncate(day)

	if !dateTo.After(dateFrom) || timeTo.UTC().After(dateTo) {
		dateTo = dateTo.Add(day)
	}

	return dateFrom, dateTo
}
