// Package facts derives the canonical lifecycle timestamps of one work item
// from its snapshot view. Extraction is a pure per-item reduction; records
// whose derived timestamps contradict each other are rejected, never fixed.
package facts

import (
	"strings"
	"time"

	"github.com/prmetrics/pr-history-service/internal/apperrors"
	"github.com/prmetrics/pr-history-service/internal/domain"
	"github.com/prmetrics/pr-history-service/internal/snapshot"
)

// Facts is the immutable lifecycle record of one work item. Every timestamp
// is a Fallback: absent states are explicit and several fields carry a
// computed plan B.
type Facts struct {
	WorkItemID string

	Created                     domain.Fallback
	FirstCommit                 domain.Fallback
	LastCommitBeforeFirstReview domain.Fallback
	LastCommit                  domain.Fallback
	Merged                      domain.Fallback
	FirstCommentOnFirstReview   domain.Fallback
	FirstReviewRequest          domain.Fallback
	LastReview                  domain.Fallback
	Approved                    domain.Fallback
	FirstPassedChecks           domain.Fallback
	LastPassedChecks            domain.Fallback
	Released                    domain.Fallback
	Closed                      domain.Fallback

	// ChangeSize is additions plus deletions.
	ChangeSize int
	// ForcePushDropped is set when commit history was rewritten under the
	// item: the last commit a reviewer saw predates the earliest surviving
	// authored commit.
	ForcePushDropped bool
}

// WorkBegan is when work observably started: the earlier of creation and the
// first commit, which may predate the item itself.
func (f Facts) WorkBegan() domain.Fallback {
	return domain.MinFallback(f.Created, f.FirstCommit)
}

// Extract compiles the Facts of one work item view. bots holds lowercase
// logins whose comments never count as review activity. The returned error,
// when not nil, is an *apperrors.ImpossibleWorkItemError and means the item
// must be dropped from the batch, not that the batch failed.
func Extract(view snapshot.ItemView, bots map[string]struct{}) (Facts, error) {
	item := view.Item

	created := domain.NewFallback(&item.CreatedAt)
	merged := domain.NewFallback(item.MergedAt)
	closed := domain.NewFallback(item.ClosedAt)

	// Merge implies closure even when the closing event was never recorded.
	if !closed.Defined() && merged.Defined() {
		closed = domain.NewFallback(merged.Value())
	}

	firstCommit := domain.NewFallback(minOf(view.Commits,
		func(c domain.Commit) *time.Time { return c.AuthoredAt }))
	lastCommit := domain.NewFallback(maxOf(view.Commits,
		func(c domain.Commit) *time.Time { return c.CommittedAt }))

	externalComments := externalCommentTimes(view, bots)

	firstComment := domain.MinTime(
		minOf(view.ReviewComments,
			func(c domain.ReviewComment) *time.Time { return c.CreatedAt }),
		minOf(view.Reviews,
			func(r domain.Review) *time.Time { return r.SubmittedAt }),
		domain.MinTime(externalComments...),
	)
	if closed.Defined() && firstComment != nil && firstComment.After(*closed.Best()) {
		firstComment = nil
	}

	firstCommentOnFirstReview := domain.NewFallbackWithBackup(firstComment, merged)

	var (
		lastCommitBeforeFirstReview domain.Fallback
		reviewRequestBackup         domain.Fallback
		hasRequestBackup            bool
		forcePushDropped            bool
	)

	if firstCommentOnFirstReview.Defined() {
		reviewHorizon := *firstCommentOnFirstReview.Best()

		lastSeenCommit := maxOf(view.Commits, func(c domain.Commit) *time.Time {
			if c.CommittedAt == nil || c.CommittedAt.After(reviewHorizon) {
				return nil
			}

			return c.CommittedAt
		})
		lastCommitBeforeFirstReview = domain.NewFallbackWithBackup(
			lastSeenCommit, firstCommentOnFirstReview)

		// A reviewed commit older than the earliest surviving one means the
		// history between them was force-pushed away.
		if firstCommit.Defined() && lastCommitBeforeFirstReview.Before(firstCommit) {
			forcePushDropped = true
		}

		firstCommit = domain.MinFallback(firstCommit, lastCommitBeforeFirstReview)
		lastCommit = domain.MaxFallback(lastCommit, firstCommit)

		reviewRequestBackup = domain.MinFallback(
			domain.MaxFallback(created, lastCommitBeforeFirstReview),
			firstCommentOnFirstReview)
		hasRequestBackup = true
	} else {
		lastCommitBeforeFirstReview = domain.AbsentFallback()
	}

	firstRequestAt := minOf(view.ReviewRequests,
		func(r domain.ReviewRequest) *time.Time { return r.CreatedAt })

	var firstReviewRequest domain.Fallback

	switch {
	case hasRequestBackup && firstRequestAt != nil &&
		firstRequestAt.After(*firstCommentOnFirstReview.Best()):
		// A review cannot be requested after a review was already received.
		firstReviewRequest = domain.NewFallback(reviewRequestBackup.Best())
	case hasRequestBackup:
		firstReviewRequest = domain.NewFallbackWithBackup(firstRequestAt, reviewRequestBackup)
	default:
		firstReviewRequest = domain.NewFallback(firstRequestAt)
	}

	// Nor can it precede the last commit the reviewer could have seen.
	if lastCommitBeforeFirstReview.Value() != nil && firstReviewRequest.Defined() &&
		lastCommitBeforeFirstReview.After(firstReviewRequest) {
		firstReviewRequest = domain.NewFallbackWithBackup(
			lastCommitBeforeFirstReview.Value(), firstReviewRequest)
	}

	var lastReview domain.Fallback

	if closed.Defined() {
		closedAt := *closed.Best()

		lastReview = domain.NewFallbackWithBackup(
			maxOf(view.Reviews, func(r domain.Review) *time.Time {
				if r.SubmittedAt == nil || r.SubmittedAt.After(closedAt) {
					return nil
				}

				return r.SubmittedAt
			}),
			domain.NewFallback(domain.MaxTime(filterBefore(externalComments, closedAt)...)),
		)
	} else {
		lastReview = domain.NewFallbackWithBackup(
			maxOf(view.Reviews,
				func(r domain.Review) *time.Time { return r.SubmittedAt }),
			domain.NewFallback(domain.MaxTime(externalComments...)),
		)
	}

	approved := approvalTime(view.Reviews, merged, closed)

	released := domain.AbsentFallback()
	if view.Release != nil && !forcePushDropped {
		released = domain.NewFallback(view.Release.PublishedAt)
	}

	result := Facts{
		WorkItemID:                  item.NodeID,
		Created:                     created,
		FirstCommit:                 firstCommit,
		LastCommitBeforeFirstReview: lastCommitBeforeFirstReview,
		LastCommit:                  lastCommit,
		Merged:                      merged,
		FirstCommentOnFirstReview:   firstCommentOnFirstReview,
		FirstReviewRequest:          firstReviewRequest,
		LastReview:                  lastReview,
		Approved:                    approved,
		FirstPassedChecks:           domain.AbsentFallback(),
		LastPassedChecks:            domain.AbsentFallback(),
		Released:                    released,
		Closed:                      closed,
		ChangeSize:                  item.Additions + item.Deletions,
		ForcePushDropped:            forcePushDropped,
	}

	if err := validate(result); err != nil {
		return Facts{}, err
	}

	return result, nil
}

// approvalTime resolves the approval timestamp from the reviews submitted at
// or before the merge. Each reviewer speaks with their most recent
// substantive review; one standing objection suppresses approval entirely.
func approvalTime(reviews []domain.Review, merged, closed domain.Fallback) domain.Fallback {
	latest := make(map[string]domain.Review)

	for _, review := range reviews {
		if review.SubmittedAt == nil || review.State == domain.ReviewStateCommented {
			continue
		}

		if merged.Defined() && review.SubmittedAt.After(*merged.Best()) {
			continue
		}

		current, ok := latest[review.UserID]
		if !ok || review.SubmittedAt.After(*current.SubmittedAt) {
			latest[review.UserID] = review
		}
	}

	var approvedAt *time.Time

	for _, review := range latest {
		if review.State == domain.ReviewStateChangesRequested {
			return domain.AbsentFallback()
		}

		if review.State == domain.ReviewStateApproved {
			approvedAt = domain.MaxTime(approvedAt, review.SubmittedAt)
		}
	}

	if approvedAt != nil && closed.Defined() && approvedAt.After(*closed.Best()) {
		approvedAt = closed.Best()
	}

	return domain.NewFallback(approvedAt)
}

// externalCommentTimes collects issue comment timestamps excluding the
// item's own author and known bots.
func externalCommentTimes(view snapshot.ItemView, bots map[string]struct{}) []*time.Time {
	times := make([]*time.Time, 0, len(view.IssueComments))

	for _, comment := range view.IssueComments {
		if comment.UserID == view.Item.AuthorID {
			continue
		}

		if _, bot := bots[strings.ToLower(comment.UserLogin)]; bot {
			continue
		}

		times = append(times, comment.CreatedAt)
	}

	return times
}

func validate(f Facts) error {
	if f.Closed.Defined() {
		closedAt := *f.Closed.Best()

		if f.LastCommit.Defined() && f.LastCommit.Best().After(closedAt) {
			return &apperrors.ImpossibleWorkItemError{
				NodeID: f.WorkItemID,
				Reason: "last commit is after the closing timestamp",
			}
		}

		if f.Created.Best().After(closedAt) {
			return &apperrors.ImpossibleWorkItemError{
				NodeID: f.WorkItemID,
				Reason: "created after the closing timestamp",
			}
		}
	}

	if f.Merged.Defined() && f.Released.Defined() && f.Merged.After(f.Released) {
		return &apperrors.ImpossibleWorkItemError{
			NodeID: f.WorkItemID,
			Reason: "merged after the matched release",
		}
	}

	return nil
}

func minOf[T any](rows []T, at func(T) *time.Time) *time.Time {
	var min *time.Time

	for _, row := range rows {
		t := at(row)
		if t == nil {
			continue
		}

		if min == nil || t.Before(*min) {
			min = t
		}
	}

	if min == nil {
		return nil
	}

	c := *min

	return &c
}

func maxOf[T any](rows []T, at func(T) *time.Time) *time.Time {
	var max *time.Time

	for _, row := range rows {
		t := at(row)
		if t == nil {
			continue
		}

		if max == nil || t.After(*max) {
			max = t
		}
	}

	if max == nil {
		return nil
	}

	c := *max

	return &c
}

func filterBefore(times []*time.Time, bound time.Time) []*time.Time {
	kept := make([]*time.Time, 0, len(times))

	for _, t := range times {
		if t != nil && t.Before(bound) {
			kept = append(kept, t)
		}
	}

	return kept
}
