// Package snapshot assembles one internally consistent "as of time T" view
// of a repository set's work items and every linked sub-entity.
package snapshot

import (
	"sort"
	"time"

	"github.com/prmetrics/pr-history-service/internal/domain"
)

// Snapshot is a named bundle of tables rooted at the work-item table. Every
// sub-table's first index level is a subset of the work-item ids; removing a
// work item cascades through all of them. BuiltFor records the request the
// snapshot was assembled under, which is what lets a cached superset serve a
// narrower request.
type Snapshot struct {
	TimeFrom time.Time
	TimeTo   time.Time

	WorkItems      map[string]domain.WorkItem
	Reviews        map[string][]domain.Review
	ReviewComments map[string][]domain.ReviewComment
	ReviewRequests map[string][]domain.ReviewRequest
	IssueComments  map[string][]domain.IssueComment
	Commits        map[string][]domain.Commit
	Releases       map[string]domain.Release
	Labels         map[string][]domain.WorkItemLabel
	IssueLinks     map[string][]domain.IssueLink

	BuiltFor BuildParams
}

// BuildParams are the narrowing-relevant arguments the snapshot was built
// under.
type BuildParams struct {
	Repositories []string
	Participants domain.Participants
	Labels       domain.LabelFilter
	IssueFilter  domain.IssueFilter
}

// New returns an empty snapshot for the given precise window.
func New(timeFrom, timeTo time.Time) *Snapshot {
	return &Snapshot{
		TimeFrom:       timeFrom,
		TimeTo:         timeTo,
		WorkItems:      map[string]domain.WorkItem{},
		Reviews:        map[string][]domain.Review{},
		ReviewComments: map[string][]domain.ReviewComment{},
		ReviewRequests: map[string][]domain.ReviewRequest{},
		IssueComments:  map[string][]domain.IssueComment{},
		Commits:        map[string][]domain.Commit{},
		Releases:       map[string]domain.Release{},
		Labels:         map[string][]domain.WorkItemLabel{},
		IssueLinks:     map[string][]domain.IssueLink{},
	}
}

// IDs returns the work item ids in deterministic order.
func (s *Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.WorkItems))
	for id := range s.WorkItems {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

func (s *Snapshot) Len() int {
	return len(s.WorkItems)
}

// Remove drops the given work item ids and cascades through every sub-table.
func (s *Snapshot) Remove(ids map[string]struct{}) {
	for id := range ids {
		delete(s.WorkItems, id)
		delete(s.Reviews, id)
		delete(s.ReviewComments, id)
		delete(s.ReviewRequests, id)
		delete(s.IssueComments, id)
		delete(s.Commits, id)
		delete(s.Releases, id)
		delete(s.Labels, id)
		delete(s.IssueLinks, id)
	}
}

// TruncateTimestamps nulls out every timestamp after the horizon so that no
// future information leaks into the past view. Release rows published after
// the horizon are dropped entirely; a release without its timestamp means
// nothing.
func (s *Snapshot) TruncateTimestamps(horizon time.Time) {
	for id, item := range s.WorkItems {
		changed := false

		if item.ClosedAt != nil && item.ClosedAt.After(horizon) {
			item.ClosedAt = nil
			changed = true
		}

		if item.MergedAt != nil && item.MergedAt.After(horizon) {
			item.MergedAt = nil
			changed = true
		}

		// UpdatedAt is not nullable, so a future value is capped to the
		// horizon instead of cleared. An exact-horizon UpdatedAt therefore
		// means "updated at or after the horizon", not a real update time.
		if item.UpdatedAt.After(horizon) {
			item.UpdatedAt = horizon
			changed = true
		}

		if changed {
			s.WorkItems[id] = item
		}
	}

	for id, reviews := range s.Reviews {
		for i := range reviews {
			reviews[i].SubmittedAt = truncate(reviews[i].SubmittedAt, horizon)
		}

		s.Reviews[id] = reviews
	}

	for id, comments := range s.ReviewComments {
		for i := range comments {
			comments[i].CreatedAt = truncate(comments[i].CreatedAt, horizon)
		}

		s.ReviewComments[id] = comments
	}

	for id, requests := range s.ReviewRequests {
		for i := range requests {
			requests[i].CreatedAt = truncate(requests[i].CreatedAt, horizon)
		}

		s.ReviewRequests[id] = requests
	}

	for id, comments := range s.IssueComments {
		for i := range comments {
			comments[i].CreatedAt = truncate(comments[i].CreatedAt, horizon)
		}

		s.IssueComments[id] = comments
	}

	for id, commits := range s.Commits {
		for i := range commits {
			commits[i].AuthoredAt = truncate(commits[i].AuthoredAt, horizon)
			commits[i].CommittedAt = truncate(commits[i].CommittedAt, horizon)
		}

		s.Commits[id] = commits
	}

	for id, release := range s.Releases {
		if release.PublishedAt != nil && release.PublishedAt.After(horizon) {
			delete(s.Releases, id)
		}
	}
}

func truncate(t *time.Time, horizon time.Time) *time.Time {
	if t != nil && t.After(horizon) {
		return nil
	}

	return t
}

// ItemView joins one work item with its sub-table rows for fact extraction.
type ItemView struct {
	Item           domain.WorkItem
	Reviews        []domain.Review
	ReviewComments []domain.ReviewComment
	ReviewRequests []domain.ReviewRequest
	IssueComments  []domain.IssueComment
	Commits        []domain.Commit
	Release        *domain.Release
	Labels         []domain.WorkItemLabel
	IssueLinks     []domain.IssueLink
}

// View materializes the joined view of one work item; ok is false when the
// id is not in the snapshot.
func (s *Snapshot) View(id string) (ItemView, bool) {
	item, ok := s.WorkItems[id]
	if !ok {
		return ItemView{}, false
	}

	view := ItemView{
		Item:           item,
		Reviews:        s.Reviews[id],
		ReviewComments: s.ReviewComments[id],
		ReviewRequests: s.ReviewRequests[id],
		IssueComments:  s.IssueComments[id],
		Commits:        s.Commits[id],
		Labels:         s.Labels[id],
		IssueLinks:     s.IssueLinks[id],
	}

	if release, ok := s.Releases[id]; ok {
		view.Release = &release
	}

	return view, true
}
