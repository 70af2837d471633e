// Package filter prunes an assembled snapshot by participant role, label and
// issue-tracker criteria using pure index set algebra. Every function
// returns the set of work-item ids to drop; Apply removes the union and
// cascades through all sub-tables.
package filter

import (
	"strings"
	"time"

	"github.com/prmetrics/pr-history-service/internal/domain"
	"github.com/prmetrics/pr-history-service/internal/snapshot"
)

// ByParticipants computes the ids to drop so that only items where at least
// one requested role matches survive. Reviewer matching excludes the item's
// own author. A non-nil cutoff bounds the considered sub-entity timestamps.
// An empty participants map keeps everything.
func ByParticipants(s *snapshot.Snapshot, participants domain.Participants, cutoff *time.Time) map[string]struct{} {
	if len(participants) == 0 {
		return map[string]struct{}{}
	}

	keep := make(map[string]struct{}, len(s.WorkItems))

	for kind, ids := range participants {
		wanted := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			wanted[id] = struct{}{}
		}

		collectRole(s, kind, wanted, cutoff, keep)
	}

	drop := make(map[string]struct{})

	for id := range s.WorkItems {
		if _, ok := keep[id]; !ok {
			drop[id] = struct{}{}
		}
	}

	return drop
}

func collectRole(
	s *snapshot.Snapshot,
	kind domain.ParticipationKind,
	wanted map[string]struct{},
	cutoff *time.Time,
	keep map[string]struct{},
) {
	inSet := func(id string) bool {
		_, ok := wanted[id]
		return ok
	}

	within := func(t *time.Time) bool {
		if cutoff == nil {
			return t != nil
		}

		return t != nil && !t.After(*cutoff)
	}

	switch kind {
	case domain.ParticipationKindAuthor:
		for id, item := range s.WorkItems {
			if inSet(item.AuthorID) || inSet(item.AuthorLogin) {
				keep[id] = struct{}{}
			}
		}
	case domain.ParticipationKindMerger:
		for id, item := range s.WorkItems {
			if item.MergedAt != nil && inSet(item.MergedBy) {
				keep[id] = struct{}{}
			}
		}
	case domain.ParticipationKindReleaser:
		for id, release := range s.Releases {
			if inSet(release.Author) {
				keep[id] = struct{}{}
			}
		}
	case domain.ParticipationKindReviewer:
		for id, reviews := range s.Reviews {
			author := s.WorkItems[id].AuthorID

			for _, review := range reviews {
				// self-review does not count as participation
				if review.UserID == author {
					continue
				}

				if inSet(review.UserID) && within(review.SubmittedAt) {
					keep[id] = struct{}{}
					break
				}
			}
		}
	case domain.ParticipationKindCommenter:
		for id, comments := range s.IssueComments {
			for _, comment := range comments {
				if inSet(comment.UserID) && within(comment.CreatedAt) {
					keep[id] = struct{}{}
					break
				}
			}
		}

		for id, comments := range s.ReviewComments {
			for _, comment := range comments {
				if inSet(comment.UserID) && within(comment.CreatedAt) {
					keep[id] = struct{}{}
					break
				}
			}
		}
	case domain.ParticipationKindCommitAuthor:
		for id, commits := range s.Commits {
			for _, commit := range commits {
				if inSet(commit.AuthorLogin) && within(commit.AuthoredAt) {
					keep[id] = struct{}{}
					break
				}
			}
		}
	case domain.ParticipationKindCommitCommitter:
		for id, commits := range s.Commits {
			for _, commit := range commits {
				if inSet(commit.CommitterLogin) && within(commit.CommittedAt) {
					keep[id] = struct{}{}
					break
				}
			}
		}
	}
}

// ByLabels computes the ids to drop under the label filter: an item passes
// when it carries any included singleton label or every label of any
// AND-group, and carries no excluded label. Case-insensitive. An empty
// filter keeps everything.
func ByLabels(s *snapshot.Snapshot, f domain.LabelFilter) map[string]struct{} {
	drop := make(map[string]struct{})

	if f.IsEmpty() {
		return drop
	}

	singles, groups := f.Singletons()

	for id := range s.WorkItems {
		carried := make(map[string]struct{}, len(s.Labels[id]))
		for _, label := range s.Labels[id] {
			carried[strings.ToLower(label.Name)] = struct{}{}
		}

		if !passesLabels(carried, singles, groups, f.Exclude) {
			drop[id] = struct{}{}
		}
	}

	return drop
}

// ByIssueFilter computes the ids to drop under the issue-tracker filter.
// Label, epic and issue-type criteria intersect: each non-empty criterion
// must match at least one linked issue. An item without issue links never
// passes a non-empty filter.
func ByIssueFilter(s *snapshot.Snapshot, f domain.IssueFilter) map[string]struct{} {
	drop := make(map[string]struct{})

	if f.IsEmpty() {
		return drop
	}

	singles, groups := f.Labels.Singletons()

	for id := range s.WorkItems {
		links := s.IssueLinks[id]
		if len(links) == 0 {
			drop[id] = struct{}{}
			continue
		}

		labelsOK := f.Labels.IsEmpty()
		epicsOK := len(f.Epics) == 0
		typesOK := len(f.IssueTypes) == 0

		for _, link := range links {
			if !labelsOK {
				carried := splitIssueLabels(link.Labels)
				if passesLabels(carried, singles, groups, f.Labels.Exclude) {
					labelsOK = true
				}
			}

			if !epicsOK {
				if _, ok := f.Epics[strings.ToLower(link.EpicKey)]; ok {
					epicsOK = true
				}
			}

			if !typesOK {
				if _, ok := f.IssueTypes[strings.ToLower(link.IssueType)]; ok {
					typesOK = true
				}
			}
		}

		if !labelsOK || !epicsOK || !typesOK {
			drop[id] = struct{}{}
		}
	}

	return drop
}

// ByInactivity computes the ids of items with no lifecycle event inside
// [timeFrom, timeTo]: no creation, closure, review, review request, comment,
// commit or release in the window.
func ByInactivity(s *snapshot.Snapshot, timeFrom, timeTo time.Time) map[string]struct{} {
	inWindow := func(t *time.Time) bool {
		return t != nil && !t.Before(timeFrom) && !t.After(timeTo)
	}

	drop := make(map[string]struct{})

	for id, item := range s.WorkItems {
		created := item.CreatedAt
		if inWindow(&created) || inWindow(item.ClosedAt) || inWindow(item.MergedAt) {
			continue
		}

		active := false

		for _, review := range s.Reviews[id] {
			if inWindow(review.SubmittedAt) {
				active = true
				break
			}
		}

		if !active {
			for _, request := range s.ReviewRequests[id] {
				if inWindow(request.CreatedAt) {
					active = true
					break
				}
			}
		}

		if !active {
			for _, comment := range s.ReviewComments[id] {
				if inWindow(comment.CreatedAt) {
					active = true
					break
				}
			}
		}

		if !active {
			for _, comment := range s.IssueComments[id] {
				if inWindow(comment.CreatedAt) {
					active = true
					break
				}
			}
		}

		if !active {
			for _, commit := range s.Commits[id] {
				if inWindow(commit.CommittedAt) || inWindow(commit.AuthoredAt) {
					active = true
					break
				}
			}
		}

		if !active {
			if release, ok := s.Releases[id]; ok && inWindow(release.PublishedAt) {
				active = true
			}
		}

		if !active {
			drop[id] = struct{}{}
		}
	}

	return drop
}

// Apply removes the union of the drop sets from the snapshot, cascading
// through every sub-table.
func Apply(s *snapshot.Snapshot, dropSets ...map[string]struct{}) {
	union := make(map[string]struct{})

	for _, set := range dropSets {
		for id := range set {
			union[id] = struct{}{}
		}
	}

	s.Remove(union)
}

func passesLabels(
	carried map[string]struct{},
	singles map[string]struct{},
	groups [][]string,
	exclude map[string]struct{},
) bool {
	for label := range carried {
		if _, ok := exclude[label]; ok {
			return false
		}
	}

	if len(singles) == 0 && len(groups) == 0 {
		return true
	}

	for label := range singles {
		if _, ok := carried[label]; ok {
			return true
		}
	}

	for _, group := range groups {
		all := true

		for _, label := range group {
			if _, ok := carried[label]; !ok {
				all = false
				break
			}
		}

		if all && len(group) > 0 {
			return true
		}
	}

	return false
}

func splitIssueLabels(raw string) map[string]struct{} {
	set := make(map[string]struct{})

	for _, label := range strings.Split(raw, ",") {
		label = strings.ToLower(strings.TrimSpace(label))
		if label != "" {
			set[label] = struct{}{}
		}
	}

	return set
}
