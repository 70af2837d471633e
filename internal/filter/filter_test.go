package filter

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/prmetrics/pr-history-service/internal/domain"
	"github.com/prmetrics/pr-history-service/internal/snapshot"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}

	return t
}

func tsp(s string) *time.Time {
	t := ts(s)
	return &t
}

func newSnapshot(items ...domain.WorkItem) *snapshot.Snapshot {
	s := snapshot.New(ts("2020-01-01T00:00:00Z"), ts("2020-02-01T00:00:00Z"))
	for _, item := range items {
		s.WorkItems[item.NodeID] = item
	}

	return s
}

func dropIDs(drop map[string]struct{}) []string {
	ids := make([]string, 0, len(drop))
	for id := range drop {
		ids = append(ids, id)
	}

	return ids
}

func TestByParticipants(t *testing.T) {
	s := newSnapshot(
		domain.WorkItem{NodeID: "authored", AuthorID: "u1", AuthorLogin: "alice"},
		domain.WorkItem{NodeID: "reviewed", AuthorID: "u2"},
		domain.WorkItem{NodeID: "self-reviewed", AuthorID: "u1"},
		domain.WorkItem{NodeID: "merged", AuthorID: "u3", MergedAt: tsp("2020-01-10T00:00:00Z"), MergedBy: "alice"},
		domain.WorkItem{NodeID: "unrelated", AuthorID: "u9"},
	)
	s.Reviews["reviewed"] = []domain.Review{
		{UserID: "u1", SubmittedAt: tsp("2020-01-05T00:00:00Z")},
	}
	s.Reviews["self-reviewed"] = []domain.Review{
		{UserID: "u1", SubmittedAt: tsp("2020-01-05T00:00:00Z")},
	}

	t.Run("author by id or login", func(t *testing.T) {
		drop := ByParticipants(s, domain.Participants{
			domain.ParticipationKindAuthor: {"alice"},
		}, nil)

		assert.NotContains(t, drop, "authored")
		assert.Contains(t, drop, "reviewed")
	})

	t.Run("reviewer excludes self-review", func(t *testing.T) {
		drop := ByParticipants(s, domain.Participants{
			domain.ParticipationKindReviewer: {"u1"},
		}, nil)

		assert.NotContains(t, drop, "reviewed")
		assert.Contains(t, drop, "self-reviewed")
	})

	t.Run("roles union", func(t *testing.T) {
		drop := ByParticipants(s, domain.Participants{
			domain.ParticipationKindAuthor: {"u1"},
			domain.ParticipationKindMerger: {"alice"},
		}, nil)

		assert.NotContains(t, drop, "authored")
		assert.NotContains(t, drop, "self-reviewed")
		assert.NotContains(t, drop, "merged")
		assert.Contains(t, drop, "unrelated")
	})

	t.Run("cutoff bounds sub-entity evidence", func(t *testing.T) {
		cutoff := ts("2020-01-02T00:00:00Z")
		drop := ByParticipants(s, domain.Participants{
			domain.ParticipationKindReviewer: {"u1"},
		}, &cutoff)

		assert.Contains(t, drop, "reviewed", "the review happened after the cutoff")
	})

	t.Run("empty filter keeps everything", func(t *testing.T) {
		drop := ByParticipants(s, domain.Participants{}, nil)
		assert.Empty(t, dropIDs(drop))
	})
}

func TestByLabels(t *testing.T) {
	s := newSnapshot(
		domain.WorkItem{NodeID: "bug"},
		domain.WorkItem{NodeID: "api-backend"},
		domain.WorkItem{NodeID: "api-only"},
		domain.WorkItem{NodeID: "wip-bug"},
		domain.WorkItem{NodeID: "bare"},
	)
	s.Labels["bug"] = []domain.WorkItemLabel{{Name: "Bug"}}
	s.Labels["api-backend"] = []domain.WorkItemLabel{{Name: "api"}, {Name: "backend"}}
	s.Labels["api-only"] = []domain.WorkItemLabel{{Name: "api"}}
	s.Labels["wip-bug"] = []domain.WorkItemLabel{{Name: "bug"}, {Name: "WIP"}}

	t.Run("singleton include", func(t *testing.T) {
		drop := ByLabels(s, domain.NewLabelFilter([]string{"bug"}, nil))

		assert.NotContains(t, drop, "bug")
		assert.NotContains(t, drop, "wip-bug")
		assert.Contains(t, drop, "api-only")
		assert.Contains(t, drop, "bare")
	})

	t.Run("AND group requires every member", func(t *testing.T) {
		drop := ByLabels(s, domain.NewLabelFilter([]string{"api,backend"}, nil))

		assert.NotContains(t, drop, "api-backend")
		assert.Contains(t, drop, "api-only")
	})

	t.Run("exclusion beats inclusion", func(t *testing.T) {
		drop := ByLabels(s, domain.NewLabelFilter([]string{"bug"}, []string{"wip"}))

		assert.NotContains(t, drop, "bug")
		assert.Contains(t, drop, "wip-bug")
	})

	t.Run("empty filter keeps everything", func(t *testing.T) {
		drop := ByLabels(s, domain.EmptyLabelFilter())
		assert.Empty(t, dropIDs(drop))
	})
}

func TestByIssueFilter(t *testing.T) {
	s := newSnapshot(
		domain.WorkItem{NodeID: "epic-bug"},
		domain.WorkItem{NodeID: "other-epic"},
		domain.WorkItem{NodeID: "unlinked"},
	)
	s.IssueLinks["epic-bug"] = []domain.IssueLink{
		{IssueKey: "PROJ-1", EpicKey: "EPIC-1", IssueType: "Bug", Labels: "infra, Urgent"},
	}
	s.IssueLinks["other-epic"] = []domain.IssueLink{
		{IssueKey: "PROJ-2", EpicKey: "EPIC-2", IssueType: "Task", Labels: ""},
	}

	t.Run("epic match", func(t *testing.T) {
		drop := ByIssueFilter(s, domain.NewIssueFilter(domain.EmptyLabelFilter(), []string{"epic-1"}, nil))

		assert.NotContains(t, drop, "epic-bug")
		assert.Contains(t, drop, "other-epic")
		assert.Contains(t, drop, "unlinked")
	})

	t.Run("criteria intersect", func(t *testing.T) {
		drop := ByIssueFilter(s, domain.NewIssueFilter(
			domain.NewLabelFilter([]string{"infra"}, nil),
			[]string{"EPIC-1"},
			[]string{"task"},
		))

		assert.Contains(t, drop, "epic-bug", "issue type does not match")
	})

	t.Run("unlinked items never pass a non-empty filter", func(t *testing.T) {
		drop := ByIssueFilter(s, domain.NewIssueFilter(domain.EmptyLabelFilter(), nil, []string{"bug"}))
		assert.Contains(t, drop, "unlinked")
	})

	t.Run("empty filter keeps everything", func(t *testing.T) {
		drop := ByIssueFilter(s, domain.EmptyIssueFilter())
		assert.Empty(t, dropIDs(drop))
	})
}

func TestByInactivity(t *testing.T) {
	timeFrom := ts("2017-01-01T00:00:00Z")
	timeTo := ts("2017-01-11T00:00:00Z")

	active := []domain.WorkItem{
		{NodeID: "created-in-window", CreatedAt: ts("2017-01-02T00:00:00Z")},
		{NodeID: "closed-in-window", CreatedAt: ts("2016-11-01T00:00:00Z"), ClosedAt: tsp("2017-01-03T00:00:00Z")},
		{NodeID: "reviewed-in-window", CreatedAt: ts("2016-11-01T00:00:00Z")},
		{NodeID: "commented-in-window", CreatedAt: ts("2016-11-01T00:00:00Z")},
		{NodeID: "committed-in-window", CreatedAt: ts("2016-11-01T00:00:00Z")},
		{NodeID: "released-in-window", CreatedAt: ts("2016-11-01T00:00:00Z"), MergedAt: tsp("2016-12-01T00:00:00Z")},
	}

	s := newSnapshot(active...)
	s.Reviews["reviewed-in-window"] = []domain.Review{{SubmittedAt: tsp("2017-01-05T00:00:00Z")}}
	s.IssueComments["commented-in-window"] = []domain.IssueComment{{CreatedAt: tsp("2017-01-06T00:00:00Z")}}
	s.Commits["committed-in-window"] = []domain.Commit{{CommittedAt: tsp("2017-01-07T00:00:00Z")}}
	s.Releases["released-in-window"] = domain.Release{PublishedAt: tsp("2017-01-08T00:00:00Z")}

	// Dormant items: all lifecycle events predate the window.
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("dormant-%d", i)
		s.WorkItems[id] = domain.WorkItem{NodeID: id, CreatedAt: ts("2016-06-01T00:00:00Z")}
		s.IssueComments[id] = []domain.IssueComment{{CreatedAt: tsp("2016-07-01T00:00:00Z")}}
	}

	drop := ByInactivity(s, timeFrom, timeTo)

	assert.Len(t, drop, 4)
	for _, item := range active {
		assert.NotContains(t, drop, item.NodeID)
	}

	Apply(s, drop)
	assert.Equal(t, len(active), s.Len())
}

func TestApply_CascadesAndUnions(t *testing.T) {
	s := newSnapshot(
		domain.WorkItem{NodeID: "a"},
		domain.WorkItem{NodeID: "b"},
		domain.WorkItem{NodeID: "c"},
	)
	s.Reviews["a"] = []domain.Review{{NodeID: "r1"}}
	s.Labels["b"] = []domain.WorkItemLabel{{Name: "bug"}}
	s.Releases["b"] = domain.Release{NodeID: "rel1"}

	Apply(s,
		map[string]struct{}{"a": {}},
		map[string]struct{}{"b": {}},
	)

	assert.Equal(t, []string{"c"}, s.IDs())
	assert.Empty(t, s.Reviews)
	assert.Empty(t, s.Labels)
	assert.Empty(t, s.Releases)
}
