package postgres

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prmetrics/pr-history-service/internal/domain"
	"github.com/prmetrics/pr-history-service/internal/repository"
)

func newMockMetadata(t *testing.T) (*Metadata, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	return NewMetadata(sqlxDB, logger, DialectPostgres), mock
}

func parseTime(t *testing.T, value string) time.Time {
	t.Helper()

	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)

	return parsed
}

func workItemRows() *sqlmock.Rows {
	return sqlmock.NewRows(workItemColumns)
}

func TestSelectWorkItems_ShortCircuits(t *testing.T) {
	m, mock := newMockMetadata(t)
	ctx := context.Background()

	items, err := m.SelectWorkItems(ctx, repository.WorkItemQuery{
		TimeFrom: parseTime(t, "2020-06-01T00:00:00Z"),
		TimeTo:   parseTime(t, "2020-06-08T00:00:00Z"),
	})
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = m.SelectWorkItems(ctx, repository.WorkItemQuery{
		TimeFrom:     parseTime(t, "2020-06-08T00:00:00Z"),
		TimeTo:       parseTime(t, "2020-06-01T00:00:00Z"),
		Repositories: []string{"org/a"},
	})
	require.NoError(t, err)
	assert.Empty(t, items)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectWorkItems_QueryShape(t *testing.T) {
	m, mock := newMockMetadata(t)

	mock.ExpectQuery(`SELECT wi\.node_id, .+ FROM work_items wi WHERE .+wi\.author_id IN .+ AND wi\.node_id NOT IN`).
		WillReturnRows(workItemRows().AddRow(
			"pr-1", "org/a", 7, "add retries", "u1", "alice",
			parseTime(t, "2020-06-02T10:00:00Z"), parseTime(t, "2020-06-02T11:00:00Z"),
			nil, nil, "", 120, 30, 3, false,
		))

	items, err := m.SelectWorkItems(context.Background(), repository.WorkItemQuery{
		TimeFrom:     parseTime(t, "2020-06-01T00:00:00Z"),
		TimeTo:       parseTime(t, "2020-06-08T00:00:00Z"),
		Repositories: []string{"org/a"},
		Authors:      []string{"u1"},
		Blacklist:    []string{"pr-banned"},
	})
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.Equal(t, "pr-1", items[0].NodeID)
	assert.Equal(t, "org/a", items[0].Repository)
	assert.Equal(t, 120, items[0].Additions)
	assert.Nil(t, items[0].MergedAt)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectWorkItems_IssueFilterJoins(t *testing.T) {
	m, mock := newMockMetadata(t)

	mock.ExpectQuery(`FROM work_items wi JOIN issue_links il ON il\.work_item_id = wi\.node_id WHERE .+LOWER\(il\.epic_key\) IN`).
		WillReturnRows(workItemRows())

	_, err := m.SelectWorkItems(context.Background(), repository.WorkItemQuery{
		TimeFrom:     parseTime(t, "2020-06-01T00:00:00Z"),
		TimeTo:       parseTime(t, "2020-06-08T00:00:00Z"),
		Repositories: []string{"org/a"},
		IssueFilter:  domain.NewIssueFilter(domain.LabelFilter{}, []string{"EPIC-1"}, nil),
	})
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectWorkItems_QueryError(t *testing.T) {
	m, mock := newMockMetadata(t)

	mock.ExpectQuery(`FROM work_items wi`).WillReturnError(errors.New("connection reset"))

	_, err := m.SelectWorkItems(context.Background(), repository.WorkItemQuery{
		TimeFrom:     parseTime(t, "2020-06-01T00:00:00Z"),
		TimeTo:       parseTime(t, "2020-06-08T00:00:00Z"),
		Repositories: []string{"org/a"},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute query")
}

func TestSelectMergedUnreleased(t *testing.T) {
	m, mock := newMockMetadata(t)

	mock.ExpectQuery(`FROM work_items wi LEFT JOIN releases r ON r\.work_item_id = wi\.node_id WHERE .+r\.work_item_id IS NULL`).
		WillReturnRows(workItemRows().AddRow(
			"pr-1", "org/a", 7, "add retries", "u1", "alice",
			parseTime(t, "2020-06-02T10:00:00Z"), parseTime(t, "2020-06-02T11:00:00Z"),
			parseTime(t, "2020-06-03T10:00:00Z"), parseTime(t, "2020-06-03T10:00:00Z"),
			"bob", 1, 1, 1, false,
		))

	items, err := m.SelectMergedUnreleased(context.Background(),
		[]string{"org/a"}, parseTime(t, "2020-06-01T00:00:00Z"), nil)
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.NotNil(t, items[0].MergedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewMetadata_DialectPlaceholders(t *testing.T) {
	cases := []struct {
		name    string
		dialect Dialect
		pattern string
	}{
		{
			name:    "postgres builds dollar placeholders",
			dialect: DialectPostgres,
			pattern: `FROM reviews WHERE work_item_id IN \(\$1\) AND submitted_at < \$2`,
		},
		{
			name:    "sqlite builds question placeholders",
			dialect: DialectSQLite,
			pattern: `FROM reviews WHERE work_item_id IN \(\?\) AND submitted_at < \?`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)

			t.Cleanup(func() { db.Close() })

			m := NewMetadata(sqlx.NewDb(db, "postgres"), slog.New(slog.NewJSONHandler(os.Stdout, nil)), tc.dialect)
			horizon := parseTime(t, "2020-06-08T00:00:00Z")

			mock.ExpectQuery(tc.pattern).
				WithArgs("pr-1", horizon).
				WillReturnRows(sqlmock.NewRows([]string{
					"work_item_id", "node_id", "submitted_at", "state", "user_id", "user_login",
				}))

			_, err = m.SelectReviews(context.Background(), []string{"pr-1"}, &horizon)
			require.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSelectReviews_HorizonBound(t *testing.T) {
	m, mock := newMockMetadata(t)
	horizon := parseTime(t, "2020-06-08T00:00:00Z")

	mock.ExpectQuery(`FROM reviews WHERE work_item_id IN \(\$1\) AND submitted_at < \$2`).
		WithArgs("pr-1", horizon).
		WillReturnRows(sqlmock.NewRows([]string{
			"work_item_id", "node_id", "submitted_at", "state", "user_id", "user_login",
		}).AddRow("pr-1", "r1", parseTime(t, "2020-06-03T10:00:00Z"), "APPROVED", "u2", "bob"))

	reviews, err := m.SelectReviews(context.Background(), []string{"pr-1"}, &horizon)
	require.NoError(t, err)

	require.Len(t, reviews, 1)
	assert.Equal(t, domain.ReviewStateApproved, reviews[0].State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectReviews_EmptyIDs(t *testing.T) {
	m, mock := newMockMetadata(t)

	reviews, err := m.SelectReviews(context.Background(), nil, nil)
	require.NoError(t, err)

	assert.Empty(t, reviews)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectLabels_Unbounded(t *testing.T) {
	m, mock := newMockMetadata(t)

	mock.ExpectQuery(`SELECT work_item_id, name FROM work_item_labels WHERE work_item_id IN \(\$1\)$`).
		WithArgs("pr-1").
		WillReturnRows(sqlmock.NewRows([]string{"work_item_id", "name"}).
			AddRow("pr-1", "bug"))

	labels, err := m.SelectLabels(context.Background(), []string{"pr-1"})
	require.NoError(t, err)

	require.Len(t, labels, 1)
	assert.Equal(t, "bug", labels[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func releaseFeedRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"node_id", "repository_full_name", "tag", "branch", "published_at", "url", "author",
	})
}

func TestSelectReleases_EarliestAfterMergeWins(t *testing.T) {
	m, mock := newMockMetadata(t)

	merged := parseTime(t, "2020-06-02T10:00:00Z")
	items := []domain.WorkItem{
		{NodeID: "pr-1", Repository: "org/a", MergedAt: &merged},
		{NodeID: "pr-open", Repository: "org/a"},
	}

	// The feed arrives ordered by publication time; the first qualifying row
	// after the merge must win.
	mock.ExpectQuery(`FROM releases_feed WHERE repository_full_name IN \(\$1\) AND published_at <= \$2 ORDER BY published_at ASC`).
		WillReturnRows(releaseFeedRows().
			AddRow("rel-0", "org/a", "v0.9", "", parseTime(t, "2020-06-01T00:00:00Z"), "", "bob").
			AddRow("rel-1", "org/a", "v1.0", "", parseTime(t, "2020-06-03T00:00:00Z"), "", "bob").
			AddRow("rel-2", "org/a", "v1.1", "", parseTime(t, "2020-06-04T00:00:00Z"), "", "bob"))

	releases, err := m.SelectReleases(context.Background(), items,
		parseTime(t, "2020-06-08T00:00:00Z"), nil)
	require.NoError(t, err)

	require.Len(t, releases, 1)
	assert.Equal(t, "pr-1", releases[0].WorkItemID)
	assert.Equal(t, "rel-1", releases[0].NodeID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectReleases_NoMergedItemsSkipsQuery(t *testing.T) {
	m, mock := newMockMetadata(t)

	releases, err := m.SelectReleases(context.Background(),
		[]domain.WorkItem{{NodeID: "pr-open", Repository: "org/a"}},
		parseTime(t, "2020-06-08T00:00:00Z"), nil)
	require.NoError(t, err)

	assert.Empty(t, releases)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectReleases_MatchPolicies(t *testing.T) {
	merged := parseTime(t, "2020-06-02T10:00:00Z")

	testCases := []struct {
		name          string
		setting       domain.ReleaseMatchSetting
		tag           string
		branch        string
		expectMatched bool
	}{
		{
			name:          "default policy takes any tag",
			tag:           "v1.0",
			expectMatched: true,
		},
		{
			name:          "default policy takes any branch",
			branch:        "main",
			expectMatched: true,
		},
		{
			name:          "tag policy ignores branch-only rows",
			setting:       domain.ReleaseMatchSetting{Match: domain.ReleaseMatchTag},
			branch:        "main",
			expectMatched: false,
		},
		{
			name:          "tag pattern filters tags",
			setting:       domain.ReleaseMatchSetting{Match: domain.ReleaseMatchTag, TagPattern: "v*"},
			tag:           "beta-1",
			expectMatched: false,
		},
		{
			name:          "branch pattern accepts matching branch",
			setting:       domain.ReleaseMatchSetting{Match: domain.ReleaseMatchBranch, BranchPattern: "release/*"},
			branch:        "release/2020-06",
			expectMatched: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, mock := newMockMetadata(t)

			mock.ExpectQuery(`FROM releases_feed`).
				WillReturnRows(releaseFeedRows().
					AddRow("rel-1", "org/a", tc.tag, tc.branch, parseTime(t, "2020-06-03T00:00:00Z"), "", "bob"))

			releases, err := m.SelectReleases(context.Background(),
				[]domain.WorkItem{{NodeID: "pr-1", Repository: "org/a", MergedAt: &merged}},
				parseTime(t, "2020-06-08T00:00:00Z"),
				domain.ReleaseSettings{"org/a": tc.setting})
			require.NoError(t, err)

			if tc.expectMatched {
				require.Len(t, releases, 1)
				assert.Equal(t, "rel-1", releases[0].NodeID)
			} else {
				assert.Empty(t, releases)
			}
		})
	}
}

func TestSelectReleased_KeepsOnlyItemsReleasedInWindow(t *testing.T) {
	m, mock := newMockMetadata(t)

	mergedEarly := parseTime(t, "2020-05-20T10:00:00Z")
	mergedIn := parseTime(t, "2020-06-01T10:00:00Z")

	mock.ExpectQuery(`FROM work_items WHERE .+merged_at IS NOT NULL AND merged_at <= `).
		WillReturnRows(workItemRows().
			AddRow("pr-early", "org/a", 1, "old", "u1", "alice",
				parseTime(t, "2020-05-19T10:00:00Z"), mergedEarly, mergedEarly, mergedEarly, "bob", 1, 1, 1, false).
			AddRow("pr-in", "org/a", 2, "recent", "u1", "alice",
				parseTime(t, "2020-05-30T10:00:00Z"), mergedIn, mergedIn, mergedIn, "bob", 1, 1, 1, false))

	mock.ExpectQuery(`FROM releases_feed`).
		WillReturnRows(releaseFeedRows().
			AddRow("rel-early", "org/a", "v0.9", "", parseTime(t, "2020-05-25T00:00:00Z"), "", "bob").
			AddRow("rel-in", "org/a", "v1.0", "", parseTime(t, "2020-06-03T00:00:00Z"), "", "bob"))

	items, err := m.SelectReleased(context.Background(), []string{"org/a"},
		parseTime(t, "2020-06-01T00:00:00Z"), parseTime(t, "2020-06-08T00:00:00Z"), nil, nil)
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.Equal(t, "pr-in", items[0].NodeID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
