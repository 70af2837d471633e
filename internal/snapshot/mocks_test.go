package snapshot

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/prmetrics/pr-history-service/internal/domain"
	"github.com/prmetrics/pr-history-service/internal/repository"
)

type MetadataRepositoryMock struct {
	mock.Mock
}

var _ repository.MetadataRepository = (*MetadataRepositoryMock)(nil)

func (m *MetadataRepositoryMock) SelectWorkItems(ctx context.Context, q repository.WorkItemQuery) ([]domain.WorkItem, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.WorkItem), args.Error(1)
}

func (m *MetadataRepositoryMock) SelectReleased(ctx context.Context, repos []string, timeFrom, timeTo time.Time, settings domain.ReleaseSettings, blacklist []string) ([]domain.WorkItem, error) {
	args := m.Called(ctx, repos, timeFrom, timeTo, settings, blacklist)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.WorkItem), args.Error(1)
}

func (m *MetadataRepositoryMock) SelectMergedUnreleased(ctx context.Context, repos []string, timeFrom time.Time, blacklist []string) ([]domain.WorkItem, error) {
	args := m.Called(ctx, repos, timeFrom, blacklist)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.WorkItem), args.Error(1)
}

func (m *MetadataRepositoryMock) SelectReviews(ctx context.Context, ids []string, horizon *time.Time) ([]domain.Review, error) {
	args := m.Called(ctx, ids, horizon)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.Review), args.Error(1)
}

func (m *MetadataRepositoryMock) SelectReviewComments(ctx context.Context, ids []string, horizon *time.Time) ([]domain.ReviewComment, error) {
	args := m.Called(ctx, ids, horizon)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.ReviewComment), args.Error(1)
}

func (m *MetadataRepositoryMock) SelectReviewRequests(ctx context.Context, ids []string, horizon *time.Time) ([]domain.ReviewRequest, error) {
	args := m.Called(ctx, ids, horizon)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.ReviewRequest), args.Error(1)
}

func (m *MetadataRepositoryMock) SelectIssueComments(ctx context.Context, ids []string, horizon *time.Time) ([]domain.IssueComment, error) {
	args := m.Called(ctx, ids, horizon)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.IssueComment), args.Error(1)
}

func (m *MetadataRepositoryMock) SelectCommits(ctx context.Context, ids []string, horizon *time.Time) ([]domain.Commit, error) {
	args := m.Called(ctx, ids, horizon)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.Commit), args.Error(1)
}

func (m *MetadataRepositoryMock) SelectReleases(ctx context.Context, items []domain.WorkItem, timeTo time.Time, settings domain.ReleaseSettings) ([]domain.Release, error) {
	args := m.Called(ctx, items, timeTo, settings)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.Release), args.Error(1)
}

func (m *MetadataRepositoryMock) SelectLabels(ctx context.Context, ids []string) ([]domain.WorkItemLabel, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.WorkItemLabel), args.Error(1)
}

func (m *MetadataRepositoryMock) SelectIssueLinks(ctx context.Context, ids []string) ([]domain.IssueLink, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]domain.IssueLink), args.Error(1)
}
