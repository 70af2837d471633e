package http

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/prmetrics/pr-history-service/internal/service"
)

type HistoryServiceMock struct {
	mock.Mock
}

var _ service.HistoryService = (*HistoryServiceMock)(nil)

func (m *HistoryServiceMock) FilterFacts(ctx context.Context, req service.FilterRequest) (*service.FilterResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*service.FilterResult), args.Error(1)
}
