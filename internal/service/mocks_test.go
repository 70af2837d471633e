package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/prmetrics/pr-history-service/internal/snapshot"
)

type SnapshotAssemblerMock struct {
	mock.Mock
}

var _ SnapshotAssembler = (*SnapshotAssemblerMock)(nil)

func (m *SnapshotAssemblerMock) Assemble(ctx context.Context, req snapshot.Request) (*snapshot.Snapshot, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*snapshot.Snapshot), args.Error(1)
}
