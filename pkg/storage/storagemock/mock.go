package storagemock

import (
	"context"

	"github.com/raterudder/fusionsolar/pkg/storage"
	"github.com/raterudder/fusionsolar/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockSessionStore struct {
	mock.Mock
}

var _ storage.SessionStore = (*MockSessionStore)(nil)

func (m *MockSessionStore) LoadSession(ctx context.Context, key string) (*types.SessionSnapshot, error) {
	args := m.Called(ctx, key)
	// return no session if not specified
	if len(args) > 0 {
		snap, _ := args.Get(0).(*types.SessionSnapshot)
		return snap, args.Error(1)
	}
	return nil, nil
}

func (m *MockSessionStore) SaveSession(ctx context.Context, key string, snap types.SessionSnapshot) error {
	args := m.Called(ctx, key, snap)
	return args.Error(0)
}

func (m *MockSessionStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
