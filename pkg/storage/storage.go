package storage

import (
	"context"

	"github.com/raterudder/fusionsolar/pkg/types"
)

// SessionStore persists portal sessions between runs.
//
// LoadSession returns nil without an error when there is no usable session
// for key, including when the stored one could not be parsed. Errors are only
// returned when the backend itself failed.
type SessionStore interface {
	LoadSession(ctx context.Context, key string) (*types.SessionSnapshot, error)
	SaveSession(ctx context.Context, key string, snap types.SessionSnapshot) error

	// Lifecycle
	Close() error
}

// nopStore is used when sessions are not persisted at all.
type nopStore struct{}

func (nopStore) LoadSession(ctx context.Context, key string) (*types.SessionSnapshot, error) {
	return nil, nil
}

func (nopStore) SaveSession(ctx context.Context, key string, snap types.SessionSnapshot) error {
	return nil
}

func (nopStore) Close() error {
	return nil
}
