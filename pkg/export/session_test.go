package export

import (
	"errors"
	"testing"

	"github.com/raterudder/fusionsolar/pkg/fusion"
	"github.com/raterudder/fusionsolar/pkg/storage/storagemock"
	"github.com/raterudder/fusionsolar/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRestoreSession(t *testing.T) {
	creds := types.Credentials{Username: "owner", Password: "p", Subdomain: "region01eu5"}
	const key = "region01eu5.fusionsolar.huawei.com/owner"

	t.Run("Restores", func(t *testing.T) {
		store := &storagemock.MockSessionStore{}
		store.On("LoadSession", mock.Anything, key).Return(&types.SessionSnapshot{CompanyID: "NE=1", CSRFToken: "tok"}, nil)

		c := fusion.New(creds, 0)
		RestoreSession(t.Context(), store, c)
		assert.Equal(t, fusion.StateAuthenticated, c.State())
		assert.Equal(t, "NE=1", c.CompanyID())
		store.AssertExpectations(t)
	})

	t.Run("NoSession", func(t *testing.T) {
		store := &storagemock.MockSessionStore{}
		store.On("LoadSession", mock.Anything, key).Return(nil, nil)

		c := fusion.New(creds, 0)
		RestoreSession(t.Context(), store, c)
		assert.Equal(t, fusion.StateUnauthenticated, c.State())
		store.AssertExpectations(t)
	})

	t.Run("LoadErrorIgnored", func(t *testing.T) {
		store := &storagemock.MockSessionStore{}
		store.On("LoadSession", mock.Anything, key).Return(nil, errors.New("connection refused"))

		c := fusion.New(creds, 0)
		RestoreSession(t.Context(), store, c)
		assert.Equal(t, fusion.StateUnauthenticated, c.State())
		store.AssertExpectations(t)
	})
}

func TestSaveSession(t *testing.T) {
	creds := types.Credentials{Username: "owner", Password: "p", Subdomain: "region01eu5"}
	const key = "region01eu5.fusionsolar.huawei.com/owner"

	t.Run("Saves", func(t *testing.T) {
		c := fusion.New(creds, 0)
		c.Restore(t.Context(), types.SessionSnapshot{CompanyID: "NE=1", CSRFToken: "tok"})

		store := &storagemock.MockSessionStore{}
		store.On("SaveSession", mock.Anything, key, mock.MatchedBy(func(s types.SessionSnapshot) bool {
			return s.CompanyID == "NE=1" && s.CSRFToken == "tok" && !s.Timestamp.IsZero()
		})).Return(nil)

		require.NoError(t, SaveSession(t.Context(), store, c))
		store.AssertExpectations(t)
	})

	t.Run("Failure", func(t *testing.T) {
		store := &storagemock.MockSessionStore{}
		store.On("SaveSession", mock.Anything, key, mock.Anything).Return(errors.New("read-only file system"))

		err := SaveSession(t.Context(), store, fusion.New(creds, 0))
		assert.ErrorContains(t, err, "read-only file system")
	})
}
