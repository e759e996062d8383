package storage

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirestoreStore(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	// Use a random database for isolation
	randDB := fmt.Sprintf("test-db-%d", time.Now().UnixNano())
	f := &FirestoreStore{
		projectID: "test-project-id",
		database:  randDB,
		sealer:    &sealer{},
	}

	ctx := t.Context()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	t.Run("RoundTrip", func(t *testing.T) {
		snap := testSnapshot()
		require.NoError(t, f.SaveSession(ctx, "region01eu5.fusionsolar.huawei.com/user", snap))

		got, err := f.LoadSession(ctx, "region01eu5.fusionsolar.huawei.com/user")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, snap.Cookies, got.Cookies)
		assert.Equal(t, snap.CompanyID, got.CompanyID)
		assert.Equal(t, snap.CSRFToken, got.CSRFToken)
	})

	t.Run("Missing", func(t *testing.T) {
		got, err := f.LoadSession(ctx, "nobody/here")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Corrupt", func(t *testing.T) {
		ref, err := f.doc("corrupt/user")
		require.NoError(t, err)
		_, err = ref.Set(ctx, map[string]interface{}{"json": "{nope"})
		require.NoError(t, err)

		got, err := f.LoadSession(ctx, "corrupt/user")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("EmptyKey", func(t *testing.T) {
		_, err := f.LoadSession(ctx, "")
		assert.ErrorContains(t, err, "session key cannot be empty")
	})
}
