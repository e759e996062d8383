package export

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raterudder/fusionsolar/pkg/log"
	"github.com/raterudder/fusionsolar/pkg/storage"
	"github.com/raterudder/fusionsolar/pkg/types"
)

// SessionClient is the part of the portal client that can be persisted.
type SessionClient interface {
	Credentials() types.Credentials
	Snapshot() types.SessionSnapshot
	Restore(ctx context.Context, snap types.SessionSnapshot)
}

// RestoreSession loads the saved session for the client's credentials. A
// session that cannot be loaded only costs a fresh login so failures are
// logged and otherwise ignored.
func RestoreSession(ctx context.Context, store storage.SessionStore, c SessionClient) {
	key := c.Credentials().SessionKey()
	snap, err := store.LoadSession(ctx, key)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to load saved session, logging in from scratch", slog.String("key", key), slog.Any("error", err))
		return
	}
	if snap == nil {
		log.Ctx(ctx).DebugContext(ctx, "no saved session", slog.String("key", key))
		return
	}
	c.Restore(ctx, *snap)
}

// SaveSession persists the client's current session.
func SaveSession(ctx context.Context, store storage.SessionStore, c SessionClient) error {
	key := c.Credentials().SessionKey()
	if err := store.SaveSession(ctx, key, c.Snapshot()); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save session", slog.String("key", key), slog.Any("error", err))
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}
