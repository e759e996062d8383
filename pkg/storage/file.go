package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/fusionsolar/pkg/log"
	"github.com/raterudder/fusionsolar/pkg/types"
)

// FileStore keeps sessions in a single JSON file mapping each session key to
// its snapshot. The file is replaced atomically on every save.
type FileStore struct {
	path   string
	sealer *sealer

	mu sync.Mutex
}

// NewFileStore returns a store backed by the file at path. Snapshots are
// stored unencrypted.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, sealer: &sealer{}}
}

func configuredFile(sl *sealer) *FileStore {
	path := lflag.String("session-file", "fusionsolar-session.json", "File to keep the portal session in when session-store=file")

	f := &FileStore{sealer: sl}
	lflag.Do(func() {
		f.path = *path
	})
	return f
}

// Validate checks if the store is properly configured.
func (f *FileStore) Validate() error {
	if f.path == "" {
		return errors.New("session-file is required")
	}
	return nil
}

// readAll returns the sessions in the file. A missing file is empty and an
// unparsable one is reported with ok=false.
func (f *FileStore) readAll() (map[string]json.RawMessage, bool, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]json.RawMessage{}, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read session file: %w", err)
	}
	sessions := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &sessions); err != nil {
		return map[string]json.RawMessage{}, false, nil
	}
	return sessions, true, nil
}

// LoadSession returns the session stored under key.
func (f *FileStore) LoadSession(ctx context.Context, key string) (*types.SessionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sessions, ok, err := f.readAll()
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "ignoring unparsable session file", slog.String("path", f.path))
		return nil, nil
	}
	raw, found := sessions[key]
	if !found {
		return nil, nil
	}
	snap, err := f.sealer.open(raw)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "ignoring unreadable session", slog.String("path", f.path), slog.String("key", key), slog.Any("err", err))
		return nil, nil
	}
	return snap, nil
}

// SaveSession stores snap under key, keeping the sessions of other keys.
func (f *FileStore) SaveSession(ctx context.Context, key string, snap types.SessionSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	sessions, ok, err := f.readAll()
	if err != nil {
		return err
	}
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "overwriting unparsable session file", slog.String("path", f.path))
	}
	sealed, err := f.sealer.seal(ctx, snap)
	if err != nil {
		return err
	}
	sessions[key] = sealed

	b, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}
	if err := writeFileAtomic(f.path, b, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "saved session", slog.String("path", f.path), slog.Int("cookies", len(snap.Cookies)))
	return nil
}

// Close is a no-op.
func (f *FileStore) Close() error {
	return nil
}

// writeFileAtomic writes to a temporary file next to path and renames it over
// path so readers never see a partial file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
