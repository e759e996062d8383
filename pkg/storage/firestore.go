package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/fusionsolar/pkg/log"
	"github.com/raterudder/fusionsolar/pkg/types"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const sessionsCollection = "fusionsolarSessions"

// FirestoreStore keeps each session in its own document of the
// fusionsolarSessions collection, stored as a JSON string for portability.
type FirestoreStore struct {
	client          *firestore.Client
	projectID       string
	database        string
	credentialsFile string
	sealer          *sealer
}

// configuredFirestore sets up the Firestore store.
// It registers flags for configuration.
func configuredFirestore(sl *sealer) *FirestoreStore {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	credentialsFile := lflag.String("firestore-credentials-file", "", "Service account JSON file (defaults to application default credentials)")

	f := &FirestoreStore{sealer: sl}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.credentialsFile = *credentialsFile

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Init initializes the Firestore client.
// This must be called before using the store.
func (f *FirestoreStore) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	var opts []option.ClientOption
	if f.credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(f.credentialsFile))
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database, opts...)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreStore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// document IDs may not contain slashes, which session keys always do
func (f *FirestoreStore) doc(key string) (*firestore.DocumentRef, error) {
	if key == "" {
		return nil, fmt.Errorf("session key cannot be empty")
	}
	return f.client.Collection(sessionsCollection).Doc(url.PathEscape(key)), nil
}

// LoadSession retrieves the session stored under key.
func (f *FirestoreStore) LoadSession(ctx context.Context, key string) (*types.SessionSnapshot, error) {
	ref, err := f.doc(key)
	if err != nil {
		return nil, err
	}
	doc, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch session doc: %w", err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "session doc missing json", slog.String("key", key))
		return nil, nil
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "session doc json not string", slog.String("key", key))
		return nil, nil
	}

	snap, err := f.sealer.open([]byte(jsonStr))
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "ignoring unreadable session", slog.String("key", key), slog.Any("err", err))
		return nil, nil
	}
	return snap, nil
}

// SaveSession replaces the session stored under key.
func (f *FirestoreStore) SaveSession(ctx context.Context, key string, snap types.SessionSnapshot) error {
	jsonBytes, err := f.sealer.seal(ctx, snap)
	if err != nil {
		return err
	}
	ref, err := f.doc(key)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"updated": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}
