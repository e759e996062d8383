package storage

import (
	"context"
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the session store based on flags.
func Configured() SessionStore {
	provider := lflag.String("session-store", "none", "Where to persist the portal session between runs (available: none, file, firestore, redis)")
	encryptionKey := lflag.String("session-encryption-key", "", "32 byte key to encrypt saved sessions with (AES-256-GCM), empty stores them in plain JSON")

	var p struct{ SessionStore }

	sl := &sealer{}
	file := configuredFile(sl)
	fs := configuredFirestore(sl)
	rs := configuredRedis(sl)

	lflag.Do(func() {
		configured, err := newSealer(*encryptionKey)
		if err != nil {
			panic(fmt.Sprintf("invalid session-encryption-key: %v", err))
		}
		*sl = *configured

		switch *provider {
		case "", "none":
			p.SessionStore = nopStore{}
		case "file":
			if err := file.Validate(); err != nil {
				panic(fmt.Sprintf("file session store validation failed: %v", err))
			}
			p.SessionStore = file
		case "firestore":
			p.SessionStore = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "redis":
			if err := rs.Validate(); err != nil {
				panic(fmt.Sprintf("redis session store validation failed: %v", err))
			}
			p.SessionStore = rs
			if err := rs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("redis init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown session store: %s", *provider))
		}
	})

	return &p
}
