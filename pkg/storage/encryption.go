package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/raterudder/fusionsolar/pkg/log"
	"github.com/raterudder/fusionsolar/pkg/types"
)

// sealer turns snapshots into the bytes a backend stores. Without a key the
// snapshot JSON is stored as is. With a key the snapshot is encrypted with
// AES-256-GCM and stored as a base64 JSON string, so both forms stay valid
// JSON.
type sealer struct {
	key []byte
}

func newSealer(key string) (*sealer, error) {
	if key == "" {
		return &sealer{}, nil
	}
	if len(key) != 32 {
		return nil, errors.New("invalid encryption key length (must be 32 bytes)")
	}
	return &sealer{key: []byte(key)}, nil
}

func (s *sealer) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return gcm, nil
}

func (s *sealer) seal(ctx context.Context, snap types.SessionSnapshot) ([]byte, error) {
	jsonBytes, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	if len(s.key) == 0 {
		return jsonBytes, nil
	}

	gcm, err := s.gcm()
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to set up session encryption", slog.Any("error", err))
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to generate nonce", slog.Any("error", err))
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, jsonBytes, nil)
	return json.Marshal(base64.StdEncoding.EncodeToString(ciphertext))
}

// open reverses seal. Plain snapshots are accepted even when a key is set so
// turning encryption on does not throw away the current session.
func (s *sealer) open(b []byte) (*types.SessionSnapshot, error) {
	var sealed string
	if err := json.Unmarshal(b, &sealed); err == nil {
		if len(s.key) == 0 {
			return nil, errors.New("session is encrypted but no encryption key is configured")
		}
		encrypted, err := base64.StdEncoding.DecodeString(sealed)
		if err != nil {
			return nil, fmt.Errorf("malformed encrypted session: %w", err)
		}
		gcm, err := s.gcm()
		if err != nil {
			return nil, err
		}
		if len(encrypted) < gcm.NonceSize() {
			return nil, errors.New("malformed encrypted session")
		}
		nonce, ciphertext := encrypted[:gcm.NonceSize()], encrypted[gcm.NonceSize():]
		b, err = gcm.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt session: %w", err)
		}
	}

	var snap types.SessionSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &snap, nil
}
