package fusion

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/url"
	"strings"
)

const (
	// the portal's javascript never encrypts more than this many bytes at once
	encryptChunkSize = 270
	encryptSeparator = "00000001"
)

// publicKey is the answer of the pubkey bootstrap endpoint. It is fetched
// before every login and never cached.
type publicKey struct {
	PubKey        string     `json:"pubKey"`
	Version       string     `json:"version"`
	TimeStamp     flexString `json:"timeStamp"`
	EnableEncrypt bool       `json:"enableEncrypt"`
}

// encrypted reports whether the login must use the encrypted (v3) flow.
func (k publicKey) encrypted() bool {
	return k.EnableEncrypt && k.PubKey != "" && k.Version != ""
}

// encryptPassword builds the password field of the login request. Without
// encryption the plaintext password is sent to the legacy endpoint.
func encryptPassword(key publicKey, password string) (string, error) {
	if !key.encrypted() {
		return password, nil
	}

	pub, err := parseRSAPublicKey(key.PubKey)
	if err != nil {
		return "", err
	}

	escaped := url.QueryEscape(password)
	var chunks []string
	for start := 0; start < len(escaped); start += encryptChunkSize {
		end := min(start+encryptChunkSize, len(escaped))
		ciphertext, err := rsa.EncryptOAEP(sha512.New384(), rand.Reader, pub, []byte(escaped[start:end]), nil)
		if err != nil {
			return "", fmt.Errorf("%w: failed to encrypt password: %w", ErrConfiguration, err)
		}
		chunks = append(chunks, base64.StdEncoding.EncodeToString(ciphertext))
	}
	return strings.Join(chunks, encryptSeparator) + key.Version, nil
}

func parseRSAPublicKey(pemKey string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, fmt.Errorf("%w: public key is not PEM encoded", ErrConfiguration)
	}

	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		pub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: public key is %T, expected RSA", ErrConfiguration, parsed)
		}
		return pub, nil
	}

	// some regions still hand out PKCS#1 keys
	pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse public key: %w", ErrConfiguration, err)
	}
	return pub, nil
}
