// Package auth verifies the service API keys that collaborator services
// present when calling the checkout core.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// ErrUnauthorized is returned for unknown, inactive, or mismatched keys.
var ErrUnauthorized = errors.New("unauthorized")

// APIKey holds the identity and permission data of a validated key.
type APIKey struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// Repository provides lookup of active API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKey, error)
}

// Hash computes the storage form of a raw key: hex-encoded HMAC-SHA256
// under the server-side pepper.
func Hash(pepper []byte, rawKey string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(rawKey))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier authenticates raw API keys against the key store.
type Verifier struct {
	keys   Repository
	pepper []byte
}

// NewVerifier creates a Verifier with the given repository and HMAC pepper.
func NewVerifier(keys Repository, pepper []byte) *Verifier {
	return &Verifier{keys: keys, pepper: pepper}
}

// Verify authenticates a raw key and returns its identity record. All
// failure modes collapse into ErrUnauthorized.
func (v *Verifier) Verify(ctx context.Context, rawKey string) (*APIKey, error) {
	mac := hmac.New(sha256.New, v.pepper)
	mac.Write([]byte(rawKey))
	sum := mac.Sum(nil)

	info, err := v.keys.FindByHash(ctx, hex.EncodeToString(sum))
	if err != nil {
		return nil, ErrUnauthorized
	}

	// The lookup already matched, but compare in constant time anyway in
	// case the repository returned a stale or wrong row.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare(sum, stored) != 1 {
		return nil, ErrUnauthorized
	}

	return info, nil
}
