// Package auth resolves presented API keys to account records. Only the
// SHA-256 digest of a key is ever stored or sent to the backing store; the
// plaintext exists in memory for the duration of a request.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
)

var (
	// ErrKeyNotFound means the digest matched no active record. Maps to 401.
	ErrKeyNotFound = errors.New("api key not found")

	// ErrStoreUnavailable means the backing store could not be reached.
	// Distinct from ErrKeyNotFound so an infrastructure outage is not
	// reported to the caller as an invalid credential.
	ErrStoreUnavailable = errors.New("key store unavailable")
)

// Record is one issued API key, looked up by key digest.
type Record struct {
	ID              string `json:"id"`
	TenantID        string `json:"tenant_id,omitempty"`
	Label           string `json:"label,omitempty"`
	RateLimitPerMin int    `json:"rate_limit_per_min"`
	Status          string `json:"status"`
}

// KeyStore resolves a plaintext API key to its account record.
type KeyStore interface {
	Resolve(ctx context.Context, plaintextKey string) (*Record, error)
}

// HashKey returns the hex SHA-256 digest of a plaintext key.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// GenerateKey returns a new url-safe random plaintext key.
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// devKeyID is the fixed record id handed out by the development store.
const devKeyID = "00000000-0000-0000-0000-000000000000"

// DevKeyStore accepts exactly one fixed plaintext key. It stands in when no
// external store is configured and must not be wired in production builds.
type DevKeyStore struct {
	keyHash         string
	rateLimitPerMin int
}

// NewDevKeyStore builds a development store accepting only plaintext.
func NewDevKeyStore(plaintext string, rateLimitPerMin int) *DevKeyStore {
	return &DevKeyStore{
		keyHash:         HashKey(plaintext),
		rateLimitPerMin: rateLimitPerMin,
	}
}

func (s *DevKeyStore) Resolve(_ context.Context, plaintextKey string) (*Record, error) {
	hash := HashKey(plaintextKey)
	if subtle.ConstantTimeCompare([]byte(hash), []byte(s.keyHash)) != 1 {
		return nil, ErrKeyNotFound
	}
	return &Record{
		ID:              devKeyID,
		Label:           "development",
		RateLimitPerMin: s.rateLimitPerMin,
		Status:          StatusActive,
	}, nil
}
