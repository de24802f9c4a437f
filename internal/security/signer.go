package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize    = 32
	saltSize   = 32
	pbkdf2Iter = 100000
	keyFile    = ".key"
	secretFile = ".secret"
)

var encoding = base64.RawURLEncoding

// KeySigner produces and verifies tamper-evident tokens.
// The signing key is derived with PBKDF2 from a secret and a salt kept in the data directory.
type KeySigner struct {
	key []byte
}

// NewKeySigner loads (or creates) the salt in dataDir and derives the signing key.
// An empty secret falls back to a random per-install secret kept next to the
// salt, so the key depends on nothing but the data directory.
func NewKeySigner(dataDir, secret string) (*KeySigner, error) {
	salt, err := loadOrCreateRandom(filepath.Join(dataDir, keyFile), saltSize)
	if err != nil {
		return nil, err
	}
	material := []byte(secret)
	if secret == "" {
		if material, err = loadOrCreateRandom(filepath.Join(dataDir, secretFile), keySize); err != nil {
			return nil, err
		}
	}
	return &KeySigner{
		key: pbkdf2.Key(material, salt, pbkdf2Iter, keySize, sha256.New),
	}, nil
}

// Sign returns payload and its MAC as "<payload>.<mac>", both base64url encoded
func (s *KeySigner) Sign(payload []byte) string {
	return encoding.EncodeToString(payload) + "." + encoding.EncodeToString(s.mac(payload))
}

// Verify returns the payload of a token produced by Sign.
// It reports false for anything malformed or forged.
func (s *KeySigner) Verify(token string) ([]byte, bool) {
	encPayload, encMAC, found := strings.Cut(token, ".")
	if !found || encPayload == "" || encMAC == "" {
		return nil, false
	}
	payload, err := encoding.DecodeString(encPayload)
	if err != nil {
		return nil, false
	}
	mac, err := encoding.DecodeString(encMAC)
	if err != nil {
		return nil, false
	}
	if !hmac.Equal(mac, s.mac(payload)) {
		return nil, false
	}
	return payload, true
}

func (s *KeySigner) mac(payload []byte) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write(payload)
	return h.Sum(nil)
}

// loadOrCreateRandom reads size random bytes from path, generating and
// writing them on first use
func loadOrCreateRandom(path string, size int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if err != nil || len(b) < size {
			return nil, fmt.Errorf("invalid key file format: %s", path)
		}
		return b[:size], nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	b := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("failed to generate key material: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(b)), 0600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	return b, nil
}
