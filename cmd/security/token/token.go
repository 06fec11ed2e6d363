package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// EnvHMACKey names the HMAC secret variable.
	// #nosec G101 -- environment variable name, not a credential.
	EnvHMACKey = "PANEL_TOKEN_HMAC_KEY"

	// MinHMACKeyBytes is the shortest key accepted in enforced mode.
	MinHMACKeyBytes = 32
)

// Hasher digests tokens for server-side storage. The zero value uses SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher returns a keyed Hasher, or an unkeyed one when key is empty.
func NewHasher(key []byte) Hasher {
	if len(key) == 0 {
		return Hasher{}
	}
	k := make([]byte, len(key))
	copy(k, key)
	return Hasher{key: k}
}

// HasherFromEnv builds a Hasher from PANEL_TOKEN_HMAC_KEY. With require set,
// a missing key yields ErrHMACKeyMissing and a key shorter than
// MinHMACKeyBytes yields ErrHMACKeyTooShort.
func HasherFromEnv(require bool) (Hasher, error) {
	raw := strings.TrimSpace(os.Getenv(EnvHMACKey))
	if raw == "" {
		if require {
			return Hasher{}, ErrHMACKeyMissing
		}
		return Hasher{}, nil
	}
	if require && len(raw) < MinHMACKeyBytes {
		return Hasher{}, ErrHMACKeyTooShort
	}
	return NewHasher([]byte(raw)), nil
}

// Keyed reports whether h uses HMAC.
func (h Hasher) Keyed() bool { return len(h.key) > 0 }

// Hash returns the hex digest of tok.
func (h Hasher) Hash(tok string) string {
	if len(h.key) == 0 {
		return SHA256Hex(tok)
	}
	return HMACSHA256Hex(tok, h.key)
}

// Matches compares tok against a stored digest in constant time.
func (h Hasher) Matches(tok, digestHex string) bool {
	return hmac.Equal([]byte(h.Hash(tok)), []byte(digestHex))
}

// SHA256Hex returns the SHA-256 hex digest of s.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HMACSHA256Hex returns the HMAC-SHA256 hex digest of s under key.
func HMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// NewOpaque returns nBytes of randomness, base64url-encoded without padding.
func NewOpaque(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
