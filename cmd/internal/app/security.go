package app

import (
	"errors"
	"fmt"

	"panel/cmd/security/token"
)

// ErrSecurityPolicy is returned when the startup security policy is not met.
var ErrSecurityPolicy = errors.New("security policy")

// tokenHasher enforces the refresh-token hashing policy and returns the
// hasher the session service stores digests with.
func tokenHasher(cfg Config) (token.Hasher, error) {
	h, err := token.HasherFromEnv(cfg.RequireTokenHMAC)
	switch {
	case errors.Is(err, token.ErrHMACKeyMissing):
		return token.Hasher{}, fmt.Errorf("%w: PANEL_REQUIRE_TOKEN_HMAC=true but %s is missing", ErrSecurityPolicy, token.EnvHMACKey)
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return token.Hasher{}, fmt.Errorf("%w: %s is too short (min %d bytes)", ErrSecurityPolicy, token.EnvHMACKey, token.MinHMACKeyBytes)
	case err != nil:
		return token.Hasher{}, err
	}
	if cfg.RequireTokenHMAC && !h.Keyed() {
		return token.Hasher{}, fmt.Errorf("%w: token hasher is not in HMAC mode", ErrSecurityPolicy)
	}
	return h, nil
}
