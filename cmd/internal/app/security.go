package app

import (
	"errors"

	"mereb/cmd/security/token"
)

// ValidateSecurityConfig enforces mereb's refresh-token hashing policy at startup
// and returns the hasher the session service must use.
//
// - Fail-fast: silently falling back to weaker hashing in production is unacceptable.
// - Enforcement validates the same module that performs hashing (security/token).
func ValidateSecurityConfig(cfg Config) (token.Hasher, error) {
	if !cfg.RequireTokenHMAC {
		return token.HasherFromEnv(), nil
	}

	// Bytes, not runes: the key is used raw.
	key, err := token.HMACKeyFromEnv(token.MinHMACKeyBytes)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return token.Hasher{}, errors.New("security policy: MEREB_REQUIRE_TOKEN_HMAC=true but MEREB_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return token.Hasher{}, errors.New("security policy: MEREB_REQUIRE_TOKEN_HMAC=true but MEREB_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return token.Hasher{}, err
		}
	}

	h := token.NewHasher(key)
	if !h.HMAC() {
		return token.Hasher{}, errors.New("security policy: MEREB_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}
	return h, nil
}
