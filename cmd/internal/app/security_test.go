package app

import (
	"strings"
	"testing"

	"mereb/cmd/security/token"
)

func TestValidateSecurityConfig(t *testing.T) {
	t.Run("not required, no key", func(t *testing.T) {
		t.Setenv(token.HMACEnvKey, "")
		h, err := ValidateSecurityConfig(Config{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if h.HMAC() {
			t.Fatalf("expected SHA-256 mode")
		}
	})

	t.Run("not required, key present", func(t *testing.T) {
		t.Setenv(token.HMACEnvKey, "short-but-used")
		h, err := ValidateSecurityConfig(Config{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !h.HMAC() {
			t.Fatalf("expected HMAC mode")
		}
	})

	t.Run("required, missing", func(t *testing.T) {
		t.Setenv(token.HMACEnvKey, "")
		if _, err := ValidateSecurityConfig(Config{RequireTokenHMAC: true}); err == nil || !strings.Contains(err.Error(), "missing") {
			t.Fatalf("expected missing-key error, got %v", err)
		}
	})

	t.Run("required, too short", func(t *testing.T) {
		t.Setenv(token.HMACEnvKey, strings.Repeat("x", token.MinHMACKeyBytes-1))
		if _, err := ValidateSecurityConfig(Config{RequireTokenHMAC: true}); err == nil || !strings.Contains(err.Error(), "too short") {
			t.Fatalf("expected too-short error, got %v", err)
		}
	})

	t.Run("required, ok", func(t *testing.T) {
		key := strings.Repeat("x", token.MinHMACKeyBytes)
		t.Setenv(token.HMACEnvKey, key)
		h, err := ValidateSecurityConfig(Config{RequireTokenHMAC: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got, want := h.Hash("v"), token.HashHMACSHA256Hex("v", []byte(key)); got != want {
			t.Fatalf("hash=%q want %q", got, want)
		}
	})
}
