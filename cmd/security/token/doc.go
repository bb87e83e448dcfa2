// Package token provides refresh-token hashing primitives for mereb.
//
// It is the single source of truth for how refresh values are digested before
// they reach a store. Plain refresh values are never persisted.
//
// Modes:
//   - SHA-256(value) when no HMAC key is configured (dev/back-compat).
//   - HMAC-SHA256(value, key) when a key is configured.
//
// Both produce a stable 64-char hex digest.
//
// Environment:
//   - MEREB_TOKEN_HMAC_KEY: when set, enables HMAC mode.
package token
