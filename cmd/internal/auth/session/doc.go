// Package session implements mereb's session-token lifecycle.
//
// A session is one access-token/refresh-token pair issued together for one
// login or device. Access tokens are short-lived HS256 JWTs verified without
// server state. Refresh tokens are opaque random strings tracked server-side;
// only their digest is stored (see cmd/security/token).
//
// Every read-check-mutate sequence on a refresh record runs inside
// Store.Update, which the Postgres, Redis and in-memory stores implement with
// row locks, WATCH/MULTI and a store mutex respectively.
//
// Transport (HTTP/gateway) integration is out of scope here.
package session
