package session

import (
	"errors"
	"fmt"
)

// Access-token errors returned by Codec.Verify.
var (
	// ErrMalformedToken is returned when a token cannot be decoded.
	ErrMalformedToken = errors.New("malformed token")
	// ErrBadSignature is returned when the signature does not match the configured secret.
	ErrBadSignature = errors.New("bad token signature")
	// ErrTokenExpired is returned when now >= exp.
	ErrTokenExpired = errors.New("token expired")
)

// Refresh/session errors returned by Service.
var (
	// ErrTokenNotFound is returned when a refresh value matches no record.
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrInvalidToken is returned when a refresh record is revoked or expired.
	ErrInvalidToken = errors.New("refresh token revoked or expired")
	// ErrOwnerNotFound is returned when the owning principal does not exist.
	ErrOwnerNotFound = errors.New("owner not found")
	// ErrInvalidPrincipal is returned when a principal has no id.
	ErrInvalidPrincipal = errors.New("invalid principal")
	// ErrAuthenticatorMissing is returned by Authenticate when no gate is configured.
	ErrAuthenticatorMissing = errors.New("authenticator not configured")
	// ErrValueSpaceExhausted is returned when every generated refresh value collided
	// with an expired record.
	ErrValueSpaceExhausted = errors.New("refresh value generation exhausted")
	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// Store errors.
var (
	// ErrRecordNotFound is returned by Tx.FindByValue when nothing matches.
	ErrRecordNotFound = errors.New("refresh record not found")
	// ErrDuplicateValue is returned when a save would break value uniqueness.
	ErrDuplicateValue = errors.New("duplicate refresh value")
	// ErrTxConflict is returned when a store transaction lost a race and may be retried as a whole.
	ErrTxConflict = errors.New("store transaction conflict")
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Kind is one of the sentinel errors above; Msg must never carry refresh values.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }
