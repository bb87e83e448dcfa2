package session

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the identity envelope carried by an access token.
type AccessClaims struct {
	Subject     string
	Authorities []string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// wireClaims is the JWT payload. iat and exp are epoch milliseconds so expiry
// is compared at millisecond resolution.
type wireClaims struct {
	Subject     string `json:"sub"`
	Authorities string `json:"authorities"`
	IssuedAt    int64  `json:"iat"`
	ExpiresAt   int64  `json:"exp"`
}

func (c wireClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	if c.ExpiresAt == 0 {
		return nil, nil
	}
	return &jwt.NumericDate{Time: time.UnixMilli(c.ExpiresAt)}, nil
}

func (c wireClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	if c.IssuedAt == 0 {
		return nil, nil
	}
	return &jwt.NumericDate{Time: time.UnixMilli(c.IssuedAt)}, nil
}

func (wireClaims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (wireClaims) GetIssuer() (string, error)              { return "", nil }
func (c wireClaims) GetSubject() (string, error)           { return c.Subject, nil }
func (wireClaims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

// Codec signs and verifies HS256 access tokens. It holds no mutable state and
// is safe for concurrent use.
type Codec struct {
	secret []byte
	clock  Clock
}

// NewCodec builds a Codec over a shared secret.
func NewCodec(secret []byte, clock Clock) (*Codec, error) {
	if len(secret) < MinSecretBytes {
		return nil, ErrConfig
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Codec{secret: append([]byte(nil), secret...), clock: clock}, nil
}

// Sign returns a compact token for subject with exp = now + ttl.
// Authorities are sorted and comma-joined, so equal inputs at the same
// millisecond produce identical tokens.
func (c *Codec) Sign(subject string, authorities []string, ttl time.Duration) (string, error) {
	now := c.clock.Now()

	sorted := append([]string(nil), authorities...)
	sort.Strings(sorted)

	claims := wireClaims{
		Subject:     subject,
		Authorities: strings.Join(sorted, ","),
		IssuedAt:    now.UnixMilli(),
		ExpiresAt:   now.Add(ttl).UnixMilli(),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Verify checks the signature and expiry of token and returns its claims.
//
// Errors: ErrMalformedToken, ErrBadSignature, ErrTokenExpired.
// A token is valid only while now < exp.
func (c *Codec) Verify(token string) (AccessClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time {
			return time.UnixMilli(c.clock.Now().UnixMilli())
		}),
	)

	var claims wireClaims
	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return AccessClaims{}, classifyJWTError(err)
	}

	return AccessClaims{
		Subject:     claims.Subject,
		Authorities: splitAuthorities(claims.Authorities),
		IssuedAt:    time.UnixMilli(claims.IssuedAt).UTC(),
		ExpiresAt:   time.UnixMilli(claims.ExpiresAt).UTC(),
	}, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		// Malformed segments, unknown algorithms and missing claims.
		return ErrMalformedToken
	}
}

func splitAuthorities(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
