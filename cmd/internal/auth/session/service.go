package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"mereb/cmd/identity/ids"
	"mereb/cmd/security/token"
)

// maxRefreshValueLen bounds refresh input before hashing.
const maxRefreshValueLen = 4096

// Service implements the session operations for mereb.
//
// It issues sessions (access + refresh), mints access tokens from refresh
// values, and supports per-token and per-owner revocation. Every
// read-check-mutate sequence runs inside one Store.Update; a transaction that
// loses a race is retried as a whole with exponential backoff.
type Service struct {
	cfg        Config
	codec      *Codec
	store      Store
	principals PrincipalDirectory
	gate       Authenticator
	values     ValueGenerator
	hasher     token.Hasher
	clock      Clock
	log        *slog.Logger
	metrics    *Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source (default SystemClock).
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithValueGenerator overrides the refresh value source (default RandomValues).
func WithValueGenerator(g ValueGenerator) Option {
	return func(s *Service) {
		if g != nil {
			s.values = g
		}
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics enables session counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAuthenticator sets the credential gate used by Authenticate.
func WithAuthenticator(a Authenticator) Option {
	return func(s *Service) { s.gate = a }
}

// WithHasher sets how refresh values are digested at rest (default SHA-256).
func WithHasher(h token.Hasher) Option {
	return func(s *Service) { s.hasher = h }
}

// Issued is the result of issuing a session.
// RefreshToken is the plain value; it must be handed to the client once and never logged.
type Issued struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
	RecordID         string
	Outcome          string
}

// NewService constructs a Service. store and principals are required.
func NewService(cfg Config, store Store, principals PrincipalDirectory, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || principals == nil {
		return nil, fmt.Errorf("%w: store and principal directory are required", ErrConfig)
	}

	s := &Service{
		cfg:        cfg,
		store:      store,
		principals: principals,
		values:     RandomValues(cfg.RefreshTokenBytes),
		clock:      SystemClock(),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	codec, err := NewCodec(cfg.Secret, s.clock)
	if err != nil {
		return nil, err
	}
	s.codec = codec
	return s, nil
}

// Codec exposes the access token codec (read-only use).
func (s *Service) Codec() *Codec { return s.codec }

// Authenticate verifies credentials through the configured gate and issues a session.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Issued, error) {
	const op = "session.Authenticate"

	if s.gate == nil {
		return Issued{}, OpError{Op: op, Kind: ErrAuthenticatorMissing}
	}
	p, err := s.gate.Authenticate(ctx, username, password)
	if err != nil {
		return Issued{}, fmt.Errorf("%s: %w", op, err)
	}
	return s.IssueSession(ctx, p)
}

// IssueSession signs an access token for p and attaches a refresh record to p.
//
// A candidate refresh value is looked up before it is stored:
//   - no record: a new Active record is created (OutcomeCreated)
//   - Active record: its value is returned unchanged (OutcomeReused)
//   - Revoked, not expired: the flag is cleared (OutcomeRestored)
//   - Expired: the candidate is abandoned and a fresh value is generated,
//     up to MaxIssueAttempts times, then ErrValueSpaceExhausted.
func (s *Service) IssueSession(ctx context.Context, p Principal) (Issued, error) {
	const op = "session.IssueSession"

	if strings.TrimSpace(p.ID) == "" {
		return Issued{}, OpError{Op: op, Kind: ErrInvalidPrincipal, Msg: "missing principal id"}
	}

	access, err := s.codec.Sign(p.Username, p.Authorities, s.cfg.AccessTokenTTL)
	if err != nil {
		return Issued{}, fmt.Errorf("%s: sign access token: %w", op, err)
	}

	var out Issued
	err = s.update(ctx, op, func(tx Tx) error {
		out = Issued{AccessToken: access}
		for attempt := 0; attempt < s.cfg.MaxIssueAttempts; attempt++ {
			value, err := s.values.NewValue()
			if err != nil {
				return fmt.Errorf("generate refresh value: %w", err)
			}
			now := s.clock.Now()
			hash := s.hasher.Hash(value)

			rec, err := tx.FindByValue(ctx, hash)
			switch {
			case errors.Is(err, ErrRecordNotFound):
				id, err := ids.NewULID(now)
				if err != nil {
					return fmt.Errorf("new record id: %w", err)
				}
				rec = Record{
					ID:        id,
					ValueHash: hash,
					OwnerID:   p.ID,
					CreatedAt: now,
					ExpiresAt: now.Add(s.cfg.RefreshTTL),
				}
				if err := tx.Save(ctx, rec); err != nil {
					return err
				}
				out.Outcome = OutcomeCreated
			case err != nil:
				return err
			default:
				switch rec.State(now) {
				case StateActive:
					out.Outcome = OutcomeReused
				case StateRevoked:
					rec.Revoked = false
					if err := tx.Save(ctx, rec); err != nil {
						return err
					}
					out.Outcome = OutcomeRestored
				default:
					// Expired values stay taken; try another.
					continue
				}
			}

			out.RefreshToken = value
			out.RefreshExpiresAt = rec.ExpiresAt
			out.RecordID = rec.ID
			return nil
		}
		return ErrValueSpaceExhausted
	})
	if err != nil {
		return Issued{}, wrapOp(op, err)
	}

	s.metrics.issue(out.Outcome)
	s.log.DebugContext(ctx, "session.issue",
		"record_id", out.RecordID,
		"owner_id", p.ID,
		"outcome", out.Outcome,
	)
	return out, nil
}

// RefreshAccessToken mints a new access token for the owner of an Active refresh record.
// The record is neither rotated nor extended.
//
// Errors: ErrTokenNotFound (no such value, or its owner is gone), ErrInvalidToken
// (revoked or expired).
func (s *Service) RefreshAccessToken(ctx context.Context, refreshValue string) (string, error) {
	const op = "session.RefreshAccessToken"

	refreshValue = strings.TrimSpace(refreshValue)
	if refreshValue == "" || len(refreshValue) > maxRefreshValueLen {
		s.metrics.refresh("not_found")
		return "", OpError{Op: op, Kind: ErrTokenNotFound}
	}
	hash := s.hasher.Hash(refreshValue)

	var rec Record
	err := s.update(ctx, op, func(tx Tx) error {
		var err error
		rec, err = tx.FindByValue(ctx, hash)
		if errors.Is(err, ErrRecordNotFound) {
			return ErrTokenNotFound
		}
		if err != nil {
			return err
		}
		if !rec.Usable(s.clock.Now()) {
			return ErrInvalidToken
		}
		return nil
	})
	if err != nil {
		s.refreshFailed(err)
		return "", wrapOp(op, err)
	}

	p, err := s.principals.LookupPrincipal(ctx, rec.OwnerID)
	if errors.Is(err, ErrOwnerNotFound) {
		s.metrics.refresh("not_found")
		return "", OpError{Op: op, Kind: ErrTokenNotFound, Msg: "owner no longer exists"}
	}
	if err != nil {
		return "", fmt.Errorf("%s: lookup owner: %w", op, err)
	}

	access, err := s.codec.Sign(p.Username, p.Authorities, s.cfg.AccessTokenTTL)
	if err != nil {
		return "", fmt.Errorf("%s: sign access token: %w", op, err)
	}

	s.metrics.refresh("ok")
	s.log.DebugContext(ctx, "session.refresh", "record_id", rec.ID, "owner_id", rec.OwnerID)
	return access, nil
}

func (s *Service) refreshFailed(err error) {
	switch {
	case errors.Is(err, ErrTokenNotFound):
		s.metrics.refresh("not_found")
	case errors.Is(err, ErrInvalidToken):
		s.metrics.refresh("invalid")
	default:
		s.metrics.refresh("error")
	}
}

// Revoke marks the record holding refreshValue as revoked.
// Unknown, already revoked and expired values are a no-op, never an error.
func (s *Service) Revoke(ctx context.Context, refreshValue string) error {
	const op = "session.Revoke"

	refreshValue = strings.TrimSpace(refreshValue)
	if refreshValue == "" || len(refreshValue) > maxRefreshValueLen {
		return nil
	}
	hash := s.hasher.Hash(refreshValue)

	var revokedID string
	err := s.update(ctx, op, func(tx Tx) error {
		revokedID = ""
		rec, err := tx.FindByValue(ctx, hash)
		if errors.Is(err, ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !rec.Usable(s.clock.Now()) {
			return nil
		}
		rec.Revoked = true
		if err := tx.Save(ctx, rec); err != nil {
			return err
		}
		revokedID = rec.ID
		return nil
	})
	if err != nil {
		return wrapOp(op, err)
	}

	if revokedID != "" {
		s.metrics.revoke("single", 1)
		s.log.InfoContext(ctx, "session.revoke", "record_id", revokedID)
	}
	return nil
}

// RevokeAll revokes every refresh record of ownerID in one batch.
//
// Either every record read by the committing transaction is saved revoked, or
// none is. Records committed after that read stay untouched.
func (s *Service) RevokeAll(ctx context.Context, ownerID string) error {
	const op = "session.RevokeAll"

	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return OpError{Op: op, Kind: ErrOwnerNotFound}
	}
	if _, err := s.principals.LookupPrincipal(ctx, ownerID); err != nil {
		return wrapOp(op, err)
	}

	var total, flipped int
	err := s.update(ctx, op, func(tx Tx) error {
		recs, err := tx.FindAllByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		total, flipped = len(recs), 0
		for i := range recs {
			if recs[i].Usable(now) {
				flipped++
			}
			recs[i].Revoked = true
		}
		return tx.SaveAll(ctx, recs)
	})
	if err != nil {
		return wrapOp(op, err)
	}

	s.metrics.revoke("all", flipped)
	s.log.InfoContext(ctx, "session.revoke_all",
		"owner_id", ownerID,
		"records", total,
		"revoked", flipped,
	)
	return nil
}

// PurgeOwner deletes every refresh record of ownerID and reports how many were removed.
// It backs owner deletion on stores without a cascading foreign key.
func (s *Service) PurgeOwner(ctx context.Context, ownerID string) (int, error) {
	const op = "session.PurgeOwner"

	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return 0, nil
	}

	var n int
	err := s.update(ctx, op, func(tx Tx) error {
		var err error
		n, err = tx.DeleteByOwner(ctx, ownerID)
		return err
	})
	if err != nil {
		return 0, wrapOp(op, err)
	}

	s.log.InfoContext(ctx, "session.purge_owner", "owner_id", ownerID, "deleted", n)
	return n, nil
}

// VerifyAccessToken checks an access token and returns its claims.
func (s *Service) VerifyAccessToken(accessToken string) (AccessClaims, error) {
	claims, err := s.codec.Verify(strings.TrimSpace(accessToken))
	if err != nil {
		return AccessClaims{}, OpError{Op: "session.VerifyAccessToken", Kind: err}
	}
	return claims, nil
}

// update runs fn in a store transaction, retrying the whole unit on conflicts.
func (s *Service) update(ctx context.Context, op string, fn func(tx Tx) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.store.Update(ctx, fn)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, ErrTxConflict), errors.Is(err, ErrDuplicateValue):
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(s.cfg.TxRetries)), // #nosec G115 -- validated positive
		backoff.WithNotify(func(err error, d time.Duration) {
			s.metrics.retry(op)
			s.log.DebugContext(ctx, "session.tx.retry", "op", op, "backoff", d, "err", err)
		}),
	)
	return err
}

// wrapOp attaches op context. Sentinel kinds become OpError so errors.Is keeps working.
func wrapOp(op string, err error) error {
	for _, kind := range []error{
		ErrTokenNotFound,
		ErrInvalidToken,
		ErrOwnerNotFound,
		ErrValueSpaceExhausted,
		ErrTxConflict,
		ErrDuplicateValue,
	} {
		if errors.Is(err, kind) {
			return OpError{Op: op, Kind: kind}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
