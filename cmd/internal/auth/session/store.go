package session

import (
	"context"
	"time"
)

// State is the derived lifecycle state of a refresh record.
type State int

const (
	// StateActive records are usable for refresh.
	StateActive State = iota
	// StateRevoked records carry the revoked flag and have not yet expired.
	StateRevoked
	// StateExpired records have reached ExpiresAt. Terminal; dominates the flag.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateRevoked:
		return "revoked"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Record mirrors the mereb.refresh_tokens row.
// The plain refresh value is never stored; ValueHash is its digest.
type Record struct {
	ID        string
	ValueHash string
	OwnerID   string
	CreatedAt time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// State derives the record state at now. Expiry is evaluated at read time.
func (r Record) State(now time.Time) State {
	if !now.Before(r.ExpiresAt) {
		return StateExpired
	}
	if r.Revoked {
		return StateRevoked
	}
	return StateActive
}

// Usable reports whether the record can mint access tokens at now.
func (r Record) Usable(now time.Time) bool { return r.State(now) == StateActive }

// Tx is the set of record operations available inside Store.Update.
//
// Records read through a Tx stay locked (or watched) until Update returns,
// so read-check-mutate sequences are atomic with respect to other Updates.
type Tx interface {
	// FindByValue loads a record by value digest. Returns ErrRecordNotFound when absent.
	FindByValue(ctx context.Context, valueHash string) (Record, error)

	// FindAllByOwner loads every record owned by ownerID.
	FindAllByOwner(ctx context.Context, ownerID string) ([]Record, error)

	// Save upserts a record by ID. Only Revoked is mutable on existing records.
	// Returns ErrDuplicateValue if another record already holds ValueHash.
	Save(ctx context.Context, rec Record) error

	// SaveAll upserts records as one batch.
	SaveAll(ctx context.Context, recs []Record) error

	// DeleteByOwner removes every record owned by ownerID and reports how many were removed.
	DeleteByOwner(ctx context.Context, ownerID string) (int, error)
}

// Store abstracts durable refresh-record persistence.
//
// Implementations must ensure that the function passed to Update either
// commits all of its writes or none of them. A commit lost to a concurrent
// writer is reported as ErrTxConflict so callers can retry the whole unit.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error

	// Ping checks backend reachability (readiness).
	Ping(ctx context.Context) error
}
