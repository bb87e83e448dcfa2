package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (mereb.refresh_tokens).
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Reads inside Update take row locks (SELECT ... FOR UPDATE), so concurrent
// refresh/revoke on the same value serialize on the row.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	table  string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "mereb").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("session: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore creates a Postgres-backed refresh record store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "mereb"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("session: nil pool")
	}
	st.table = pgx.Identifier{st.schema, "refresh_tokens"}.Sanitize()
	return st, nil
}

// Ping checks that a connection can be acquired.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Update runs fn inside a single READ COMMITTED transaction.
func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return classifyPgError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx, table: s.table}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyPgError(err)
	}
	return nil
}

type pgTx struct {
	tx    pgx.Tx
	table string
}

func (t *pgTx) FindByValue(ctx context.Context, valueHash string) (Record, error) {
	var rec Record
	err := t.tx.QueryRow(ctx, `
		SELECT id, value_hash, owner_id, created_at, expires_at, revoked
		FROM `+t.table+`
		WHERE value_hash = $1
		FOR UPDATE
	`, valueHash).Scan(
		&rec.ID,
		&rec.ValueHash,
		&rec.OwnerID,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.Revoked,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, classifyPgError(err)
	}
	return rec, nil
}

func (t *pgTx) FindAllByOwner(ctx context.Context, ownerID string) ([]Record, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, value_hash, owner_id, created_at, expires_at, revoked
		FROM `+t.table+`
		WHERE owner_id = $1
		ORDER BY id
		FOR UPDATE
	`, ownerID)
	if err != nil {
		return nil, classifyPgError(err)
	}

	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var rec Record
		err := row.Scan(&rec.ID, &rec.ValueHash, &rec.OwnerID, &rec.CreatedAt, &rec.ExpiresAt, &rec.Revoked)
		return rec, err
	})
	if err != nil {
		return nil, classifyPgError(err)
	}
	return recs, nil
}

// upsertSQL never touches expires_at, value_hash or owner_id of an existing row.
func (t *pgTx) upsertSQL() string {
	return `
		INSERT INTO ` + t.table + ` (id, value_hash, owner_id, created_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET revoked = EXCLUDED.revoked
	`
}

func (t *pgTx) Save(ctx context.Context, rec Record) error {
	_, err := t.tx.Exec(ctx, t.upsertSQL(),
		rec.ID, rec.ValueHash, rec.OwnerID, rec.CreatedAt, rec.ExpiresAt, rec.Revoked)
	if err != nil {
		return classifyPgError(err)
	}
	return nil
}

func (t *pgTx) SaveAll(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}

	q := t.upsertSQL()
	batch := &pgx.Batch{}
	for _, rec := range recs {
		batch.Queue(q, rec.ID, rec.ValueHash, rec.OwnerID, rec.CreatedAt, rec.ExpiresAt, rec.Revoked)
	}

	br := t.tx.SendBatch(ctx, batch)
	for range recs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return classifyPgError(err)
		}
	}
	if err := br.Close(); err != nil {
		return classifyPgError(err)
	}
	return nil
}

func (t *pgTx) DeleteByOwner(ctx context.Context, ownerID string) (int, error) {
	ct, err := t.tx.Exec(ctx, `DELETE FROM `+t.table+` WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, classifyPgError(err)
	}
	return int(ct.RowsAffected()), nil
}

// classifyPgError maps Postgres error codes onto store sentinels.
func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		return fmt.Errorf("%w: %s", ErrDuplicateValue, pgErr.ConstraintName)
	case "23503": // foreign_key_violation
		return ErrOwnerNotFound
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return fmt.Errorf("%w: %s", ErrTxConflict, pgErr.Code)
	default:
		return err
	}
}
