package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mereb/cmd/identity/ids"
	"mereb/cmd/internal/auth/session"
)

// PostgresDirectory implements Directory over PostgreSQL (mereb.users).
//
// - The pgx pool is owned by the caller; this directory must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
// - Deleting a user cascades to mereb.refresh_tokens through the foreign key.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the directory.
type PostgresOption func(*PostgresDirectory) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "mereb").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

// NewPostgresDirectory constructs a PostgresDirectory.
func NewPostgresDirectory(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{pool: pool, schema: "mereb"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return d, nil
}

var _ Directory = (*PostgresDirectory)(nil)

func (d *PostgresDirectory) users() string { return pgIdent(d.schema, "users") }

// CreateUser inserts a user. Usernames are unique case-insensitively.
func (d *PostgresDirectory) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	norm, err := validateCreate(op, &in)
	if err != nil {
		return User{}, err
	}
	id, err := ids.NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	_, err = d.pool.Exec(ctx,
		`INSERT INTO `+d.users()+` (id, username, username_norm, authorities, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, in.Username, norm, in.Authorities, in.Now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	return User{
		ID:           id,
		Username:     in.Username,
		UsernameNorm: norm,
		Authorities:  in.Authorities,
		CreatedAt:    in.Now,
	}, nil
}

// GetUser loads a user by id.
func (d *PostgresDirectory) GetUser(ctx context.Context, id string) (User, error) {
	return d.getOne(ctx, "identity.GetUser", `id = $1`, strings.TrimSpace(id))
}

// FindByUsername loads a user by case-insensitive username.
func (d *PostgresDirectory) FindByUsername(ctx context.Context, username string) (User, error) {
	return d.getOne(ctx, "identity.FindByUsername", `username_norm = $1`, NormalizeUsername(username))
}

func (d *PostgresDirectory) getOne(ctx context.Context, op, where string, arg string) (User, error) {
	if arg == "" {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}

	var u User
	err := d.pool.QueryRow(ctx,
		`SELECT id, username, username_norm, authorities, created_at
		   FROM `+d.users()+`
		  WHERE `+where,
		arg,
	).Scan(&u.ID, &u.Username, &u.UsernameNorm, &u.Authorities, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

// DeleteUser removes a user and, via ON DELETE CASCADE, its refresh records.
func (d *PostgresDirectory) DeleteUser(ctx context.Context, id string) error {
	const op = "identity.DeleteUser"

	ct, err := d.pool.Exec(ctx, `DELETE FROM `+d.users()+` WHERE id = $1`, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// LookupPrincipal implements session.PrincipalDirectory.
func (d *PostgresDirectory) LookupPrincipal(ctx context.Context, id string) (session.Principal, error) {
	u, err := d.GetUser(ctx, id)
	if err != nil {
		return session.Principal{}, err
	}
	return u.Principal(), nil
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable schema constraint names. Fall back to heuristic substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case strings.Contains(c, "username"):
		return "username", true
	case strings.Contains(c, "pkey"):
		return "id", true
	default:
		return "unique", true
	}
}
