package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"panel/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on <schema>.users. The pool is owned by
// the caller.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding the users table (default "panel").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	st := &PostgresStore{pool: pool, schema: "panel"}
	for _, opt := range opts {
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (s *PostgresStore) users() string {
	return pgx.Identifier{s.schema, "users"}.Sanitize()
}

const userColumns = `id, username, username_norm, display_name, role, created_at, last_login_at, disabled_at`

func scanUser(row pgx.Row, extra ...any) (User, error) {
	var u User
	dst := append([]any{
		&u.ID, &u.Username, &u.UsernameNorm, &u.DisplayName, &u.Role,
		&u.CreatedAt, &u.LastLoginAt, &u.DisabledAt,
	}, extra...)
	if err := row.Scan(dst...); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, in NewUser) (User, error) {
	const op = "identity.CreateUser"

	id, err := ids.NewAt(in.Now)
	if err != nil {
		return User{}, err
	}
	norm := NormalizeUsername(in.Username)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+s.users()+` (
			id, username, username_norm, display_name, role,
			password_hash, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, id, in.Username, norm, in.DisplayName, string(in.Role), in.PasswordHash, in.Now)
	if err != nil {
		if field, ok := pgUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	return User{
		ID:           id,
		Username:     in.Username,
		UsernameNorm: norm,
		DisplayName:  in.DisplayName,
		Role:         in.Role,
		CreatedAt:    in.Now,
	}, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM `+s.users()+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, notFound("identity.GetUserByID")
	}
	return u, err
}

func (s *PostgresStore) GetUserAuthByUsername(ctx context.Context, username string) (UserAuth, error) {
	var hash string
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+`, password_hash FROM `+s.users()+` WHERE username_norm = $1`,
		NormalizeUsername(username),
	), &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserAuth{}, notFound("identity.GetUserAuthByUsername")
	}
	if err != nil {
		return UserAuth{}, err
	}
	return UserAuth{User: u, PasswordHash: hash}, nil
}

func (s *PostgresStore) RecordLogin(ctx context.Context, id string, now time.Time) error {
	return s.exec(ctx, "identity.RecordLogin",
		`UPDATE `+s.users()+` SET last_login_at = $2 WHERE id = $1`, id, now)
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	return s.exec(ctx, "identity.UpdatePasswordHash",
		`UPDATE `+s.users()+` SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, hash, now)
}

func (s *PostgresStore) SetDisabled(ctx context.Context, id string, disabled bool, now time.Time) error {
	return s.exec(ctx, "identity.SetDisabled", `
		UPDATE `+s.users()+`
		SET disabled_at = CASE WHEN $2 THEN COALESCE(disabled_at, $3) ELSE NULL END,
		    updated_at = $3
		WHERE id = $1
	`, id, disabled, now)
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+s.users()).Scan(&n)
	return n, err
}

func (s *PostgresStore) exec(ctx context.Context, op, sql string, args ...any) error {
	ct, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

func pgUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return "", false
	}
	if strings.Contains(strings.ToLower(pgErr.ConstraintName), "username") {
		return "username", true
	}
	return "unique", true
}
