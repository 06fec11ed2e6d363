package session

import (
	"context"
	"errors"
	"time"

	"panel/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on panel.sessions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectRow = `
	SELECT
		id, user_id, refresh_token_hash,
		created_at, last_used_at, expires_at, revoked_at,
		replaced_by_session_id, revocation_reason, platform
	FROM panel.sessions
`

func scanRow(r pgx.Row) (Row, error) {
	var row Row
	err := r.Scan(
		&row.ID,
		&row.UserID,
		&row.RefreshTokenHash,
		&row.CreatedAt,
		&row.LastUsedAt,
		&row.ExpiresAt,
		&row.RevokedAt,
		&row.ReplacedBySessionID,
		&row.RevocationReason,
		&row.Platform,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

func (s *PostgresStore) Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, refreshHash string, expiresAt time.Time) (string, error) {
	return insertSession(ctx, s.pool, now, userID, dev, refreshHash, expiresAt)
}

func (s *PostgresStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	return scanRow(s.pool.QueryRow(ctx, selectRow+`WHERE id = $1`, sessionID))
}

// Rotate runs fn inside a transaction holding a row lock on the session.
func (s *PostgresStore) Rotate(ctx context.Context, refreshHash string, fn func(context.Context, Row, RotationTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row, err := scanRow(tx.QueryRow(ctx, selectRow+`WHERE refresh_token_hash = $1 FOR UPDATE`, refreshHash))
	if err != nil {
		return err
	}

	ferr := fn(ctx, row, pgRotationTx{tx: tx})
	if ferr != nil && !errors.Is(ferr, ErrRefreshReuseDetected) {
		return ferr
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	return ferr
}

func (s *PostgresStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE panel.sessions
		SET last_used_at = $2
		WHERE id = $1
	`, sessionID, now)
	return err
}

func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, sessionID, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE panel.sessions
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE id = $1
	`, sessionID, now, reason)
	return err
}

func (s *PostgresStore) RevokeAll(ctx context.Context, now time.Time, userID, reason string) error {
	return revokeAll(ctx, s.pool, now, userID, reason)
}

type pgRotationTx struct {
	tx pgx.Tx
}

func (t pgRotationTx) Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, refreshHash string, expiresAt time.Time) (string, error) {
	return insertSession(ctx, t.tx, now, userID, dev, refreshHash, expiresAt)
}

func (t pgRotationTx) MarkRotated(ctx context.Context, now time.Time, oldID, newID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE panel.sessions
		SET
			last_used_at = $2,
			revoked_at = $2,
			replaced_by_session_id = $3,
			revocation_reason = $4
		WHERE id = $1
	`, oldID, now, newID, ReasonRotation)
	return err
}

func (t pgRotationTx) RevokeAll(ctx context.Context, now time.Time, userID, reason string) error {
	return revokeAll(ctx, t.tx, now, userID, reason)
}

func insertSession(ctx context.Context, db execer, now time.Time, userID string, dev DeviceContext, refreshHash string, expiresAt time.Time) (string, error) {
	id := ids.New()
	_, err := db.Exec(ctx, `
		INSERT INTO panel.sessions (
			id, user_id, refresh_token_hash,
			created_at, last_used_at, expires_at,
			user_agent, ip, platform
		) VALUES (
			$1, $2, $3,
			$4, $4, $5,
			$6, $7, $8
		)
	`, id, userID, refreshHash, now, expiresAt, nullIfEmpty(dev.UserAgent), dev.IP, string(dev.Platform))
	if err != nil {
		return "", err
	}
	return id, nil
}

func revokeAll(ctx context.Context, db execer, now time.Time, userID, reason string) error {
	_, err := db.Exec(ctx, `
		UPDATE panel.sessions
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE user_id = $1
	`, userID, now, reason)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
