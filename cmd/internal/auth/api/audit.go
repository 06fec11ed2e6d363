package authapi

import (
	"context"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"panel/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit event names.
const (
	EventLoginFailed        = "auth.login.failed"
	EventLoginSuccess       = "auth.login.success"
	EventLoginRateLimited   = "auth.login.rate_limited"
	EventRefreshSuccess     = "auth.refresh.success"
	EventRefreshReuse       = "auth.refresh.reuse_detected"
	EventRefreshRateLimited = "auth.refresh.rate_limited"
	EventLogout             = "auth.logout"
	EventLogoutAll          = "auth.logout_all"
)

// AuditEvent is one row of the auth audit log.
type AuditEvent struct {
	At           time.Time
	Event        string
	UserID       string
	SessionID    string
	UsernameNorm string
	IP           net.IP
	UserAgent    string
	Reason       string
}

// FailureQuery selects failed logins. Exactly one of IP and UsernameNorm is
// set. Username failures recorded before the user's latest successful login
// are not returned.
type FailureQuery struct {
	IP           net.IP
	UsernameNorm string
	Since        time.Time
}

// AuditStore records auth events and answers the throttling queries.
type AuditStore interface {
	Record(ctx context.Context, ev AuditEvent) error
	LoginFailures(ctx context.Context, q FailureQuery) ([]time.Time, error)
}

// MemoryAuditStore keeps events in memory for Retention.
type MemoryAuditStore struct {
	Retention time.Duration

	mu     sync.Mutex
	events []AuditEvent
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{Retention: 24 * time.Hour}
}

func (s *MemoryAuditStore) Record(_ context.Context, ev AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cut := ev.At.Add(-s.Retention)
	s.events = slices.DeleteFunc(s.events, func(e AuditEvent) bool { return e.At.Before(cut) })
	s.events = append(s.events, ev)
	return nil
}

func (s *MemoryAuditStore) LoginFailures(_ context.Context, q FailureQuery) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	since := q.Since
	if q.UsernameNorm != "" {
		for _, e := range s.events {
			if e.Event == EventLoginSuccess && e.UsernameNorm == q.UsernameNorm && e.At.After(since) {
				since = e.At
			}
		}
	}

	var out []time.Time
	for _, e := range s.events {
		if e.Event != EventLoginFailed || !e.At.After(since) {
			continue
		}
		switch {
		case q.IP != nil && q.IP.Equal(e.IP):
			out = append(out, e.At)
		case q.UsernameNorm != "" && q.UsernameNorm == e.UsernameNorm:
			out = append(out, e.At)
		}
	}
	return out, nil
}

// Events returns a copy of everything recorded.
func (s *MemoryAuditStore) Events() []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

// PostgresAuditStore writes to <schema>.auth_audit.
type PostgresAuditStore struct {
	pool  *pgxpool.Pool
	table string
}

func NewPostgresAuditStore(pool *pgxpool.Pool) *PostgresAuditStore {
	return &PostgresAuditStore{
		pool:  pool,
		table: pgx.Identifier{"panel", "auth_audit"}.Sanitize(),
	}
}

func (s *PostgresAuditStore) Record(ctx context.Context, ev AuditEvent) error {
	var ip any
	if ev.IP != nil {
		ip = ev.IP.String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table+` (
			id, created_at, event, user_id, session_id, username_norm, ip, user_agent, reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, ids.New(), ev.At, ev.Event, trimOrNil(ev.UserID), trimOrNil(ev.SessionID),
		trimOrNil(ev.UsernameNorm), ip, trimOrNil(ev.UserAgent), trimOrNil(ev.Reason))
	return err
}

func (s *PostgresAuditStore) LoginFailures(ctx context.Context, q FailureQuery) ([]time.Time, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if q.UsernameNorm != "" {
		rows, err = s.pool.Query(ctx, `
			SELECT created_at FROM `+s.table+`
			WHERE event = $1 AND username_norm = $2 AND created_at > $3
			  AND created_at > COALESCE((
			      SELECT max(created_at) FROM `+s.table+`
			      WHERE event = $4 AND username_norm = $2
			  ), '-infinity'::timestamptz)
			ORDER BY created_at DESC
		`, EventLoginFailed, q.UsernameNorm, q.Since, EventLoginSuccess)
	} else {
		var ip any
		if q.IP != nil {
			ip = q.IP.String()
		}
		rows, err = s.pool.Query(ctx, `
			SELECT created_at FROM `+s.table+`
			WHERE event = $1 AND ip = $2::inet AND created_at > $3
			ORDER BY created_at DESC
		`, EventLoginFailed, ip, q.Since)
	}
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[time.Time])
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
