package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"panel/cmd/identity/ids"
)

// MemoryStore is an in-process Store. Rotation holds the store mutex for the
// whole callback, so rotations of the same token are serialised.
type MemoryStore struct {
	mu     sync.Mutex
	rows   map[string]*Row
	byHash map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:   make(map[string]*Row),
		byHash: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, now time.Time, userID string, dev DeviceContext, refreshHash string, expiresAt time.Time) (string, error) {
	row := newMemoryRow(now, userID, dev, refreshHash, expiresAt)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(row)
	return row.ID, nil
}

func (s *MemoryStore) GetByID(_ context.Context, sessionID string) (Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[sessionID]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return *row, nil
}

func (s *MemoryStore) Rotate(ctx context.Context, refreshHash string, fn func(context.Context, Row, RotationTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[refreshHash]
	if !ok {
		return ErrSessionNotFound
	}
	tx := &memoryTx{s: s}
	err := fn(ctx, *s.rows[id], tx)
	if err == nil || errors.Is(err, ErrRefreshReuseDetected) {
		for _, op := range tx.ops {
			op()
		}
	}
	return err
}

func (s *MemoryStore) Touch(_ context.Context, now time.Time, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[sessionID]; ok {
		t := now
		row.LastUsedAt = &t
	}
	return nil
}

func (s *MemoryStore) Revoke(_ context.Context, now time.Time, sessionID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[sessionID]; ok {
		revokeRow(row, now, reason)
	}
	return nil
}

func (s *MemoryStore) RevokeAll(_ context.Context, now time.Time, userID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeAllLocked(now, userID, reason)
	return nil
}

func (s *MemoryStore) insertLocked(row *Row) {
	s.rows[row.ID] = row
	s.byHash[row.RefreshTokenHash] = row.ID
}

func (s *MemoryStore) revokeAllLocked(now time.Time, userID, reason string) {
	for _, row := range s.rows {
		if row.UserID == userID {
			revokeRow(row, now, reason)
		}
	}
}

func newMemoryRow(now time.Time, userID string, dev DeviceContext, refreshHash string, expiresAt time.Time) *Row {
	created := now
	return &Row{
		ID:               ids.New(),
		UserID:           userID,
		RefreshTokenHash: refreshHash,
		CreatedAt:        now,
		LastUsedAt:       &created,
		ExpiresAt:        expiresAt,
		Platform:         dev.Platform,
	}
}

func revokeRow(row *Row, now time.Time, reason string) {
	if row.RevokedAt == nil {
		t := now
		row.RevokedAt = &t
	}
	if row.RevocationReason == nil {
		r := reason
		row.RevocationReason = &r
	}
}

// memoryTx stages writes until the rotation callback returns.
type memoryTx struct {
	s   *MemoryStore
	ops []func()
}

func (tx *memoryTx) Create(_ context.Context, now time.Time, userID string, dev DeviceContext, refreshHash string, expiresAt time.Time) (string, error) {
	row := newMemoryRow(now, userID, dev, refreshHash, expiresAt)
	tx.ops = append(tx.ops, func() { tx.s.insertLocked(row) })
	return row.ID, nil
}

func (tx *memoryTx) MarkRotated(_ context.Context, now time.Time, oldID, newID string) error {
	tx.ops = append(tx.ops, func() {
		row, ok := tx.s.rows[oldID]
		if !ok {
			return
		}
		t := now
		row.LastUsedAt = &t
		row.RevokedAt = &t
		next := newID
		row.ReplacedBySessionID = &next
		reason := ReasonRotation
		row.RevocationReason = &reason
	})
	return nil
}

func (tx *memoryTx) RevokeAll(_ context.Context, now time.Time, userID, reason string) error {
	tx.ops = append(tx.ops, func() { tx.s.revokeAllLocked(now, userID, reason) })
	return nil
}
