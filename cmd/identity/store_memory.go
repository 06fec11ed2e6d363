package identity

import (
	"context"
	"sync"
	"time"

	"panel/cmd/identity/ids"
)

// MemoryStore keeps accounts in process. Used in development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*UserAuth
	byNorm map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*UserAuth),
		byNorm: make(map[string]string),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, in NewUser) (User, error) {
	norm := NormalizeUsername(in.Username)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byNorm[norm]; taken {
		return User{}, ConflictError{Op: "identity.CreateUser", Field: "username"}
	}
	id, err := ids.NewAt(in.Now)
	if err != nil {
		return User{}, err
	}
	row := &UserAuth{
		User: User{
			ID:           id,
			Username:     in.Username,
			UsernameNorm: norm,
			DisplayName:  in.DisplayName,
			Role:         in.Role,
			CreatedAt:    in.Now,
		},
		PasswordHash: in.PasswordHash,
	}
	s.byID[id] = row
	s.byNorm[norm] = id
	return row.User, nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.byID[id]
	if !ok {
		return User{}, notFound("identity.GetUserByID")
	}
	return row.User, nil
}

func (s *MemoryStore) GetUserAuthByUsername(_ context.Context, username string) (UserAuth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byNorm[NormalizeUsername(username)]
	if !ok {
		return UserAuth{}, notFound("identity.GetUserAuthByUsername")
	}
	return *s.byID[id], nil
}

func (s *MemoryStore) RecordLogin(_ context.Context, id string, now time.Time) error {
	return s.update("identity.RecordLogin", id, func(u *UserAuth) {
		t := now
		u.LastLoginAt = &t
	})
}

func (s *MemoryStore) UpdatePasswordHash(_ context.Context, id, hash string, _ time.Time) error {
	return s.update("identity.UpdatePasswordHash", id, func(u *UserAuth) { u.PasswordHash = hash })
}

func (s *MemoryStore) SetDisabled(_ context.Context, id string, disabled bool, now time.Time) error {
	return s.update("identity.SetDisabled", id, func(u *UserAuth) {
		if !disabled {
			u.DisabledAt = nil
			return
		}
		if u.DisabledAt == nil {
			t := now
			u.DisabledAt = &t
		}
	})
}

func (s *MemoryStore) CountUsers(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

func (s *MemoryStore) update(op, id string, fn func(*UserAuth)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[id]
	if !ok {
		return notFound(op)
	}
	fn(row)
	return nil
}
