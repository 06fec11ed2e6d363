package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"panel/cmd/security/password"
)

// CreateUserInput is an account registration request.
type CreateUserInput struct {
	Username    string
	DisplayName string
	Role        Role
	Password    string
	Now         time.Time
}

// Accounts applies password policy on top of a Store.
type Accounts struct {
	store Store
	pw    password.Config
	log   *slog.Logger
}

func NewAccounts(store Store, pw password.Config, log *slog.Logger) *Accounts {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Accounts{store: store, pw: pw, log: log}
}

// Store returns the underlying store.
func (a *Accounts) Store() Store { return a.store }

func (a *Accounts) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if !ValidUsername(in.Username) {
		return User{}, invalid(op, "username must be 3-32 characters of a-z, 0-9, '.', '_' or '-'")
	}
	if !in.Role.Valid() {
		return User{}, invalid(op, "unknown role")
	}
	hash, err := a.pw.Hash(in.Password)
	if err != nil {
		return User{}, invalid(op, err.Error())
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	display := strings.TrimSpace(in.DisplayName)
	if display == "" {
		display = strings.TrimSpace(in.Username)
	}

	return a.store.CreateUser(ctx, NewUser{
		Username:     strings.TrimSpace(in.Username),
		DisplayName:  display,
		Role:         in.Role,
		PasswordHash: hash,
		Now:          now,
	})
}

// Authenticate checks a username and password. Unknown users and wrong
// passwords both yield ErrInvalidCredentials after comparable work; a
// disabled account yields ErrNotActive once the password has matched.
func (a *Accounts) Authenticate(ctx context.Context, username, pw string, now time.Time) (User, error) {
	const op = "identity.Authenticate"

	auth, err := a.store.GetUserAuthByUsername(ctx, NormalizeUsername(username))
	if err != nil {
		if !IsNotFound(err) {
			return User{}, err
		}
		a.pw.VerifyDummy(pw)
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	ok, err := a.pw.Verify(auth.PasswordHash, pw)
	if err != nil {
		if errors.Is(err, password.ErrInvalidHash) {
			a.log.Error("identity.password_hash.invalid", "user_id", auth.ID)
			return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
		}
		return User{}, err
	}
	if !ok {
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}
	if !auth.Active() {
		return User{}, OpError{Op: op, Kind: ErrNotActive, Msg: "account disabled"}
	}

	if a.pw.NeedsRehash(auth.PasswordHash) {
		if hash, err := a.pw.Hash(pw); err == nil {
			if err := a.store.UpdatePasswordHash(ctx, auth.ID, hash, now); err != nil {
				a.log.Warn("identity.rehash.fail", "user_id", auth.ID, "err", err)
			}
		}
	}
	if err := a.store.RecordLogin(ctx, auth.ID, now); err != nil {
		a.log.Warn("identity.record_login.fail", "user_id", auth.ID, "err", err)
	}
	return auth.User, nil
}

// EnsureBootstrapAdmin creates an admin account when the store is empty.
// It reports whether an account was created.
func (a *Accounts) EnsureBootstrapAdmin(ctx context.Context, username, pw string) (bool, error) {
	n, err := a.store.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	u, err := a.CreateUser(ctx, CreateUserInput{Username: username, Role: RoleAdmin, Password: pw})
	if err != nil {
		if IsConflict(err) {
			return false, nil
		}
		return false, err
	}
	a.log.Info("identity.bootstrap_admin.created", "user_id", u.ID, "username", u.Username)
	return true, nil
}
