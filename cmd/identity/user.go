package identity

import (
	"regexp"
	"strings"
	"time"
)

// Role is what an account may do in the panel.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleManager   Role = "manager"
	RoleVolunteer Role = "volunteer"
)

var roleRank = map[Role]int{
	RoleVolunteer: 1,
	RoleManager:   2,
	RoleAdmin:     3,
}

func (r Role) Valid() bool { return roleRank[r] > 0 }

// AtLeast reports whether r grants everything other does.
func (r Role) AtLeast(other Role) bool {
	return r.Valid() && roleRank[r] >= roleRank[other]
}

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// User is a panel account.
type User struct {
	ID           string
	Username     string
	UsernameNorm string
	DisplayName  string
	Role         Role
	CreatedAt    time.Time
	LastLoginAt  *time.Time
	DisabledAt   *time.Time
}

func (u User) Active() bool { return u.DisabledAt == nil }

// UserAuth is a User plus its password hash, for sign-in only.
type UserAuth struct {
	User
	PasswordHash string
}

var usernameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{2,31}$`)

// NormalizeUsername canonicalises a username for lookups and uniqueness.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidUsername reports whether the normalised form of s is 3 to 32
// characters of [a-z0-9._-] starting with a letter or digit.
func ValidUsername(s string) bool {
	return usernameRe.MatchString(NormalizeUsername(s))
}
