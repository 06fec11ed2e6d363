package ratelimit

import (
	"strings"
	"time"
)

// Rule limits requests whose path starts with Prefix to Max per Window.
// The rule with an empty Prefix is the default.
type Rule struct {
	Prefix string
	Window time.Duration
	Max    int64
}

func (r Rule) name() string {
	if r.Prefix == "" {
		return "default"
	}
	return r.Prefix
}

// DefaultRules is the panel's request budget.
func DefaultRules() []Rule {
	return []Rule{
		{Prefix: "/auth/login", Window: 15 * time.Minute, Max: 5},
		{Prefix: "/auth/refresh", Window: time.Minute, Max: 30},
		{Prefix: "/auth/logout", Window: time.Minute, Max: 10},
		{Prefix: "/api/members", Window: time.Minute, Max: 30},
		{Prefix: "/api/donations", Window: time.Minute, Max: 20},
		{Prefix: "/api/finance", Window: time.Minute, Max: 15},
		{Prefix: "/api/admin", Window: time.Minute, Max: 10},
		{Prefix: "", Window: time.Minute, Max: 60},
	}
}

// match returns the rule with the longest prefix of path.
func match(rules []Rule, path string) (Rule, bool) {
	var (
		best  Rule
		found bool
	)
	for _, r := range rules {
		if !strings.HasPrefix(path, r.Prefix) {
			continue
		}
		if !found || len(r.Prefix) > len(best.Prefix) {
			best, found = r, true
		}
	}
	return best, found
}
