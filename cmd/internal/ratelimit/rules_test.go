package ratelimit

import "testing"

func TestMatch_LongestPrefixWins(t *testing.T) {
	rules := DefaultRules()
	tests := []struct {
		path string
		want string
	}{
		{path: "/auth/login", want: "/auth/login"},
		{path: "/auth/logout_all", want: "/auth/logout"},
		{path: "/api/finance/reports/2026", want: "/api/finance"},
		{path: "/healthz", want: "default"},
		{path: "/", want: "default"},
	}
	for _, tc := range tests {
		r, ok := match(rules, tc.path)
		if !ok {
			t.Fatalf("match(%q): no rule", tc.path)
		}
		if r.name() != tc.want {
			t.Fatalf("match(%q) = %q, want %q", tc.path, r.name(), tc.want)
		}
	}

	if _, ok := match([]Rule{{Prefix: "/api", Max: 1}}, "/auth/login"); ok {
		t.Fatalf("expected no rule without a default")
	}
}
