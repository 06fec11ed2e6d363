package password

import (
	"errors"
	"strings"
	"testing"
)

// fastConfig keeps argon2 cheap enough for unit tests.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestHashAndVerify(t *testing.T) {
	cfg := fastConfig()

	h, err := cfg.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(h, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding: %s", h)
	}

	ok, err := cfg.Verify(h, "correct horse battery staple")
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	ok, err = cfg.Verify(h, "wrong horse battery staple")
	if err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	cfg := fastConfig()
	for _, h := range []string{
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHQ$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$a2V5",
	} {
		ok, err := cfg.Verify(h, "whatever")
		if !errors.Is(err, ErrInvalidHash) || ok {
			t.Fatalf("%q: expected ErrInvalidHash, got ok=%v err=%v", h, ok, err)
		}
	}
}

func TestVerify_RefusesExpensiveHash(t *testing.T) {
	strong := fastConfig()
	strong.Params.Iterations = 5
	h, err := strong.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if _, err := fastConfig().Verify(h, "correct horse battery staple"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash for over-budget hash, got %v", err)
	}
}

func TestNeedsRehash(t *testing.T) {
	weak := fastConfig()
	h, err := weak.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if weak.NeedsRehash(h) {
		t.Fatalf("same params must not need a rehash")
	}
	stronger := weak
	stronger.Params.Iterations = 2
	if !stronger.NeedsRehash(h) {
		t.Fatalf("expected rehash after raising iterations")
	}
	if !weak.NeedsRehash("garbage") {
		t.Fatalf("expected rehash for malformed hash")
	}
}

func TestVerifyDummy(t *testing.T) {
	cfg := fastConfig()
	cfg.VerifyDummy("anything")
	cfg.VerifyDummy("anything else")
}

func TestValidate(t *testing.T) {
	cfg := fastConfig()
	cfg.Policy.MinLength = 8
	cfg.Policy.MaxLength = 16
	cfg.Policy.RejectVeryWeak = true

	tests := []struct {
		pw   string
		want error
	}{
		{"short", ErrPasswordTooShort},
		{"this password is definitely too long", ErrPasswordTooLong},
		{"password", ErrWeakPassword},
		{"PANEL123", ErrWeakPassword},
		{"11111111", ErrWeakPassword},
		{"aaaaaaaaaa", ErrWeakPassword},
		{"12345670", ErrWeakPassword},
		{"a-very-ok-pass", nil},
		{"ünïcödé-pass", nil},
	}
	for _, tc := range tests {
		if err := cfg.Validate(tc.pw); !errors.Is(err, tc.want) {
			t.Fatalf("Validate(%q) = %v, want %v", tc.pw, err, tc.want)
		}
	}
}

func BenchmarkVerify_DefaultConfig(b *testing.B) {
	cfg := DefaultConfig()
	pw := "this is a strong password 123!"
	h, err := cfg.Hash(pw)
	if err != nil {
		b.Fatalf("Hash error: %v", err)
	}

	b.ResetTimer()
	for b.Loop() {
		if ok, err := cfg.Verify(h, pw); err != nil || !ok {
			b.Fatalf("Verify failed: ok=%v err=%v", ok, err)
		}
	}
}
