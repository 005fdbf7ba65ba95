package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashPasswordProducesSaltedBcrypt(t *testing.T) {
	const password = "Harbor-Light42"
	first, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if !strings.HasPrefix(first, "$2a$") {
		t.Fatalf("expected bcrypt $2a$ hash, got %q", first)
	}
	if cost, err := bcrypt.Cost([]byte(first)); err != nil || cost != bcrypt.DefaultCost {
		t.Fatalf("cost = %d (%v), want %d", cost, err, bcrypt.DefaultCost)
	}
	second, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hash password again: %v", err)
	}
	if first == second {
		t.Fatalf("hashes of the same password must differ by salt")
	}
	if !CheckPassword(password, first) || !CheckPassword(password, second) {
		t.Fatalf("both hashes must verify the password")
	}
}

func TestCheckPasswordRejects(t *testing.T) {
	hash, err := HashPassword("Harbor-Light42")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	cases := map[string]struct{ password, hash string }{
		"wrong password": {"harbor-light42", hash},
		"trailing space": {"Harbor-Light42 ", hash},
		"empty hash":     {"Harbor-Light42", ""},
		"not a hash":     {"Harbor-Light42", "Harbor-Light42"},
		"truncated hash": {"Harbor-Light42", hash[:len(hash)-4]},
	}
	for name, tc := range cases {
		if CheckPassword(tc.password, tc.hash) {
			t.Fatalf("%s: expected check to fail", name)
		}
	}
}

func TestValidatePasswordRules(t *testing.T) {
	cases := []struct {
		name     string
		password string
		wantErr  string
	}{
		{"minimum length", "Abcdefgh12#x", ""},
		{"long passphrase", "Harbor-Light42", ""},
		{"too short", "Ab1!short", "at least 12 characters"},
		{"counts runes not bytes", "Ääääää1!bbb", "at least 12 characters"},
		{"no uppercase", "lowercase123!", "uppercase letter"},
		{"no lowercase", "UPPERCASE123!", "lowercase letter"},
		{"no digit", "NoDigitsHere!!", "digit"},
		{"no special", "NoSpecials1234", "special character"},
	}
	for _, tc := range cases {
		err := ValidatePassword(tc.password)
		if tc.wantErr == "" {
			if err != nil {
				t.Fatalf("%s: expected %q to pass, got %v", tc.name, tc.password, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.wantErr, err)
		}
	}
}
