package auth

import (
	"strings"
	"testing"
)

func TestHashPasswordAndCheckPasswordBcrypt(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" || hash == "s3cret" {
		t.Fatalf("expected opaque hash, got %q", hash)
	}
	if !CheckPassword("s3cret", hash) {
		t.Fatalf("expected bcrypt password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected bcrypt password check to fail")
	}
	if CheckPassword("s3cret", "") {
		t.Fatalf("empty hash must never match")
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("abcdef"); err != nil {
		t.Fatalf("expected six characters to pass, got: %v", err)
	}
	if err := ValidatePassword("abcde"); err != ErrPasswordTooShort {
		t.Fatalf("expected short password to fail, got %v", err)
	}
	if err := ValidatePassword(strings.Repeat("a", 73)); err != ErrPasswordTooLong {
		t.Fatalf("expected long password to fail, got %v", err)
	}
	if !IsPasswordError(ErrPasswordTooShort) || IsPasswordError(nil) {
		t.Fatalf("IsPasswordError mismatch")
	}
}
