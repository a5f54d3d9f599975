package tools

import (
	"errors"
	"testing"
	"time"
)

func TestTokenSigner_MintVerify(t *testing.T) {
	s, err := NewTokenSigner("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	now := time.Now()

	tok, err := s.Mint("call-1", now)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := s.Verify(tok, "call-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestTokenSigner_WrongCall(t *testing.T) {
	s, _ := NewTokenSigner("test-secret", time.Hour)
	now := time.Now()

	tok, _ := s.Mint("call-1", now)
	if err := s.Verify(tok, "call-2", now); !errors.Is(err, ErrTokenCallMism) {
		t.Fatalf("err = %v, want ErrTokenCallMism", err)
	}
}

func TestTokenSigner_Expired(t *testing.T) {
	s, _ := NewTokenSigner("test-secret", time.Minute)
	now := time.Now()

	tok, _ := s.Mint("call-1", now)
	if err := s.Verify(tok, "call-1", now.Add(2*time.Minute)); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestTokenSigner_WrongSecret(t *testing.T) {
	a, _ := NewTokenSigner("secret-a", time.Hour)
	b, _ := NewTokenSigner("secret-b", time.Hour)
	now := time.Now()

	tok, _ := a.Mint("call-1", now)
	if err := b.Verify(tok, "call-1", now); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestTokenSigner_GarbageToken(t *testing.T) {
	s, _ := NewTokenSigner("test-secret", time.Hour)
	if err := s.Verify("not.a.jwt", "call-1", time.Now()); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestTokenSigner_RequiresSecret(t *testing.T) {
	if _, err := NewTokenSigner("", time.Hour); err == nil {
		t.Fatalf("empty secret must be rejected")
	}
}
