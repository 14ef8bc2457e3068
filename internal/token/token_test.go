package token

import (
	"testing"

	"terminal-log-sync/internal/config"
)

func setSecret(t *testing.T, secret string) {
	t.Helper()
	old := config.Cfg
	config.Cfg = &config.Config{Secret: secret, TokenTTL: 1}
	t.Cleanup(func() { config.Cfg = old })
}

func TestTokenRoundTrip(t *testing.T) {
	setSecret(t, "test-secret")

	signed, err := New(NewAPIClaim("alice"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := VerifyAPIToken(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Operator != "alice" {
		t.Fatalf("unexpected operator: %q", claims.Operator)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		t.Fatal("registered claims missing")
	}
}

func TestVerify_RejectsTampered(t *testing.T) {
	setSecret(t, "test-secret")

	signed, err := New(NewAPIClaim("alice"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := VerifyAPIToken(signed + "x"); err == nil {
		t.Fatal("tampered token must not verify")
	}
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	setSecret(t, "first-secret")
	signed, err := New(NewAPIClaim("alice"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	setSecret(t, "second-secret")
	if _, err := VerifyAPIToken(signed); err == nil {
		t.Fatal("token signed under another secret must not verify")
	}
}

func TestVerify_Garbage(t *testing.T) {
	setSecret(t, "test-secret")

	if _, err := VerifyAPIToken("not-a-token"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}
