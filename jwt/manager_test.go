package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

func newHSManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()

	m, err := NewManager(Config{
		OperationTTL:  ttl,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("test-signing-key"),
		Issuer:        "authflow",
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestManagerConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero ttl", Config{SigningMethod: MethodHS256, PrivateKey: []byte("k")}},
		{"negative leeway", Config{OperationTTL: time.Minute, Leeway: -time.Second, SigningMethod: MethodHS256, PrivateKey: []byte("k")}},
		{"excessive leeway", Config{OperationTTL: time.Minute, Leeway: 3 * time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("k")}},
		{"hs256 no key", Config{OperationTTL: time.Minute, SigningMethod: MethodHS256}},
		{"ed25519 no public key", Config{OperationTTL: time.Minute, SigningMethod: MethodEd25519}},
		{"ed25519 bad public key", Config{OperationTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: []byte("short")}},
		{"unknown method", Config{OperationTTL: time.Minute, SigningMethod: SigningMethod("rs512")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewManager(tc.cfg); err == nil {
				t.Fatal("expected configuration error")
			}
		})
	}
}

func TestManagerHS256RoundTrip(t *testing.T) {
	m := newHSManager(t, 5*time.Minute)

	token, err := m.CreateOperation("alice@example.com", "password_reset", "jti-1")
	if err != nil {
		t.Fatalf("CreateOperation failed: %v", err)
	}

	claims, err := m.ParseOperation(token)
	if err != nil {
		t.Fatalf("ParseOperation failed: %v", err)
	}
	if claims.Email != "alice@example.com" {
		t.Fatalf("Email = %q", claims.Email)
	}
	if claims.Kind != "password_reset" {
		t.Fatalf("Kind = %q", claims.Kind)
	}
	if claims.ID != "jti-1" {
		t.Fatalf("ID = %q", claims.ID)
	}
	if claims.Issuer != "authflow" {
		t.Fatalf("Issuer = %q", claims.Issuer)
	}
}

func TestManagerEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	m, err := NewManager(Config{
		OperationTTL:  time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, err := m.CreateOperation("alice@example.com", "email_change", "jti-ed")
	if err != nil {
		t.Fatalf("CreateOperation failed: %v", err)
	}
	claims, err := m.ParseOperation(token)
	if err != nil {
		t.Fatalf("ParseOperation failed: %v", err)
	}
	if claims.Kind != "email_change" {
		t.Fatalf("Kind = %q", claims.Kind)
	}
}

func TestManagerRejectsExpiredToken(t *testing.T) {
	m := newHSManager(t, time.Millisecond)

	token, err := m.CreateOperation("alice@example.com", "password_reset", "jti-exp")
	if err != nil {
		t.Fatalf("CreateOperation failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if _, err := m.ParseOperation(token); err == nil {
		t.Fatal("expected expiry rejection")
	}
}

func TestManagerRejectsWrongKey(t *testing.T) {
	m := newHSManager(t, time.Minute)
	token, err := m.CreateOperation("alice@example.com", "password_reset", "jti-2")
	if err != nil {
		t.Fatalf("CreateOperation failed: %v", err)
	}

	other, err := NewManager(Config{
		OperationTTL:  time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("a-different-key"),
		Issuer:        "authflow",
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if _, err := other.ParseOperation(token); err == nil {
		t.Fatal("expected signature rejection")
	}
}

func TestManagerRejectsWrongIssuer(t *testing.T) {
	signer, err := NewManager(Config{
		OperationTTL:  time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("test-signing-key"),
		Issuer:        "someone-else",
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	token, err := signer.CreateOperation("alice@example.com", "password_reset", "jti-3")
	if err != nil {
		t.Fatalf("CreateOperation failed: %v", err)
	}

	m := newHSManager(t, time.Minute)
	if _, err := m.ParseOperation(token); err == nil {
		t.Fatal("expected issuer rejection")
	}
}

func TestManagerRequiresJTI(t *testing.T) {
	m := newHSManager(t, time.Minute)
	if _, err := m.CreateOperation("alice@example.com", "password_reset", ""); err == nil {
		t.Fatal("expected jti requirement")
	}
}

func TestManagerRejectsGarbage(t *testing.T) {
	m := newHSManager(t, time.Minute)
	for _, token := range []string{"", "abc", "a.b.c"} {
		if _, err := m.ParseOperation(token); err == nil {
			t.Fatalf("token %q accepted", token)
		}
	}
}
