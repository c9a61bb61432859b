package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

type signer struct {
	private *rsa.PrivateKey
	pem     []byte
}

func newSigner(t *testing.T) signer {
	t.Helper()
	private, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&private.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return signer{private: private, pem: pemBytes}
}

func (s signer) sign(t *testing.T, build func(*jwt.Builder)) string {
	t.Helper()
	b := jwt.NewBuilder()
	build(b)
	tok, err := b.Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	key, err := jwk.FromRaw(s.private)
	if err != nil {
		t.Fatalf("wrap private key: %v", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return string(signed)
}

func newTestVerifier(t *testing.T, s signer, now time.Time) *Verifier {
	t.Helper()
	v, err := NewVerifier(s.pem)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v.WithNow(func() time.Time { return now })
}

func TestVerifyHeaderValidToken(t *testing.T) {
	s := newSigner(t)
	now := time.Now()
	v := newTestVerifier(t, s, now)

	token := s.sign(t, func(b *jwt.Builder) {
		b.Claim("auth_id", "driver-42").Expiration(now.Add(time.Hour))
	})
	claims, err := v.VerifyHeader("Bearer " + token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.AuthID != "driver-42" {
		t.Fatalf("expected auth_id driver-42, got %q", claims.AuthID)
	}
	if claims.Admin {
		t.Fatal("token without admin claim must not be admin")
	}
	if claims.RawHeader != "Bearer "+token {
		t.Fatal("raw header not preserved")
	}
}

func TestVerifyHeaderAdminClaim(t *testing.T) {
	s := newSigner(t)
	now := time.Now()
	v := newTestVerifier(t, s, now)

	token := s.sign(t, func(b *jwt.Builder) {
		b.Claim("auth_id", "admin-1").Claim("admin", true).Expiration(now.Add(time.Hour))
	})
	claims, err := v.VerifyHeader("Bearer " + token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := claims.RequireAdmin(); err != nil {
		t.Fatalf("expected admin claims, got %v", err)
	}
}

func TestVerifyHeaderMalformed(t *testing.T) {
	s := newSigner(t)
	v := newTestVerifier(t, s, time.Now())

	for _, header := range []string{"", "Bearer", "Bearer ", "bearer abc", "Token abc", "abc"} {
		if _, err := v.VerifyHeader(header); !errors.Is(err, ErrMalformedHeader) {
			t.Errorf("header %q: expected ErrMalformedHeader, got %v", header, err)
		}
	}
}

func TestVerifyHeaderWrongKey(t *testing.T) {
	s := newSigner(t)
	other := newSigner(t)
	now := time.Now()
	v := newTestVerifier(t, s, now)

	token := other.sign(t, func(b *jwt.Builder) {
		b.Claim("auth_id", "driver-42").Expiration(now.Add(time.Hour))
	})
	if _, err := v.VerifyHeader("Bearer " + token); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyHeaderExpired(t *testing.T) {
	s := newSigner(t)
	now := time.Now()
	v := newTestVerifier(t, s, now)

	token := s.sign(t, func(b *jwt.Builder) {
		b.Claim("auth_id", "driver-42").Expiration(now.Add(-time.Minute))
	})
	if _, err := v.VerifyHeader("Bearer " + token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyHeaderMissingExpiry(t *testing.T) {
	s := newSigner(t)
	v := newTestVerifier(t, s, time.Now())

	token := s.sign(t, func(b *jwt.Builder) {
		b.Claim("auth_id", "driver-42")
	})
	if _, err := v.VerifyHeader("Bearer " + token); !errors.Is(err, ErrMissingClaim) {
		t.Fatalf("expected ErrMissingClaim, got %v", err)
	}
}

func TestVerifyHeaderMissingAuthID(t *testing.T) {
	s := newSigner(t)
	now := time.Now()
	v := newTestVerifier(t, s, now)

	token := s.sign(t, func(b *jwt.Builder) {
		b.Expiration(now.Add(time.Hour))
	})
	if _, err := v.VerifyHeader("Bearer " + token); !errors.Is(err, ErrMissingClaim) {
		t.Fatalf("expected ErrMissingClaim, got %v", err)
	}
}

func TestRequireAdminRejectsNonAdmin(t *testing.T) {
	claims := Claims{AuthID: "driver-1"}
	if err := claims.RequireAdmin(); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}
