package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-voucher/internal/common"
)

func TestRequireAuthAttachesIdentity(t *testing.T) {
	s := newSigner(t)
	now := time.Now()
	v := newTestVerifier(t, s, now)
	token := s.sign(t, func(b *jwt.Builder) {
		b.Claim("auth_id", "driver-42").Expiration(now.Add(time.Hour))
	})

	var captured common.Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = common.IdentityFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	Middleware{Verifier: v}.RequireAuth(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body %s", rec.Code, rec.Body.String())
	}
	if captured.AuthID != "driver-42" {
		t.Fatalf("identity not attached: %+v", captured)
	}
	if captured.RawHeader != "Bearer "+token {
		t.Fatal("raw header not carried through context")
	}
}

func TestRequireAuthRejectsMissingHeader(t *testing.T) {
	s := newSigner(t)
	v := newTestVerifier(t, s, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	rec := httptest.NewRecorder()
	Middleware{Verifier: v}.RequireAuth(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("next handler must not run")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAdminRejectsPlainToken(t *testing.T) {
	s := newSigner(t)
	now := time.Now()
	v := newTestVerifier(t, s, now)
	token := s.sign(t, func(b *jwt.Builder) {
		b.Claim("auth_id", "driver-42").Expiration(now.Add(time.Hour))
	})

	req := httptest.NewRequest(http.MethodPut, "/api/discount", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	Middleware{Verifier: v}.RequireAdmin(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("next handler must not run")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRequireAdminAllowsAdminToken(t *testing.T) {
	s := newSigner(t)
	now := time.Now()
	v := newTestVerifier(t, s, now)
	token := s.sign(t, func(b *jwt.Builder) {
		b.Claim("auth_id", "admin-1").Claim("admin", true).Expiration(now.Add(time.Hour))
	})

	req := httptest.NewRequest(http.MethodPut, "/api/discount", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	Middleware{Verifier: v}.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestRequireAuthExpiredToken(t *testing.T) {
	s := newSigner(t)
	now := time.Now()
	v := newTestVerifier(t, s, now)
	token := s.sign(t, func(b *jwt.Builder) {
		b.Claim("auth_id", "driver-42").Expiration(now.Add(-time.Minute))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	Middleware{Verifier: v}.RequireAuth(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("next handler must not run")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
