package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Credential failures, ordered from outermost to innermost check. Every
// mutating or privacy-sensitive operation runs behind these.
var (
	ErrMalformedHeader  = errors.New("auth: authorization header is not a bearer credential")
	ErrInvalidSignature = errors.New("auth: token signature or structure invalid")
	ErrExpired          = errors.New("auth: token expired")
	ErrMissingClaim     = errors.New("auth: token missing required claim")
	ErrForbidden        = errors.New("auth: admin privileges required")
)

const bearerPrefix = "Bearer "

// Claims is the verified identity extracted from a bearer token.
type Claims struct {
	AuthID    string
	Admin     bool
	ExpiresAt time.Time
	// RawHeader preserves the presented Authorization value so downstream
	// calls to the wallet service can forward it unchanged.
	RawHeader string
}

// RequireAdmin rejects claims that do not carry a non-null admin marker.
func (c Claims) RequireAdmin() error {
	if !c.Admin {
		return ErrForbidden
	}
	return nil
}

// Verifier validates bearer tokens against an RSA public key.
type Verifier struct {
	key jwk.Key
	now func() time.Time
}

// NewVerifier constructs a Verifier from a PEM-encoded RSA public key.
func NewVerifier(publicKeyPEM []byte) (*Verifier, error) {
	key, err := jwk.ParseKey(publicKeyPEM, jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	return &Verifier{key: key, now: time.Now}, nil
}

// WithNow overrides the time source. Used by tests.
func (v *Verifier) WithNow(now func() time.Time) *Verifier {
	if now != nil {
		v.now = now
	}
	return v
}

// VerifyHeader validates an Authorization header value and extracts claims.
// The header must match the literal pattern "Bearer <token>"; the token must
// be RS256-signed by the configured key, unexpired, and carry both an expiry
// and an auth_id claim.
func (v *Verifier) VerifyHeader(header string) (Claims, error) {
	token, ok := strings.CutPrefix(header, bearerPrefix)
	if !ok || strings.TrimSpace(token) == "" {
		return Claims{}, ErrMalformedHeader
	}

	tok, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.RS256, v.key),
		jwt.WithValidate(false),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}

	if _, present := tok.Get(jwt.ExpirationKey); !present {
		return Claims{}, fmt.Errorf("%w: exp", ErrMissingClaim)
	}
	if tok.Expiration().Before(v.now()) {
		return Claims{}, ErrExpired
	}

	claims := Claims{ExpiresAt: tok.Expiration(), RawHeader: header}
	raw, present := tok.Get("auth_id")
	if !present {
		return Claims{}, fmt.Errorf("%w: auth_id", ErrMissingClaim)
	}
	authID, ok := raw.(string)
	if !ok || strings.TrimSpace(authID) == "" {
		return Claims{}, fmt.Errorf("%w: auth_id", ErrMissingClaim)
	}
	claims.AuthID = authID

	if admin, present := tok.Get("admin"); present && admin != nil {
		claims.Admin = true
	}
	return claims, nil
}
