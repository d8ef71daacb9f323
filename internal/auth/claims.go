package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// claimsPolicy is what a parsed operator token must satisfy before its
// subject and role are trusted.
type claimsPolicy struct {
	issuer   string
	audience string
	skew     time.Duration
}

// verify checks the signing algorithm, issuer, audience and validity window,
// then extracts the operator identity. Tokens without an expiry, a subject or
// a known role are rejected.
func (p claimsPolicy) verify(tok jwt.Token, alg jwa.SignatureAlgorithm, now time.Time) (Claims, error) {
	if tok == nil {
		return Claims{}, errors.New("auth: token is nil")
	}
	if alg != jwa.HS256 {
		return Claims{}, fmt.Errorf("auth: unexpected token algorithm %q", alg)
	}

	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
		jwt.WithAcceptableSkew(p.skew),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	if p.audience != "" {
		opts = append(opts, jwt.WithAudience(p.audience))
	}
	if err := jwt.Validate(tok, opts...); err != nil {
		return Claims{}, err
	}

	subject := strings.TrimSpace(tok.Subject())
	if subject == "" {
		return Claims{}, errors.New("auth: token missing subject")
	}
	role := RoleFrontDesk
	if raw, ok := tok.Get(roleClaim); ok {
		s, _ := raw.(string)
		if !knownRole(s) {
			return Claims{}, fmt.Errorf("auth: unknown role %v", raw)
		}
		role = s
	}
	return Claims{Subject: subject, Role: role, ExpiresAt: tok.Expiration()}, nil
}

func knownRole(role string) bool {
	return role == RoleFrontDesk || role == RoleAdmin
}
