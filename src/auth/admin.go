package auth

import (
	"crypto/subtle"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// AdminClaim is the boolean JWT claim that grants access to admin routes.
const AdminClaim = "admin"

var ErrForbidden = errors.New("admin privileges required")

// AdminAuthorizer checks bearer tokens presented to the admin API. A token
// is accepted when it equals the static admin token, or when it is a JWT
// signed with the server secret that carries AdminClaim set to true.
type AdminAuthorizer struct {
	static []byte
	jwt    *JWTMiddleware
}

// NewAdminAuthorizer returns nil when neither credential is configured,
// which leaves the admin API unmounted.
func NewAdminAuthorizer(staticToken, secret string) *AdminAuthorizer {
	if staticToken == "" && secret == "" {
		return nil
	}
	a := &AdminAuthorizer{static: []byte(staticToken)}
	if secret != "" {
		a.jwt = NewJWTMiddleware(secret, false)
	}
	return a
}

// Authorize returns ErrMissingToken, ErrInvalidToken or ErrForbidden when
// token does not grant admin access.
func (a *AdminAuthorizer) Authorize(token string) error {
	if token == "" {
		return ErrMissingToken
	}
	if len(a.static) > 0 && subtle.ConstantTimeCompare([]byte(token), a.static) == 1 {
		return nil
	}
	if a.jwt == nil {
		return ErrInvalidToken
	}
	claims, err := a.jwt.Verify(token)
	if err != nil {
		return err
	}
	if !IsAdmin(claims) {
		return ErrForbidden
	}
	return nil
}

// IsAdmin reports whether claims carry AdminClaim set to true.
func IsAdmin(claims jwt.MapClaims) bool {
	v, ok := claims[AdminClaim].(bool)
	return ok && v
}
