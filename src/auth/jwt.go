package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/orchestra-mcp/socket/src/types"
)

const (
	// ClaimsKey is the context key the middleware stores verified claims under.
	ClaimsKey = "auth.claims"

	bearerPrefix = "Bearer "
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// JWTMiddleware verifies the Authorization bearer token of the upgrade
// request and stores its claims on the connection context.
type JWTMiddleware struct {
	secret         []byte
	allowAnonymous bool
	parser         *jwt.Parser
}

// NewJWTMiddleware verifies HS256 tokens signed with secret. When
// allowAnonymous is set, requests without a token pass through unauthenticated.
func NewJWTMiddleware(secret string, allowAnonymous bool) *JWTMiddleware {
	return &JWTMiddleware{
		secret:         []byte(secret),
		allowAnonymous: allowAnonymous,
		parser:         jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Handle implements types.Middleware. Without a signing secret no token can
// be verified, so tokens are ignored when anonymous access is allowed.
func (m *JWTMiddleware) Handle(ctx *types.Context) error {
	token := BearerToken(ctx.Request.Header.Get("Authorization"))
	if token == "" || len(m.secret) == 0 {
		if m.allowAnonymous {
			return nil
		}
		if token == "" {
			return ErrMissingToken
		}
	}

	claims, err := m.Verify(token)
	if err != nil {
		return err
	}
	ctx.Set(ClaimsKey, claims)
	return nil
}

// Verify checks the signature and registered claims of token.
func (m *JWTMiddleware) Verify(token string) (jwt.MapClaims, error) {
	if len(m.secret) == 0 {
		return nil, fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}
	claims := jwt.MapClaims{}
	_, err := m.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

// ClaimsResolver resolves the identity from claims left by JWTMiddleware.
// Connections without claims resolve to the anonymous identity.
type ClaimsResolver struct{}

// Resolve implements types.IdentityResolver.
func (ClaimsResolver) Resolve(ctx *types.Context) (string, types.Identity, error) {
	v, ok := ctx.Get(ClaimsKey)
	if !ok {
		return "", types.Identity{}, nil
	}
	claims, ok := v.(jwt.MapClaims)
	if !ok {
		return "", types.Identity{}, fmt.Errorf("unexpected claims type %T", v)
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", types.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return sub, types.Identity{UserID: sub, Claims: claims}, nil
}
