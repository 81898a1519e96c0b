package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/orchestra-mcp/socket/src/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func contextWithAuth(header string) *types.Context {
	ctx := types.NewContext(context.Background(), nil, "conn-1")
	if header != "" {
		ctx.Request.Header.Set("Authorization", header)
	}
	return ctx
}

func TestJWTMiddlewareValidToken(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	ctx := contextWithAuth("Bearer " + token)

	require.NoError(t, NewJWTMiddleware(testSecret, false).Handle(ctx))

	userID, identity, err := ClaimsResolver{}.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
	assert.Equal(t, "user-1", identity.UserID)
	assert.False(t, identity.Anonymous())
}

func TestJWTMiddlewareExpiredToken(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	err := NewJWTMiddleware(testSecret, true).Handle(contextWithAuth("Bearer " + token))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTMiddlewareWrongSecret(t *testing.T) {
	token := signToken(t, "other", jwt.MapClaims{"sub": "user-1"})
	err := NewJWTMiddleware(testSecret, false).Handle(contextWithAuth("Bearer " + token))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTMiddlewareRejectsOtherAlgorithms(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	err = NewJWTMiddleware(testSecret, false).Handle(contextWithAuth("Bearer " + token))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTMiddlewareMissingToken(t *testing.T) {
	assert.ErrorIs(t, NewJWTMiddleware(testSecret, false).Handle(contextWithAuth("")), ErrMissingToken)

	ctx := contextWithAuth("")
	require.NoError(t, NewJWTMiddleware(testSecret, true).Handle(ctx))

	userID, identity, err := ClaimsResolver{}.Resolve(ctx)
	require.NoError(t, err)
	assert.Empty(t, userID)
	assert.True(t, identity.Anonymous())
}

func TestJWTMiddlewareWithoutSecret(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "user-1"})

	err := NewJWTMiddleware("", false).Handle(contextWithAuth("Bearer " + token))
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, NewJWTMiddleware("", false).Handle(contextWithAuth("")), ErrMissingToken)
}

func TestJWTMiddlewareWithoutSecretTreatsTokenAsAbsent(t *testing.T) {
	for _, header := range []string{"", "Bearer ", "Bearer some-token"} {
		ctx := contextWithAuth(header)
		require.NoError(t, NewJWTMiddleware("", true).Handle(ctx), header)

		userID, identity, err := ClaimsResolver{}.Resolve(ctx)
		require.NoError(t, err)
		assert.Empty(t, userID)
		assert.True(t, identity.Anonymous())
	}
}

func TestJWTMiddlewareVerify(t *testing.T) {
	m := NewJWTMiddleware(testSecret, false)
	claims, err := m.Verify(signToken(t, testSecret, jwt.MapClaims{"sub": "user-2"}))
	require.NoError(t, err)
	assert.Equal(t, "user-2", claims["sub"])

	_, err = m.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = NewJWTMiddleware("", true).Verify("anything")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer abc"))
	assert.Empty(t, BearerToken("Basic abc"))
	assert.Empty(t, BearerToken("Bear"))
	assert.Empty(t, BearerToken(""))
}

func TestClaimsResolverUnexpectedType(t *testing.T) {
	ctx := contextWithAuth("")
	ctx.Set(ClaimsKey, "not-claims")
	_, _, err := ClaimsResolver{}.Resolve(ctx)
	assert.Error(t, err)
}
