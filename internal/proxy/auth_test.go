package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/fathima-sithara/discovery-gateway/internal/gwerrors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticCredential(t *testing.T) {
	cred, err := StaticCredential("shared").Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "shared", cred)
}

func TestNewJWTCredentialValidation(t *testing.T) {
	_, err := NewJWTCredential("", "gw", time.Minute)
	assert.ErrorIs(t, err, gwerrors.ErrCredential)
	_, err = NewJWTCredential("secret", "gw", 0)
	assert.ErrorIs(t, err, gwerrors.ErrCredential)
}

func TestJWTCredentialMintsAndCaches(t *testing.T) {
	j, err := NewJWTCredential("secret", "api-gateway", 5*time.Minute)
	require.NoError(t, err)
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j.now = func() time.Time { return clock }

	first, err := j.Credential(context.Background())
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(first, claims, func(t *jwt.Token) (any, error) {
		return []byte("secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(func() time.Time { return clock }))
	require.NoError(t, err)
	assert.Equal(t, "api-gateway", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.True(t, clock.Add(5*time.Minute).Equal(claims.ExpiresAt.Time))

	clock = clock.Add(3 * time.Minute)
	again, err := j.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, again, "token reused before renewal point")

	clock = clock.Add(90 * time.Second)
	renewed, err := j.Credential(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, renewed)
}
