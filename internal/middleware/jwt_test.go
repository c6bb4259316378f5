package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writePublicKey(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "jwt.pub")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))
	return path
}

func jwtApp(t *testing.T, mw *JWTMiddleware) *fiber.App {
	t.Helper()
	return newTestApp(mw.Handler(), func(c *fiber.Ctx) error {
		c.Set("X-User", c.Locals("user_id").(string))
		return c.Next()
	})
}

func call(t *testing.T, app *fiber.App, auth string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("GET", "/x", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode, resp.Header.Get("X-User")
}

func TestJWTMiddlewareRSA(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	mw, err := NewJWTMiddleware(writePublicKey(t, key), "", zap.NewNop())
	require.NoError(t, err)
	app := jwtApp(t, mw)

	valid, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"user_id": "u-1",
		"exp":     time.Now().Add(time.Minute).Unix(),
	}).SignedString(key)
	require.NoError(t, err)
	status, user := call(t, app, "Bearer "+valid)
	assert.Equal(t, 200, status)
	assert.Equal(t, "u-1", user)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "u-1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString(key)
	require.NoError(t, err)
	status, _ = call(t, app, "Bearer "+expired)
	assert.Equal(t, 401, status)

	hmac, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u-1"}).SignedString([]byte("x"))
	require.NoError(t, err)
	status, _ = call(t, app, "Bearer "+hmac)
	assert.Equal(t, 401, status, "hmac token rejected when a public key is configured")

	status, _ = call(t, app, "")
	assert.Equal(t, 401, status)
	status, _ = call(t, app, "Basic dXNlcjpwYXNz")
	assert.Equal(t, 401, status)
}

func TestJWTMiddlewareSecret(t *testing.T) {
	mw, err := NewJWTMiddleware("", "s3cret", zap.NewNop())
	require.NoError(t, err)
	app := jwtApp(t, mw)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "admin"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	status, user := call(t, app, "Bearer "+token)
	assert.Equal(t, 200, status)
	assert.Equal(t, "admin", user)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "admin"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	status, _ = call(t, app, "Bearer "+noUser)
	assert.Equal(t, 401, status)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "admin"}).SignedString([]byte("other"))
	require.NoError(t, err)
	status, _ = call(t, app, "Bearer "+forged)
	assert.Equal(t, 401, status)
}

func TestNewJWTMiddlewareErrors(t *testing.T) {
	_, err := NewJWTMiddleware("", "", zap.NewNop())
	assert.Error(t, err)
	_, err = NewJWTMiddleware(filepath.Join(t.TempDir(), "missing.pem"), "", zap.NewNop())
	assert.Error(t, err)
}
