package middleware

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fathima-sithara/discovery-gateway/internal/gwerrors"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// JWTMiddleware rejects requests without a valid bearer token. Tokens are
// checked against an RSA public key or, when no key is configured, an HMAC
// secret.
type JWTMiddleware struct {
	pubKey *rsa.PublicKey
	secret []byte
	log    *zap.Logger
}

func NewJWTMiddleware(pubKeyPath, secret string, logger *zap.Logger) (*JWTMiddleware, error) {
	j := &JWTMiddleware{log: logger}
	switch {
	case pubKeyPath != "":
		data, err := os.ReadFile(pubKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read jwt public key: %w", err)
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM(data)
		if err != nil {
			return nil, fmt.Errorf("parse jwt public key: %w", err)
		}
		j.pubKey = pub
	case secret != "":
		j.secret = []byte(secret)
	default:
		return nil, errors.New("jwt middleware needs a public key or a secret")
	}
	return j, nil
}

func (j *JWTMiddleware) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		auth := c.Get(fiber.HeaderAuthorization)
		if auth == "" {
			return fmt.Errorf("%w: missing authorization", gwerrors.ErrUnauthorized)
		}
		tokenStr, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || tokenStr == "" {
			return fmt.Errorf("%w: invalid authorization header", gwerrors.ErrUnauthorized)
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, j.key, jwt.WithValidMethods(j.methods()))
		if err != nil || !token.Valid {
			j.log.Debug("jwt invalid", zap.Error(err))
			return fmt.Errorf("%w: invalid or expired token", gwerrors.ErrUnauthorized)
		}

		// prefer "user_id" then "sub"
		var uid string
		if v, ok := claims["user_id"].(string); ok && v != "" {
			uid = v
		} else if v, ok := claims["sub"].(string); ok && v != "" {
			uid = v
		} else {
			return fmt.Errorf("%w: missing user id in token", gwerrors.ErrUnauthorized)
		}

		c.Locals("user_id", uid)
		c.Locals("claims", claims)
		return c.Next()
	}
}

func (j *JWTMiddleware) key(*jwt.Token) (any, error) {
	if j.pubKey != nil {
		return j.pubKey, nil
	}
	return j.secret, nil
}

func (j *JWTMiddleware) methods() []string {
	if j.pubKey != nil {
		return []string{"RS256", "RS384", "RS512"}
	}
	return []string{"HS256", "HS384", "HS512"}
}
