package proxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fathima-sithara/discovery-gateway/internal/gwerrors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthProvider supplies the bearer credential the gateway presents to
// backends.
type AuthProvider interface {
	Credential(ctx context.Context) (string, error)
}

// StaticCredential is a fixed shared secret. The empty value sends no
// Authorization header of its own.
type StaticCredential string

func (s StaticCredential) Credential(context.Context) (string, error) {
	return string(s), nil
}

// JWTCredential mints short-lived HS256 service tokens and reuses each one
// until it is close to expiring.
type JWTCredential struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewJWTCredential(secret, issuer string, ttl time.Duration) (*JWTCredential, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: empty jwt secret", gwerrors.ErrCredential)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: jwt ttl must be positive", gwerrors.ErrCredential)
	}
	return &JWTCredential{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

func (j *JWTCredential) Credential(context.Context) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	// renew once four fifths of the lifetime are used up
	if j.token != "" && now.Before(j.expires.Add(-j.ttl/5)) {
		return j.token, nil
	}

	expires := now.Add(j.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    j.issuer,
		Subject:   j.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("%w: sign service token: %v", gwerrors.ErrCredential, err)
	}
	j.token = signed
	j.expires = expires
	return signed, nil
}
