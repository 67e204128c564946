package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidSessionToken = errors.New("invalid session token")

// SessionClaims scope a minted token to one tunnel subdomain.
type SessionClaims struct {
	Subdomain string `json:"sub_label"`
	jwt.RegisteredClaims
}

// SessionTokens mints and validates the short-lived JWTs handed to tunnel
// clients on connect. Tokens are bound to the session deadline: a token
// never outlives the tunnel it was minted for.
type SessionTokens struct {
	secret []byte
}

// NewSessionTokens creates a token service. An empty secret generates a
// random per-process one, which is fine since tokens only need to survive
// as long as the process that minted them.
func NewSessionTokens(secret string) (*SessionTokens, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
	}
	return &SessionTokens{secret: key}, nil
}

// Mint issues a token for the given subdomain expiring at the session
// deadline.
func (s *SessionTokens) Mint(subdomain string, expiresAt time.Time) (string, error) {
	claims := SessionClaims{
		Subdomain: subdomain,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns the subdomain it is scoped to.
func (s *SessionTokens) Verify(tokenString string) (string, error) {
	var claims SessionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidSessionToken
	}
	if claims.Subdomain == "" {
		return "", ErrInvalidSessionToken
	}
	return claims.Subdomain, nil
}
