package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minSecretLength = 16

// Claims are the session token payload.
type Claims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// Session is a freshly issued token.
type Session struct {
	Address   string    `json:"address"`
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenIssuer signs and checks HS256 session tokens. No server-side state is kept.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer builds an issuer with the given validity window.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("%w: jwt secret must be at least %d characters", ErrInvalidInput, minSecretLength)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: token ttl must be positive", ErrInvalidInput)
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for address valid from now for the configured TTL.
func (t *TokenIssuer) Issue(address string, now time.Time) (Session, error) {
	issued := now.UTC().Truncate(time.Second)
	expires := issued.Add(t.ttl)
	claims := Claims{
		Address: address,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   address,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign session token: %w", err)
	}
	return Session{Address: address, Token: signed, IssuedAt: issued, ExpiresAt: expires}, nil
}

// Parse validates a token and returns its claims.
func (t *TokenIssuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if !parsed.Valid || claims.Address == "" {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, errors.New("token carries no address"))
	}
	return claims, nil
}
