package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

// Claims are the access token claims.
type Claims struct {
	Email string       `json:"email"`
	Role  scraper.Role `json:"role"`
	jwt.RegisteredClaims
}

// Tokens signs and parses HS256 access tokens.
type Tokens struct {
	secret []byte
	now    func() time.Time
}

// NewTokens builds a signer. now may be nil.
func NewTokens(secret string, now func() time.Time) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Tokens{secret: []byte(secret), now: now}, nil
}

// Sign issues a token for user with id jti, valid for ttl.
func (t *Tokens) Sign(user scraper.User, jti string, ttl time.Duration) (string, time.Time, error) {
	issued := t.now().UTC().Truncate(time.Second)
	expires := issued.Add(ttl)
	claims := Claims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse validates the signature, algorithm and expiry of raw.
func (t *Tokens) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
